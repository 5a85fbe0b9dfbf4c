package niconico

import (
	"strings"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"nicotsm/internal"
)

// Endpoints lists the upstream URLs. Search contains a {service} placeholder.
type Endpoints struct {
	Login       string
	Logout      string
	Reservation string
	Search      string
	PPV         string
	ServerTime  string
}

// DefaultEndpoints returns the production endpoints
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Login:       "https://account.nicovideo.jp/api/v1/login",
		Logout:      "https://secure.nicovideo.jp/secure/logout",
		Reservation: "https://live.nicovideo.jp/api/watchingreservation",
		Search:      "https://api.search.nicovideo.jp/api/v2/{service}/contents/search",
		PPV:         "https://ch.nicovideo.jp/ppv_live",
		ServerTime:  "https://live.nicovideo.jp/api/getservertime",
	}
}

// EndpointsAt maps every endpoint onto one base URL, keeping the upstream paths
func EndpointsAt(base string) Endpoints {
	base = strings.TrimSuffix(base, "/")
	return Endpoints{
		Login:       base + "/api/v1/login",
		Logout:      base + "/secure/logout",
		Reservation: base + "/api/watchingreservation",
		Search:      base + "/api/v2/{service}/contents/search",
		PPV:         base + "/ppv_live",
		ServerTime:  base + "/api/getservertime",
	}
}

func (e Endpoints) searchURL(service string) string {
	return strings.ReplaceAll(e.Search, "{service}", service)
}

// Client talks to the Niconico services on top of a Session
type Client struct {
	session    *Session
	credential internal.Credential
	endpoints  Endpoints
	ppvCache   *cache.Cache
	logger     zerolog.Logger
}

var _ internal.TimeshiftClient = (*Client)(nil)

// NewClient creates a client. PPV lookups are memoized for the client lifetime.
func NewClient(session *Session, credential internal.Credential, endpoints Endpoints) *Client {
	return &Client{
		session:    session,
		credential: credential,
		endpoints:  endpoints,
		ppvCache:   cache.New(cache.NoExpiration, 0),
		logger:     internal.WithComponent("niconico"),
	}
}

// Session returns the underlying session
func (c *Client) Session() *Session {
	return c.session
}
