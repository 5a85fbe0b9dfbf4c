package niconico

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	cookiejar "github.com/juju/persistent-cookiejar"
	"golang.org/x/net/publicsuffix"

	"nicotsm/utils"
)

const (
	netscapeHeader  = "# Netscape HTTP Cookie File"
	httpOnlyPrefix  = "#HttpOnly_"
	cookieFileMode  = 0600
	sessionNoExpiry = "0"
)

// The jar reports session cookies with a far-future expiry
var sessionHorizon = time.Date(9000, time.January, 1, 0, 0, 0, 0, time.UTC)

// CookieStore is an http.CookieJar that can be persisted to a Netscape
// cookie file. It is the only durable state of a session. Matching rules
// are those of the underlying jar; the store adds the file format.
type CookieStore struct {
	mutex sync.RWMutex
	jar   *cookiejar.Jar
	// domain;name of cookies set with a Domain attribute
	domainScoped map[string]bool
	now          func() time.Time
}

// NewCookieStore creates an empty store
func NewCookieStore() *CookieStore {
	return &CookieStore{
		jar:          newMemoryJar(),
		domainScoped: map[string]bool{},
		now:          time.Now,
	}
}

func newMemoryJar() *cookiejar.Jar {
	jar, err := cookiejar.New(&cookiejar.Options{
		PublicSuffixList: publicsuffix.List,
		NoPersist:        true,
	})
	if err != nil {
		// only reachable when a file is read
		panic(err)
	}
	return jar
}

func scopeKey(domain, name string) string {
	return strings.ToLower(strings.TrimPrefix(domain, ".")) + ";" + name
}

// SetCookies implements http.CookieJar
func (s *CookieStore) SetCookies(u *url.URL, cookies []*http.Cookie) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, c := range cookies {
		if c.Domain != "" && strings.TrimPrefix(c.Domain, ".") != "" {
			s.domainScoped[scopeKey(c.Domain, c.Name)] = true
		} else if u != nil {
			delete(s.domainScoped, scopeKey(u.Hostname(), c.Name))
		}
	}
	s.jar.SetCookies(u, cookies)
}

// Cookies implements http.CookieJar
func (s *CookieStore) Cookies(u *url.URL) []*http.Cookie {
	s.mutex.RLock()
	jar := s.jar
	s.mutex.RUnlock()
	return jar.Cookies(u)
}

// All returns a snapshot of every live cookie, ordered by domain, path,
// name. Domain cookies carry a leading dot; session cookies have a zero
// Expires; expiry times are truncated to whole seconds.
func (s *CookieStore) All() []*http.Cookie {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	now := s.now()
	var cookies []*http.Cookie
	for _, c := range s.jar.AllCookies() {
		expires := c.Expires
		switch {
		case expires.IsZero() || expires.After(sessionHorizon):
			expires = time.Time{}
		case !expires.After(now):
			continue
		default:
			expires = time.Unix(expires.Unix(), 0)
		}

		domain := strings.TrimPrefix(c.Domain, ".")
		if s.domainScoped[scopeKey(domain, c.Name)] {
			domain = "." + domain
		}
		cookies = append(cookies, &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
			Expires:  expires,
		})
	}

	sort.Slice(cookies, func(i, j int) bool {
		a, b := cookies[i], cookies[j]
		if da, db := strings.TrimPrefix(a.Domain, "."), strings.TrimPrefix(b.Domain, "."); da != db {
			return da < db
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Name < b.Name
	})
	return cookies
}

// Has reports whether a live cookie with a non-empty value exists under name
func (s *CookieStore) Has(name string) bool {
	for _, c := range s.All() {
		if c.Name == name && c.Value != "" {
			return true
		}
	}
	return false
}

// Clear drops every cookie
func (s *CookieStore) Clear() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.jar = newMemoryJar()
	s.domainScoped = map[string]bool{}
}

// Load replaces the store content with the cookies in a Netscape cookie
// file. A missing file leaves the store empty.
func (s *CookieStore) Load(path string) error {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		s.Clear()
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open cookie file: %w", err)
	}
	defer file.Close()

	jar := newMemoryJar()
	scoped := map[string]bool{}
	now := s.now()

	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimRight(scanner.Text(), "\r\n")

		httpOnly := false
		if strings.HasPrefix(line, httpOnlyPrefix) {
			httpOnly = true
			line = line[len(httpOnlyPrefix):]
		}
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}

		entry, err := parseNetscapeCookieLine(line)
		if err != nil {
			return fmt.Errorf("invalid cookie format at line %d: %w", lineNum, err)
		}
		entry.cookie.HttpOnly = httpOnly
		if !entry.cookie.Expires.IsZero() && !entry.cookie.Expires.After(now) {
			continue
		}

		origin := &url.URL{Scheme: "https", Host: entry.host, Path: entry.cookie.Path}
		if entry.cookie.Domain != "" {
			scoped[scopeKey(entry.host, entry.cookie.Name)] = true
		}
		jar.SetCookies(origin, []*http.Cookie{entry.cookie})
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading cookie file: %w", err)
	}

	s.mutex.Lock()
	s.jar = jar
	s.domainScoped = scoped
	s.mutex.Unlock()
	return nil
}

// Save writes every live cookie, session cookies included, to path with
// mode 0600 via an atomic replace.
func (s *CookieStore) Save(path string) error {
	cookies := s.All()
	return utils.NewFileOperations().WriteAtomic(path, cookieFileMode, func(w io.Writer) error {
		bw := bufio.NewWriter(w)
		fmt.Fprintln(bw, netscapeHeader)
		for _, c := range cookies {
			fmt.Fprintln(bw, formatNetscapeCookieLine(c))
		}
		return bw.Flush()
	})
}

// netscapeEntry is one parsed cookie file line
type netscapeEntry struct {
	host   string
	cookie *http.Cookie
}

// parseNetscapeCookieLine parses a single line from Netscape cookie format
// Format: domain	flag	path	secure	expiration	name	value
func parseNetscapeCookieLine(line string) (*netscapeEntry, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != 7 {
		return nil, fmt.Errorf("expected 7 fields, got %d", len(fields))
	}

	host := strings.TrimPrefix(strings.ToLower(fields[0]), ".")
	if host == "" {
		return nil, fmt.Errorf("empty domain")
	}

	var expires time.Time
	if fields[4] != sessionNoExpiry {
		timestamp, err := strconv.ParseInt(fields[4], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid expiration timestamp: %w", err)
		}
		expires = time.Unix(timestamp, 0)
	}

	cookie := &http.Cookie{
		Path:    fields[2],
		Secure:  strings.EqualFold(fields[3], "TRUE"),
		Expires: expires,
		Name:    fields[5],
		Value:   fields[6],
	}
	if strings.EqualFold(fields[1], "TRUE") {
		cookie.Domain = host
	}
	return &netscapeEntry{host: host, cookie: cookie}, nil
}

func formatNetscapeCookieLine(c *http.Cookie) string {
	includeSubdomains := "FALSE"
	if strings.HasPrefix(c.Domain, ".") {
		includeSubdomains = "TRUE"
	}
	secure := "FALSE"
	if c.Secure {
		secure = "TRUE"
	}
	expires := sessionNoExpiry
	if !c.Expires.IsZero() {
		expires = strconv.FormatInt(c.Expires.Unix(), 10)
	}

	prefix := ""
	if c.HttpOnly {
		prefix = httpOnlyPrefix
	}
	return prefix + strings.Join([]string{c.Domain, includeSubdomains, c.Path, secure, expires, c.Name, c.Value}, "\t")
}
