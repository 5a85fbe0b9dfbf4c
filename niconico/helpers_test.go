package niconico

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nicotsm/internal"
	"nicotsm/internal/nicotest"
)

var jst = time.FixedZone("JST", 9*60*60)

var testCredential = internal.Credential{Mail: "user@example.com", Password: "secret"}

func newTestServer(t *testing.T) *nicotest.Server {
	t.Helper()
	srv := nicotest.NewServer()
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, srv *nicotest.Server, credential internal.Credential) *Client {
	t.Helper()
	session, err := Open(SessionConfig{
		Timeout:  5 * time.Second,
		Location: jst,
		Context:  "nicotsm-test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	return NewClient(session, credential, EndpointsAt(srv.URL))
}

func program(id, title string) map[string]interface{} {
	return map[string]interface{}{"contentId": id, "title": title}
}
