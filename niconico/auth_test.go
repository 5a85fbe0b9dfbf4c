package niconico

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nicotsm/internal"
	"nicotsm/internal/nicotest"
)

func TestClient_Login(t *testing.T) {
	tests := []struct {
		name       string
		credential internal.Credential
		wantErr    bool
		wantCalls  int
	}{
		{name: "valid credentials", credential: testCredential, wantCalls: 1},
		{name: "wrong password", credential: internal.Credential{Mail: "user@example.com", Password: "nope"}, wantErr: true, wantCalls: 1},
		{name: "no credentials", credential: internal.Credential{}, wantErr: true, wantCalls: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t)
			client := newTestClient(t, srv, tt.credential)

			err := client.Login(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, internal.IsType(err, internal.ErrLoginFailed), "got %v", err)
				assert.False(t, client.Authenticated())
			} else {
				require.NoError(t, err)
				assert.True(t, client.Authenticated())
			}
			assert.Equal(t, tt.wantCalls, srv.Calls("login"))
		})
	}
}

func TestClient_LogoutThenAuthenticatedCall(t *testing.T) {
	srv := newTestServer(t)
	srv.RequireLogin = true
	ctx := context.Background()

	client := newTestClient(t, srv, testCredential)
	require.NoError(t, client.Login(ctx))
	_, err := client.List(ctx)
	require.NoError(t, err)

	require.NoError(t, client.Logout(ctx))
	assert.False(t, client.Authenticated())
	assert.Equal(t, 1, srv.Calls("logout"))

	anonymous := NewClient(client.Session(), internal.Credential{}, EndpointsAt(srv.URL))
	_, err = anonymous.List(ctx)
	assert.True(t, internal.IsType(err, internal.ErrLoginRequired), "got %v", err)

	_, err = client.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, srv.Calls("login"))
}

func TestClient_ListReauthenticates(t *testing.T) {
	srv := newTestServer(t)
	srv.RequireLogin = true
	srv.Reservations = []nicotest.Reservation{{VID: "100", Title: "X", Status: "RESERVE"}}

	client := newTestClient(t, srv, testCredential)
	reservations, err := client.List(context.Background())
	require.NoError(t, err)

	require.Len(t, reservations, 1)
	assert.Equal(t, "lv100", reservations[0].VID)
	assert.Equal(t, 1, srv.Calls("login"))
	assert.Equal(t, 2, srv.Calls("detaillist"))
}

func TestWithLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("success does not log in", func(t *testing.T) {
		srv := newTestServer(t)
		client := newTestClient(t, srv, testCredential)

		calls := 0
		got, err := withLogin(ctx, client, func(context.Context) (int, error) {
			calls++
			return 7, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 7, got)
		assert.Equal(t, 1, calls)
		assert.Equal(t, 0, srv.Calls("login"))
	})

	t.Run("second login required becomes login failed", func(t *testing.T) {
		srv := newTestServer(t)
		client := newTestClient(t, srv, testCredential)

		calls := 0
		_, err := withLogin(ctx, client, func(context.Context) (int, error) {
			calls++
			return 0, internal.NewLoginRequiredError()
		})
		assert.True(t, internal.IsType(err, internal.ErrLoginFailed), "got %v", err)
		assert.Equal(t, 2, calls)
		assert.Equal(t, 1, srv.Calls("login"))
	})

	t.Run("without credentials the error is kept", func(t *testing.T) {
		srv := newTestServer(t)
		client := newTestClient(t, srv, internal.Credential{})

		_, err := withLogin(ctx, client, func(context.Context) (int, error) {
			return 0, internal.NewLoginRequiredError()
		})
		assert.True(t, internal.IsType(err, internal.ErrLoginRequired), "got %v", err)
		assert.Equal(t, 0, srv.Calls("login"))
	})

	t.Run("nested calls log in once", func(t *testing.T) {
		srv := newTestServer(t)
		client := newTestClient(t, srv, testCredential)

		inner := 0
		_, err := withLogin(ctx, client, func(ctx context.Context) (int, error) {
			return withLogin(ctx, client, func(context.Context) (int, error) {
				inner++
				return 0, internal.NewLoginRequiredError()
			})
		})
		assert.True(t, internal.IsType(err, internal.ErrLoginFailed), "got %v", err)
		assert.Equal(t, 2, inner)
		assert.Equal(t, 1, srv.Calls("login"))
	})

	t.Run("other errors pass through", func(t *testing.T) {
		srv := newTestServer(t)
		client := newTestClient(t, srv, testCredential)

		_, err := withLogin(ctx, client, func(context.Context) (int, error) {
			return 0, internal.NewInvalidResponseError("bad")
		})
		assert.True(t, internal.IsType(err, internal.ErrInvalidResponse))
		assert.Equal(t, 0, srv.Calls("login"))
	})
}

func TestClient_ExpiredSessionLogsInAgain(t *testing.T) {
	srv := newTestServer(t)
	srv.RequireLogin = true
	srv.Programs = []map[string]interface{}{program("lv100", "X")}
	ctx := context.Background()

	client := newTestClient(t, srv, testCredential)
	_, err := client.List(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, srv.Calls("login"))

	srv.ExpireSession()

	outcome, err := client.Register(ctx, "lv100", false)
	require.NoError(t, err)
	assert.Equal(t, internal.OutcomeRegistered, outcome)
	assert.Equal(t, 2, srv.Calls("login"))
	assert.Equal(t, []string{"100"}, srv.Reserved())

	reservations, err := client.List(ctx)
	require.NoError(t, err)
	require.Len(t, reservations, 1)
	assert.Equal(t, "lv100", reservations[0].VID)
	assert.Equal(t, 2, srv.Calls("login"))
}
