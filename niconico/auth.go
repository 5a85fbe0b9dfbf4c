package niconico

import (
	"context"
	"net/http"
	"net/url"

	"nicotsm/internal"
	"nicotsm/utils"
)

// Session cookies whose presence proves a successful login
var sessionCookieNames = []string{"user_session", "user_session_secure"}

type loginScopeKey struct{}

// Login posts the configured credentials. It succeeds only when the
// response chain sets one of the session cookies.
func (c *Client) Login(ctx context.Context) error {
	if !c.credential.Configured() {
		return internal.NewLoginFailedError("no credentials configured").
			WithSuggestion("Set login.mail and login.password in the configuration file")
	}

	resp, err := c.session.HTTP().Do(ctx, &utils.Request{
		Method: http.MethodPost,
		URL:    c.endpoints.Login,
		Form: url.Values{
			"mail_tel": {c.credential.Mail},
			"password": {c.credential.Password},
		},
	})
	if err != nil {
		return err
	}

	for _, name := range sessionCookieNames {
		if resp.HasCookie(name) {
			c.logger.Info().Msg("logged in")
			return nil
		}
	}
	return internal.NewLoginFailedError("login did not return a session cookie").
		WithURL(c.endpoints.Login).
		WithContext("status", resp.StatusCode)
}

// Logout ends the upstream session and forgets every local cookie
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.session.HTTP().Do(ctx, &utils.Request{
		Method:     http.MethodGet,
		URL:        c.endpoints.Logout,
		NoRedirect: true,
	})
	c.session.Cookies().Clear()
	if err != nil {
		return err
	}
	c.logger.Info().Msg("logged out")
	return nil
}

// Authenticated reports whether a session cookie is held
func (c *Client) Authenticated() bool {
	for _, name := range sessionCookieNames {
		if c.session.Cookies().Has(name) {
			return true
		}
	}
	return false
}

// withLogin runs f and, when it reports LoginRequired and credentials are
// configured, logs in and runs f exactly once more. Only the outermost call
// on a context may log in.
func withLogin[T any](ctx context.Context, c *Client, f func(context.Context) (T, error)) (T, error) {
	if ctx.Value(loginScopeKey{}) != nil {
		return f(ctx)
	}
	ctx = context.WithValue(ctx, loginScopeKey{}, struct{}{})

	result, err := f(ctx)
	if err == nil || !internal.IsType(err, internal.ErrLoginRequired) || !c.credential.Configured() {
		return result, err
	}

	var zero T
	c.logger.Debug().Msg("session expired, logging in again")
	if err := c.Login(ctx); err != nil {
		return zero, err
	}

	result, err = f(ctx)
	if internal.IsType(err, internal.ErrLoginRequired) {
		return zero, internal.NewLoginFailedError("still not authenticated after login").Wrap(err)
	}
	return result, err
}
