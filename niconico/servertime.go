package niconico

import (
	"context"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"nicotsm/internal"
	"nicotsm/utils"
)

var serverTimePattern = regexp.MustCompile(`servertime=(\d+)`)

// ServerTime returns the upstream clock in the session timezone. A body
// without a servertime field is rejected rather than guessed at.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	resp, err := c.session.HTTP().Do(ctx, &utils.Request{
		Method:     http.MethodGet,
		URL:        c.endpoints.ServerTime,
		Idempotent: true,
	})
	if err != nil {
		return time.Time{}, err
	}

	m := serverTimePattern.FindSubmatch(resp.Body)
	if m == nil {
		return time.Time{}, internal.NewInvalidResponseError("server time not found in response").
			WithURL(c.endpoints.ServerTime).
			WithContext("status", resp.StatusCode)
	}
	seconds, err := strconv.ParseInt(string(m[1]), 10, 64)
	if err != nil {
		return time.Time{}, internal.NewInvalidResponseError("server time out of range").Wrap(err)
	}
	return time.Unix(seconds, 0).In(c.session.Location()), nil
}
