package niconico

import (
	"context"
	"net/http"

	"github.com/patrickmn/go-cache"

	"nicotsm/utils"
)

// IsPPVLive reports whether the channel sells liveID as a pay-per-view
// program. The answer is remembered for the lifetime of the client.
func (c *Client) IsPPVLive(ctx context.Context, liveID, channelID interface{}) (bool, error) {
	lv, err := utils.StrID("lv", liveID)
	if err != nil {
		return false, err
	}
	ch, err := utils.StrID("ch", channelID)
	if err != nil {
		return false, err
	}

	key := ch + "/" + lv
	if cached, ok := c.ppvCache.Get(key); ok {
		return cached.(bool), nil
	}

	resp, err := c.session.HTTP().Do(ctx, &utils.Request{
		Method:     http.MethodGet,
		URL:        c.endpoints.PPV + "/" + ch + "/" + lv,
		Idempotent: true,
	})
	if err != nil {
		return false, err
	}

	ppv := resp.StatusCode == http.StatusOK
	c.ppvCache.Set(key, ppv, cache.NoExpiration)
	c.logger.Debug().Str("vid", lv).Str("channel", ch).Bool("ppv", ppv).Msg("ppv lookup")
	return ppv, nil
}
