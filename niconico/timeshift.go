package niconico

import (
	"bytes"
	"context"
	"encoding/xml"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"nicotsm/internal"
	"nicotsm/utils"
)

// Epoch bounds of years 1 through 9999
const (
	minExpireUnix int64 = -62135596800
	maxExpireUnix int64 = 253402300799
)

// Register reserves a timeshift for liveID. Recoverable results are
// reported as an Outcome; only transport and contract failures are errors.
func (c *Client) Register(ctx context.Context, liveID interface{}, overwrite bool) (internal.Outcome, error) {
	number, err := utils.IntID("lv", liveID)
	if err != nil {
		return internal.OutcomeInvalidResponse, err
	}
	vid := strconv.FormatInt(number, 10)

	return withLogin(ctx, c, func(ctx context.Context) (internal.Outcome, error) {
		return c.register(ctx, vid, overwrite)
	})
}

func (c *Client) register(ctx context.Context, vid string, overwrite bool) (internal.Outcome, error) {
	resp, err := c.postReservation(ctx, url.Values{"mode": {"watch_num"}, "vid": {vid}})
	if err != nil {
		return internal.OutcomeInvalidResponse, err
	}

	token, outcome, err := classifyTokenPage(resp.Body, vid)
	if err != nil {
		return internal.OutcomeInvalidResponse, err
	}
	if token == "" {
		c.logger.Debug().Str("vid", "lv"+vid).Stringer("outcome", outcome).Msg("token lookup finished without token")
		return outcome, nil
	}

	mode := "regist"
	if overwrite {
		mode = "overwrite"
	}
	resp, err = c.postReservation(ctx, url.Values{"mode": {mode}, "vid": {vid}, "token": {token}})
	if err != nil {
		return internal.OutcomeInvalidResponse, err
	}

	outcome, err = classifyRegisterPage(resp.Body)
	if err != nil {
		return internal.OutcomeInvalidResponse, err
	}
	c.logger.Debug().Str("vid", "lv"+vid).Str("mode", mode).Stringer("outcome", outcome).Msg("registration finished")
	return outcome, nil
}

func (c *Client) postReservation(ctx context.Context, form url.Values) (*utils.Response, error) {
	resp, err := c.session.HTTP().Do(ctx, &utils.Request{
		Method: http.MethodPost,
		URL:    c.endpoints.Reservation,
		Form:   form,
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, internal.NewNicoError(resp.StatusCode, "reservation endpoint failed", internal.ErrCommunication).
			WithURL(c.endpoints.Reservation).
			WithContext("mode", form.Get("mode"))
	}
	return resp, nil
}

type detailListResponse struct {
	XMLName xml.Name
	Attrs   []xml.Attr     `xml:",any,attr"`
	Items   []reservedItem `xml:"timeshift_reserved_detail_list>reserved_item"`
}

type reservedItem struct {
	VID     string `xml:"vid"`
	Title   string `xml:"title"`
	Status  string `xml:"status"`
	Unwatch string `xml:"unwatch"`
	Expire  string `xml:"expire"`
}

// List returns the current timeshift reservations
func (c *Client) List(ctx context.Context) ([]internal.TimeshiftReservation, error) {
	return withLogin(ctx, c, c.list)
}

func (c *Client) list(ctx context.Context) ([]internal.TimeshiftReservation, error) {
	resp, err := c.postReservation(ctx, url.Values{"mode": {"detaillist"}})
	if err != nil {
		return nil, err
	}
	return parseDetailList(resp.Body, c.session.Location())
}

func parseDetailList(body []byte, location *time.Location) ([]internal.TimeshiftReservation, error) {
	var doc detailListResponse
	if err := xml.NewDecoder(bytes.NewReader(body)).Decode(&doc); err != nil {
		return nil, internal.NewInvalidResponseError("reservation list is not valid XML").Wrap(err)
	}

	status, ok := "", false
	for _, a := range doc.Attrs {
		if a.Name.Local == "status" {
			status, ok = a.Value, true
		}
	}
	switch {
	case ok && status == "fail":
		return nil, internal.NewLoginRequiredError()
	case ok && status == "ok":
	default:
		return nil, internal.NewInvalidResponseError("reservation list has no usable status").
			WithContext("status", status)
	}

	reservations := make([]internal.TimeshiftReservation, 0, len(doc.Items))
	for _, item := range doc.Items {
		vid, err := utils.StrID("lv", strings.TrimSpace(item.VID))
		if err != nil {
			return nil, internal.NewInvalidResponseError("reservation list contains an invalid vid").Wrap(err)
		}
		reservations = append(reservations, internal.TimeshiftReservation{
			VID:     vid,
			Title:   item.Title,
			Status:  item.Status,
			Unwatch: parseUnwatch(item.Unwatch),
			Expire:  parseExpire(item.Expire, location),
		})
	}
	return reservations, nil
}

func parseUnwatch(raw string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && v
}

// parseExpire converts epoch seconds to the session timezone. Zero and
// values outside years 1..9999 have no expiry.
func parseExpire(raw string, location *time.Location) *time.Time {
	seconds, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || seconds == 0 || seconds < minExpireUnix || seconds > maxExpireUnix {
		return nil
	}
	expire := time.Unix(seconds, 0).UTC().In(location)
	return &expire
}
