package niconico

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"nicotsm/internal"
	"nicotsm/utils"
)

const (
	// searchCeiling is a client-side bound on rows read per query
	searchCeiling = 1600
	// searchPageSize is the _limit sent with every page, a client choice
	// like the ceiling
	searchPageSize = 100
	defaultService = "video"
)

// Fields parsed into timezone-aware times
var timeFields = []string{"startTime", "openTime", "liveEndTime"}

// SearchQuery is one content-search request template
type SearchQuery struct {
	Q          string
	Service    string
	Targets    []string
	Fields     []string
	JSONFilter interface{}
	Sort       string
}

// SearchIterator pulls one content-search result set page by page. It owns
// the offset cursor and the row cap of the query.
type SearchIterator struct {
	client   *Client
	endpoint string
	template url.Values
	offset   int
	total    int
	started  bool
	done     bool
	seen     map[string]bool
	buffer   []*internal.Program
}

var _ internal.ProgramSource = (*SearchIterator)(nil)

// Search prepares an iterator; no request is sent until the first page is pulled
func (c *Client) Search(q SearchQuery) (*SearchIterator, error) {
	service := q.Service
	if service == "" {
		service = defaultService
	}
	sort := q.Sort
	if sort == "" {
		sort = internal.DefaultSort
	}

	template := url.Values{
		"q":       {q.Q},
		"targets": {strings.Join(q.Targets, ",")},
		"_sort":   {sort},
		"_limit":  {strconv.Itoa(searchPageSize)},
	}
	if len(q.Fields) > 0 {
		template.Set("fields", strings.Join(q.Fields, ","))
	}
	if q.JSONFilter != nil {
		encoded, err := json.Marshal(q.JSONFilter)
		if err != nil {
			return nil, fmt.Errorf("encode jsonFilter: %w", err)
		}
		template.Set("jsonFilter", string(encoded))
	}
	if ctxName := c.session.Context(); ctxName != "" {
		template.Set("_context", ctxName)
	}

	return &SearchIterator{
		client:   c,
		endpoint: c.endpoints.searchURL(service),
		template: template,
		total:    searchCeiling,
		seen:     map[string]bool{},
	}, nil
}

type searchMeta struct {
	Status       json.Number `json:"status"`
	TotalCount   json.Number `json:"totalCount"`
	ErrorCode    string      `json:"errorCode"`
	ErrorMessage string      `json:"errorMessage"`
}

type searchResponse struct {
	Meta json.RawMessage          `json:"meta"`
	Data []map[string]interface{} `json:"data"`
}

// NextPage fetches the next page. Programs already yielded by this iterator
// are dropped, so a page may be empty while more remain. io.EOF marks the end.
func (it *SearchIterator) NextPage(ctx context.Context) ([]*internal.Program, error) {
	if it.done {
		return nil, io.EOF
	}

	form := url.Values{}
	for k, v := range it.template {
		form[k] = v
	}
	form.Set("_offset", strconv.Itoa(it.offset))

	resp, err := it.client.session.HTTP().Do(ctx, &utils.Request{
		Method: http.MethodPost,
		URL:    it.endpoint,
		Form:   form,
	})
	if err != nil {
		return nil, err
	}

	var body searchResponse
	decoder := json.NewDecoder(bytes.NewReader(resp.Body))
	decoder.UseNumber()
	if err := decoder.Decode(&body); err != nil {
		return nil, internal.NewInvalidResponseError("search response is not valid JSON").
			WithURL(it.endpoint).
			WithContext("status", resp.StatusCode).
			Wrap(err)
	}
	if len(body.Meta) == 0 || string(body.Meta) == "null" {
		return nil, internal.NewInvalidResponseError("search response has no meta").WithURL(it.endpoint)
	}

	meta, rawMeta, err := decodeMeta(body.Meta)
	if err != nil {
		return nil, err
	}
	status, _ := meta.Status.Int64()
	if status != http.StatusOK {
		return nil, &internal.ContentSearchError{
			Status:       int(status),
			ErrorCode:    meta.ErrorCode,
			ErrorMessage: meta.ErrorMessage,
			Meta:         rawMeta,
		}
	}

	if !it.started {
		it.started = true
		if totalCount, err := meta.TotalCount.Int64(); err == nil && totalCount < int64(it.total) {
			it.total = int(totalCount)
		}
	}

	if len(body.Data) == 0 {
		it.done = true
		return nil, io.EOF
	}

	it.offset += len(body.Data)
	if it.offset >= it.total {
		it.done = true
	}

	location := it.client.session.Location()
	programs := make([]*internal.Program, 0, len(body.Data))
	for _, item := range body.Data {
		program, err := newProgram(item, location)
		if err != nil {
			return nil, err
		}
		if program.ContentID != "" {
			if it.seen[program.ContentID] {
				continue
			}
			it.seen[program.ContentID] = true
		}
		programs = append(programs, program)
	}
	return programs, nil
}

// Next yields one program at a time, pumping pages as needed
func (it *SearchIterator) Next(ctx context.Context) (*internal.Program, error) {
	for len(it.buffer) == 0 {
		page, err := it.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		it.buffer = page
	}
	program := it.buffer[0]
	it.buffer = it.buffer[1:]
	return program, nil
}

func decodeMeta(raw json.RawMessage) (searchMeta, map[string]interface{}, error) {
	var meta searchMeta
	var rawMeta map[string]interface{}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&rawMeta); err != nil {
		return meta, nil, internal.NewInvalidResponseError("search meta is not an object").Wrap(err)
	}

	decoder = json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&meta); err != nil {
		return meta, nil, internal.NewInvalidResponseError("search meta has unexpected field types").Wrap(err)
	}
	return meta, rawMeta, nil
}

// newProgram converts one data row. Ids are canonicalized and time fields
// are parsed into the session timezone, both in Fields and on the struct.
func newProgram(item map[string]interface{}, location *time.Location) (*internal.Program, error) {
	program := &internal.Program{Fields: item}

	if raw, ok := item["contentId"]; ok && raw != nil {
		id, err := utils.ParseContentID(raw)
		if err != nil {
			return nil, internal.NewInvalidResponseError("search result has an invalid contentId").Wrap(err)
		}
		program.ContentID = id.String()
		item["contentId"] = program.ContentID
	}

	if raw, ok := item["channelId"]; ok && raw != nil {
		channelID, err := utils.StrID("ch", raw)
		if err != nil {
			return nil, internal.NewInvalidResponseError("search result has an invalid channelId").Wrap(err)
		}
		program.ChannelID = channelID
		item["channelId"] = channelID
	}

	if title, ok := item["title"].(string); ok {
		program.Title = title
	}

	for _, field := range timeFields {
		raw, ok := item[field]
		if !ok || raw == nil {
			continue
		}
		s, isString := raw.(string)
		if !isString {
			return nil, internal.NewInvalidResponseError("search result time field is not a string").WithContext("field", field)
		}
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, internal.NewInvalidResponseError("search result has an invalid timestamp").
				WithContext("field", field).
				Wrap(err)
		}
		parsed = parsed.In(location)
		item[field] = parsed

		switch field {
		case "startTime":
			program.StartTime = &parsed
		case "openTime":
			program.OpenTime = &parsed
		case "liveEndTime":
			program.LiveEndTime = &parsed
		}
	}

	return program, nil
}
