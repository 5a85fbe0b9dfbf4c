package niconico

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nicotsm/internal"
)

func drain(t *testing.T, it *SearchIterator) []*internal.Program {
	t.Helper()
	var programs []*internal.Program
	for {
		p, err := it.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return programs
		}
		require.NoError(t, err)
		programs = append(programs, p)
	}
}

func corpus(n int) []map[string]interface{} {
	rows := make([]map[string]interface{}, n)
	for i := range rows {
		rows[i] = program(fmt.Sprintf("lv%d", 100+i), fmt.Sprintf("keyword %d", i))
	}
	return rows
}

func TestSearch_Pagination(t *testing.T) {
	tests := []struct {
		name        string
		programs    int
		synthetic   int
		totalCount  int
		wantOffsets []int
		wantCount   int
	}{
		{name: "single page", programs: 3, wantOffsets: []int{0}, wantCount: 3},
		{name: "exact pages", programs: 200, wantOffsets: []int{0, 100}, wantCount: 200},
		{name: "partial last page", programs: 250, wantOffsets: []int{0, 100, 200}, wantCount: 250},
		{name: "no results", programs: 0, wantOffsets: []int{0}, wantCount: 0},
		{
			name:        "empty page ends early",
			programs:    150,
			totalCount:  500,
			wantOffsets: []int{0, 100, 150},
			wantCount:   150,
		},
		{
			name:        "ceiling caps large result sets",
			synthetic:   5000,
			wantOffsets: []int{0, 100, 200, 300, 400, 500, 600, 700, 800, 900, 1000, 1100, 1200, 1300, 1400, 1500},
			wantCount:   1600,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t)
			srv.Programs = corpus(tt.programs)
			srv.SyntheticTotal = tt.synthetic
			srv.TotalCount = tt.totalCount
			client := newTestClient(t, srv, internal.Credential{})

			it, err := client.Search(SearchQuery{Q: "keyword", Service: "live", Targets: []string{"title"}})
			require.NoError(t, err)
			programs := drain(t, it)

			assert.Len(t, programs, tt.wantCount)
			assert.Equal(t, tt.wantOffsets, srv.SearchOffsets())

			_, err = it.NextPage(context.Background())
			assert.ErrorIs(t, err, io.EOF)
			assert.Len(t, srv.SearchOffsets(), len(tt.wantOffsets), "no request after the end")
		})
	}
}

func TestSearch_Payload(t *testing.T) {
	srv := newTestServer(t)
	srv.Programs = corpus(1)
	client := newTestClient(t, srv, internal.Credential{})

	filter := map[string]interface{}{"type": "equal", "field": "liveStatus", "value": "reserved"}
	it, err := client.Search(SearchQuery{
		Q:          "keyword",
		Service:    "live",
		Targets:    []string{"title", "tags"},
		Fields:     []string{"contentId", "title"},
		JSONFilter: filter,
	})
	require.NoError(t, err)
	drain(t, it)

	requests := srv.SearchRequests()
	require.Len(t, requests, 1)
	form := requests[0]
	assert.Equal(t, "keyword", form.Get("q"))
	assert.Equal(t, "title,tags", form.Get("targets"))
	assert.Equal(t, "contentId,title", form.Get("fields"))
	assert.Equal(t, "+startTime", form.Get("_sort"))
	assert.Equal(t, "0", form.Get("_offset"))
	assert.Equal(t, "100", form.Get("_limit"))
	assert.Equal(t, "nicotsm-test", form.Get("_context"))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(form.Get("jsonFilter")), &decoded))
	assert.Equal(t, filter, decoded)
}

func TestSearch_NoDuplicateContentIDs(t *testing.T) {
	srv := newTestServer(t)
	srv.Programs = []map[string]interface{}{
		program("lv100", "keyword a"),
		program("lv101", "keyword b"),
		program("lv100", "keyword a again"),
	}
	client := newTestClient(t, srv, internal.Credential{})

	it, err := client.Search(SearchQuery{Q: "keyword", Service: "live", Targets: []string{"title"}})
	require.NoError(t, err)

	var ids []string
	for _, p := range drain(t, it) {
		ids = append(ids, p.ContentID)
	}
	assert.Equal(t, []string{"lv100", "lv101"}, ids)
}

func TestSearch_ProgramFields(t *testing.T) {
	srv := newTestServer(t)
	srv.Programs = []map[string]interface{}{{
		"contentId":   "lv100",
		"channelId":   123,
		"title":       "keyword",
		"startTime":   "2024-01-02T20:00:00+09:00",
		"openTime":    "2024-01-02T10:50:00Z",
		"liveEndTime": nil,
	}}
	client := newTestClient(t, srv, internal.Credential{})

	it, err := client.Search(SearchQuery{Q: "keyword", Service: "live", Targets: []string{"title"}})
	require.NoError(t, err)
	programs := drain(t, it)
	require.Len(t, programs, 1)

	p := programs[0]
	assert.Equal(t, "lv100", p.ContentID)
	assert.Equal(t, "ch123", p.ChannelID)
	assert.Equal(t, "keyword", p.Title)
	require.NotNil(t, p.StartTime)
	assert.True(t, p.StartTime.Equal(time.Date(2024, 1, 2, 11, 0, 0, 0, time.UTC)))
	assert.Equal(t, jst, p.StartTime.Location())
	require.NotNil(t, p.OpenTime)
	assert.Equal(t, "2024-01-02T19:50:00+09:00", p.OpenTime.Format(time.RFC3339))
	assert.Nil(t, p.LiveEndTime)
	assert.Equal(t, "ch123", p.Fields["channelId"])
	assert.IsType(t, time.Time{}, p.Fields["startTime"])
}

func TestSearch_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "malformed query",
			status: 400,
			check: func(t *testing.T, err error) {
				var cse *internal.ContentSearchError
				require.ErrorAs(t, err, &cse)
				assert.Equal(t, 400, cse.Status)
				assert.True(t, cse.MalformedQuery())
				assert.Equal(t, "QUERY_PARSE_ERROR", cse.ErrorCode)
				assert.NotNil(t, cse.Meta)
			},
		},
		{
			name:   "server error",
			status: 500,
			check: func(t *testing.T, err error) {
				var cse *internal.ContentSearchError
				require.ErrorAs(t, err, &cse)
				assert.False(t, cse.MalformedQuery())
			},
		},
		{
			name: "missing meta",
			body: `{"data":[]}`,
			check: func(t *testing.T, err error) {
				assert.True(t, internal.IsType(err, internal.ErrInvalidResponse), "got %v", err)
			},
		},
		{
			name: "not json",
			body: `<html>maintenance</html>`,
			check: func(t *testing.T, err error) {
				assert.True(t, internal.IsType(err, internal.ErrInvalidResponse), "got %v", err)
			},
		},
		{
			name: "invalid timestamp",
			body: `{"meta":{"status":200,"totalCount":1},"data":[{"contentId":"lv1","startTime":"yesterday"}]}`,
			check: func(t *testing.T, err error) {
				assert.True(t, internal.IsType(err, internal.ErrInvalidResponse), "got %v", err)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t)
			srv.SearchStatus = tt.status
			srv.SearchBody = tt.body
			client := newTestClient(t, srv, internal.Credential{})

			it, err := client.Search(SearchQuery{Q: "keyword", Targets: []string{"title"}})
			require.NoError(t, err)
			_, err = it.Next(context.Background())
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}
