package niconico

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nicotsm/internal"
	"nicotsm/internal/nicotest"
)

func TestClient_RegisterThenList(t *testing.T) {
	srv := newTestServer(t)
	srv.Programs = []map[string]interface{}{program("lv100", "X")}
	client := newTestClient(t, srv, testCredential)
	ctx := context.Background()

	outcome, err := client.Register(ctx, "lv100", false)
	require.NoError(t, err)
	assert.Equal(t, internal.OutcomeRegistered, outcome)
	assert.Equal(t, 1, srv.Calls("watch_num"))
	assert.Equal(t, 1, srv.Calls("regist"))

	reservations, err := client.List(ctx)
	require.NoError(t, err)
	want := []internal.TimeshiftReservation{{VID: "lv100", Title: "X", Status: "RESERVE", Unwatch: true}}
	if diff := cmp.Diff(want, reservations); diff != "" {
		t.Errorf("List() mismatch (-want +got):\n%s", diff)
	}
}

func TestClient_RegisterAcceptsIntegerIDs(t *testing.T) {
	srv := newTestServer(t)
	srv.Programs = []map[string]interface{}{program("lv100", "X")}
	client := newTestClient(t, srv, testCredential)

	outcome, err := client.Register(context.Background(), 100, false)
	require.NoError(t, err)
	assert.Equal(t, internal.OutcomeRegistered, outcome)
	assert.Equal(t, []string{"100"}, srv.Reserved())
}

func TestClient_RegisterAlreadyReservedKeepsList(t *testing.T) {
	srv := newTestServer(t)
	srv.Programs = []map[string]interface{}{program("lv100", "X")}
	srv.Reservations = []nicotest.Reservation{{VID: "100", Title: "X", Status: "RESERVE"}}
	client := newTestClient(t, srv, testCredential)
	ctx := context.Background()

	before, err := client.List(ctx)
	require.NoError(t, err)

	outcome, err := client.Register(ctx, "lv100", false)
	require.NoError(t, err)
	assert.Equal(t, internal.OutcomeAlreadyRegistered, outcome)
	assert.Equal(t, 0, srv.Calls("regist"))

	after, err := client.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestClient_RegisterOutcomes(t *testing.T) {
	tests := []struct {
		name     string
		watchNum nicotest.Page
		register nicotest.Page
		want     internal.Outcome
	}{
		{name: "not supported", watchNum: nicotest.PageNotSupported, want: internal.OutcomeNotSupported},
		{name: "expired", watchNum: nicotest.PageExpired, want: internal.OutcomeExpired},
		{name: "limit", watchNum: nicotest.PageLimit, want: internal.OutcomeMaxReservation},
		{name: "system error", watchNum: nicotest.PageSystemError, want: internal.OutcomeNotFound},
		{name: "watch link", watchNum: nicotest.PageWatchLink, want: internal.OutcomeAlreadyRegistered},
		{name: "unknown page", watchNum: nicotest.PageEmpty, want: internal.OutcomeInvalidResponse},
		{name: "overwrite prompt", register: nicotest.PageOverwrite, want: internal.OutcomeMaxReservation},
		{name: "unknown register page", register: nicotest.PageEmpty, want: internal.OutcomeInvalidResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t)
			srv.Programs = []map[string]interface{}{program("lv100", "X")}
			srv.WatchNumPages["100"] = tt.watchNum
			srv.RegisterPages["100"] = tt.register
			client := newTestClient(t, srv, testCredential)

			outcome, err := client.Register(context.Background(), "lv100", false)
			require.NoError(t, err)
			assert.Equal(t, tt.want, outcome)
			assert.Empty(t, srv.Reserved())
		})
	}
}

func TestClient_RegisterNotFound(t *testing.T) {
	srv := newTestServer(t)
	client := newTestClient(t, srv, testCredential)

	outcome, err := client.Register(context.Background(), "lv999", false)
	require.NoError(t, err)
	assert.Equal(t, internal.OutcomeNotFound, outcome)
}

func TestClient_RegisterOverwrite(t *testing.T) {
	srv := newTestServer(t)
	srv.Programs = []map[string]interface{}{program("lv100", "X"), program("lv101", "Y")}
	srv.Reservations = []nicotest.Reservation{{VID: "100", Title: "X", Status: "RESERVE"}}
	srv.MaxReservations = 1
	client := newTestClient(t, srv, testCredential)
	ctx := context.Background()

	outcome, err := client.Register(ctx, "lv101", false)
	require.NoError(t, err)
	assert.Equal(t, internal.OutcomeMaxReservation, outcome)

	outcome, err = client.Register(ctx, "lv101", true)
	require.NoError(t, err)
	assert.Equal(t, internal.OutcomeRegistered, outcome)
	assert.Equal(t, 1, srv.Calls("overwrite"))
	assert.Equal(t, []string{"101"}, srv.Reserved())
}

func TestClient_RegisterReauthenticates(t *testing.T) {
	srv := newTestServer(t)
	srv.RequireLogin = true
	srv.Programs = []map[string]interface{}{program("lv100", "X")}
	client := newTestClient(t, srv, testCredential)

	outcome, err := client.Register(context.Background(), "lv100", false)
	require.NoError(t, err)
	assert.Equal(t, internal.OutcomeRegistered, outcome)
	assert.Equal(t, 1, srv.Calls("login"))
	assert.Equal(t, 2, srv.Calls("watch_num"))
}

func TestClient_RegisterErrors(t *testing.T) {
	srv := newTestServer(t)
	client := newTestClient(t, srv, testCredential)
	ctx := context.Background()

	_, err := client.Register(ctx, "sm9", false)
	assert.True(t, internal.IsType(err, internal.ErrInvalidContentID), "got %v", err)
	assert.Equal(t, 0, srv.Calls("watch_num"))

	srv.Close()
	_, err = client.Register(ctx, "lv100", false)
	assert.True(t, internal.IsType(err, internal.ErrCommunication), "got %v", err)
}

func TestParseDetailList(t *testing.T) {
	expire := time.Date(2023, 11, 15, 7, 13, 20, 0, time.UTC).In(jst)

	tests := []struct {
		name     string
		body     string
		want     []internal.TimeshiftReservation
		wantType internal.ErrorType
		wantErr  bool
	}{
		{
			name: "ok with expiries",
			body: `<?xml version="1.0" encoding="utf-8"?>
<nicolive_video_response status="ok"><timeshift_reserved_detail_list>
<reserved_item><vid>lv100</vid><title>A</title><status>RESERVE</status><unwatch>1</unwatch><expire>1700032400</expire></reserved_item>
<reserved_item><vid>lv101</vid><title>B</title><status>TSARCHIVE</status><unwatch>0</unwatch><expire>0</expire></reserved_item>
<reserved_item><vid>102</vid><title>C</title><status>RESERVE</status><unwatch>1</unwatch><expire>99999999999999999999</expire></reserved_item>
<reserved_item><vid>lv103</vid><title>D</title><status>RESERVE</status><unwatch>1</unwatch><expire>253402300800</expire></reserved_item>
<reserved_item><vid>lv104</vid><title>E</title><status>RESERVE</status><unwatch>1</unwatch><expire>soon</expire></reserved_item>
</timeshift_reserved_detail_list></nicolive_video_response>`,
			want: []internal.TimeshiftReservation{
				{VID: "lv100", Title: "A", Status: "RESERVE", Unwatch: true, Expire: &expire},
				{VID: "lv101", Title: "B", Status: "TSARCHIVE"},
				{VID: "lv102", Title: "C", Status: "RESERVE", Unwatch: true},
				{VID: "lv103", Title: "D", Status: "RESERVE", Unwatch: true},
				{VID: "lv104", Title: "E", Status: "RESERVE", Unwatch: true},
			},
		},
		{
			name: "empty list",
			body: `<nicolive_video_response status="ok"><timeshift_reserved_detail_list/></nicolive_video_response>`,
			want: []internal.TimeshiftReservation{},
		},
		{
			name:     "fail means login required",
			body:     `<nicolive_video_response status="fail"><error><code>notlogin</code></error></nicolive_video_response>`,
			wantType: internal.ErrLoginRequired,
			wantErr:  true,
		},
		{
			name:     "missing status",
			body:     `<nicolive_video_response></nicolive_video_response>`,
			wantType: internal.ErrInvalidResponse,
			wantErr:  true,
		},
		{
			name:     "unknown status",
			body:     `<nicolive_video_response status="maintenance"></nicolive_video_response>`,
			wantType: internal.ErrInvalidResponse,
			wantErr:  true,
		},
		{
			name:     "not xml",
			body:     `<html><body>`,
			wantType: internal.ErrInvalidResponse,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDetailList([]byte(tt.body), jst)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, internal.IsType(err, tt.wantType), "got %v", err)
				return
			}
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("parseDetailList() mismatch (-want +got):\n%s", diff)
			}
			if len(got) > 0 && got[0].Expire != nil {
				assert.Equal(t, jst, got[0].Expire.Location())
			}
		})
	}
}
