package niconico

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nicotsm/internal"
)

func TestClient_ServerTime(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    time.Time
		wantErr bool
	}{
		{name: "plain", body: "servertime=1700000000&status=ok", want: time.Unix(1700000000, 0)},
		{name: "embedded", body: "status=ok&servertime=1700000001&ip=127.0.0.1", want: time.Unix(1700000001, 0)},
		{name: "missing field", body: "status=maintenance", wantErr: true},
		{name: "empty", body: " ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t)
			srv.ServerTimeBody = tt.body
			client := newTestClient(t, srv, internal.Credential{})

			got, err := client.ServerTime(context.Background())
			if tt.wantErr {
				assert.True(t, internal.IsType(err, internal.ErrInvalidResponse), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want))
			assert.Equal(t, jst, got.Location())
		})
	}
}
