package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aldar.app/internal/auth"
	"aldar.app/internal/obs"
	"aldar.app/internal/session"
)

func TestLogEvent(t *testing.T) {
	var buf bytes.Buffer
	t.Cleanup(obs.SetOutput(&buf))

	ctx := WithRequestID(context.Background(), "req-123")
	ctx = session.ContextWithPrincipal(ctx, session.Principal{Company: "aldar", LoggedIn: true, UserID: 42})
	ctx = auth.ContextWithPartner(ctx, "clo")

	require.NoError(t, LogEvent(ctx, "points.earned", map[string]any{"points": 10}))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "audit", entry["type"])
	assert.Equal(t, "points.earned", entry["event"])
	assert.Equal(t, "req-123", entry["request_id"])
	assert.Equal(t, float64(42), entry["user_id"])
	assert.Equal(t, "clo", entry["partner"])
	assert.Equal(t, map[string]any{"points": float64(10)}, entry["fields"])
}

func TestLogEventAnonymous(t *testing.T) {
	var buf bytes.Buffer
	t.Cleanup(obs.SetOutput(&buf))

	require.NoError(t, LogEvent(context.Background(), "configs.read", nil))
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.NotContains(t, entry, "user_id")
	assert.NotContains(t, entry, "request_id")
	assert.Equal(t, map[string]any{}, entry["fields"])

	assert.Error(t, LogEvent(context.Background(), "  ", nil))
}
