package obs

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aldar.app/internal/apperr"
)

func TestNamedRequiresFile(t *testing.T) {
	_, err := Named("earn", "")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindConfig))
}

func TestNamedCarriesLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	restore := SetOutput(&buf)
	defer restore()

	l, err := Named("", "earn_api.log")
	require.NoError(t, err)
	l.Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry))
	assert.Equal(t, "earn_api", entry["logger"])
	assert.Equal(t, "earn_api.log", entry["log_file"])
	assert.Equal(t, "hello", entry["msg"])
	assert.Contains(t, entry, "ts")
}
