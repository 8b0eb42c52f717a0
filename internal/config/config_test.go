package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aldar.app/internal/apperr"
)

func TestParseOverlaysYAML(t *testing.T) {
	cfg := Default()
	raw := []byte(`
env: prod
codec:
  key: k
  salt: s
batch:
  chunk_size: 10
  users:
    aldrslsinstapymnts:
      username: sales
      password: secret
callbacks:
  basic_auth_enabled: true
  users:
    clo: "$2a$10$hash"
`)
	require.NoError(t, Parse(raw, &cfg))
	assert.Equal(t, "prod", cfg.Env)
	assert.Equal(t, 10, cfg.Batch.ChunkSize)
	assert.Equal(t, "sales", cfg.Batch.Users["aldrslsinstapymnts"].Username)
	assert.True(t, cfg.Callbacks.BasicAuthEnabled)
	// untouched defaults survive
	assert.Equal(t, 5000, cfg.Batch.MaxRecords)
	assert.Equal(t, 3*time.Second, cfg.LMS.LockPoll)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"ALDAR_ENV":          "qa",
		"ALDAR_DEBUG":        "true",
		"ALDAR_BATCH_DELAY":  "250ms",
		"ALDAR_RATE_BURST":   "not-a-number",
		"ALDAR_PG_DSN":       "postgres://x",
		"ALDAR_LMS_AUTH_URL": "https://lms/token",
	}
	cfg := Default()
	applyEnv(&cfg, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	assert.Equal(t, "qa", cfg.Env)
	assert.True(t, cfg.Debug)
	assert.Equal(t, 250*time.Millisecond, cfg.Batch.Delay)
	assert.Equal(t, 20, cfg.HTTP.RateBurst)
	assert.Equal(t, "postgres://x", cfg.DB.DSN)
	assert.Equal(t, "https://lms/token", cfg.LMS.TokenURL)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindConfig))

	cfg.Codec.Key, cfg.Codec.Salt, cfg.JWT.Secret = "k", "s", "j"
	assert.NoError(t, cfg.Validate())

	assert.Error(t, cfg.ValidateBatch())
	cfg.Batch.SFTPAddr, cfg.Batch.SFTPUser, cfg.Batch.KeysDir = "sftp:22", "aldar", "/keys"
	cfg.Batch.SFTPKeyFile = "/keys/id_ed25519"
	err = cfg.ValidateBatch()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch.known_hosts_file")

	cfg.Batch.KnownHostsFile = "/keys/known_hosts"
	assert.NoError(t, cfg.ValidateBatch())
}

func TestApplyEnvListsAndGroups(t *testing.T) {
	env := map[string]string{
		"ALDAR_CORS_ORIGINS":  " https://app.aldar.com, ,https://admin.aldar.com ",
		"ALDAR_DEFAULT_GROUP": "7",
	}
	cfg := Default()
	cfg.HTTP.Origins = []string{"https://old.example"}
	applyEnv(&cfg, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	assert.Equal(t, []string{"https://app.aldar.com", "https://admin.aldar.com"}, cfg.HTTP.Origins)
	assert.Equal(t, int64(7), cfg.DefaultGroup)
}
