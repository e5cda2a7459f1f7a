package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailcap/trailcap/pkg/audit"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  listenAddress: ":9090"
logging:
  level: debug
  encoding: console
capture:
  deniedFields: [password, secret]
  allowedFields:
    users: [id, email]
  keys:
    members: [org_id, user_id]
  updateValuesMode: changed
delivery:
  batchSize: 50
  flushInterval: 2s
  maxQueueSize: 1000
  strict: true
  waitForWrite: true
sink:
  type: webhook
  webhook:
    url: https://example.com/audit
    timeout: 3s
    headers:
      Authorization: Bearer tok
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.ListenAddress)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []string{"password", "secret"}, cfg.Capture.DeniedFields)
	assert.Equal(t, []string{"id", "email"}, cfg.Capture.AllowedFields["users"])
	assert.Equal(t, "changed", cfg.Capture.UpdateValuesMode)
	assert.Equal(t, 50, cfg.Delivery.BatchSize)
	assert.True(t, cfg.Delivery.Strict)
	assert.Equal(t, "webhook", cfg.Sink.Type)
	require.NotNil(t, cfg.Sink.Webhook)
	assert.Equal(t, "https://example.com/audit", cfg.Sink.Webhook.URL)
	assert.Equal(t, "Bearer tok", cfg.Sink.Webhook.Headers["Authorization"])
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "delivery: [not a map")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestCaptureConfigTranslation(t *testing.T) {
	c := Capture{
		AllowedFields:    map[string][]string{"users": {"id"}},
		DeniedFields:     []string{"password"},
		Keys:             map[string][]string{"members": {"org_id", "user_id"}},
		UpdateValuesMode: "full",
	}

	cfg := c.CaptureConfig()
	assert.Equal(t, audit.UpdateValuesFull, cfg.UpdateValuesMode)
	assert.Equal(t, []string{"password"}, cfg.DeniedFields)
	assert.Equal(t, audit.KeySpec{Fields: []string{"org_id", "user_id"}}, cfg.Keys["members"])
	assert.NoError(t, cfg.Validate())
}

func TestDeliveryConfigTranslation(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := Delivery{}.DeliveryConfig()
		require.NoError(t, err)
		assert.Equal(t, 100, cfg.BatchSize)
		assert.Equal(t, 5*time.Second, cfg.FlushInterval)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("explicit values", func(t *testing.T) {
		cfg, err := Delivery{
			BatchSize:     10,
			FlushInterval: "250ms",
			MaxQueueSize:  99,
			Strict:        true,
			WaitForWrite:  true,
		}.DeliveryConfig()
		require.NoError(t, err)
		assert.Equal(t, 10, cfg.BatchSize)
		assert.Equal(t, 250*time.Millisecond, cfg.FlushInterval)
		assert.Equal(t, 99, cfg.MaxQueueSize)
	})

	t.Run("bad interval", func(t *testing.T) {
		_, err := Delivery{FlushInterval: "soon"}.DeliveryConfig()
		assert.Error(t, err)
	})
}

func TestWebhookTimeoutDuration(t *testing.T) {
	d, err := Webhook{}.TimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)

	d, err = Webhook{Timeout: "1s"}.TimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)

	_, err = Webhook{Timeout: "later"}.TimeoutDuration()
	assert.Error(t, err)
}

func TestPostgresResolveDSN(t *testing.T) {
	p := Postgres{DSN: "inline", DSNEnv: "TRAILCAP_TEST_DSN"}

	t.Setenv("TRAILCAP_TEST_DSN", "")
	assert.Equal(t, "inline", p.ResolveDSN())

	t.Setenv("TRAILCAP_TEST_DSN", "from-env")
	assert.Equal(t, "from-env", p.ResolveDSN())
}
