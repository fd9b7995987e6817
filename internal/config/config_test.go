package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getditto/DittoChat-sub001/internal/models"
)

var keys = []string{
	"ENV", "PORT", "LOG_LEVEL", "ALLOWED_ORIGINS", "FRONTEND_URL", "STORE_BACKEND",
	"MONGODB_URI", "MONGO_URI", "POSTGRES_URI", "REDIS_URI", "CHAT_USER_ID", "CHAT_USER_NAME",
	"RETENTION_DAYS", "RETAIN_INDEFINITELY", "CONSISTENCY_CHECK_DELAY", "CHAT_CONFIG_FILE",
	"CLOUDINARY_CLOUD_NAME", "CLOUDINARY_API_KEY", "CLOUDINARY_API_SECRET",
}

func clearEnv(t *testing.T) {
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "chat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, models.DefaultRetentionDays, cfg.Retention.Days)
	assert.False(t, cfg.Retention.Indefinite)
	assert.Equal(t, 5*time.Second, cfg.ConsistencyCheckDelay)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.AllowedOrigins)
	assert.False(t, cfg.HasCloudinary())
	assert.False(t, cfg.IsProduction())
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
retention:
  days: 7
  indefinitely: false
rbac:
  canCreateRoom: false
  canMentionUsers: true
consistencyCheckDelay: 2s
user:
  id: u1
  name: Ada
`)
	t.Setenv("CHAT_CONFIG_FILE", path)
	t.Setenv("CHAT_USER_NAME", "Grace")
	t.Setenv("RETAIN_INDEFINITELY", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Retention.Days)
	assert.True(t, cfg.Retention.Indefinite)
	assert.Equal(t, 2*time.Second, cfg.ConsistencyCheckDelay)
	assert.Equal(t, "u1", cfg.UserID)
	assert.Equal(t, "Grace", cfg.UserName)
	assert.Equal(t, models.RBACConfig{
		models.PermCreateRoom:   false,
		models.PermMentionUsers: true,
	}, cfg.RBAC)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"RETENTION_DAYS":          "-3",
		"RETAIN_INDEFINITELY":     "sometimes",
		"CONSISTENCY_CHECK_DELAY": "soon",
		"STORE_BACKEND":           "sqlite",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadFileErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHAT_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("CHAT_CONFIG_FILE", writeFile(t, "retention: [1, 2"))
	_, err = Load()
	assert.Error(t, err)
}

func TestParseOriginsDedups(t *testing.T) {
	assert.Equal(t,
		[]string{"https://a.example", "https://b.example"},
		parseOrigins(" https://a.example, https://b.example ,HTTPS://A.example,"))
	assert.Nil(t, parseOrigins(""))
}
