package configs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, EnvProduction, cfg.Env)
	assert.Equal(t, 5000, cfg.Database.BusyTimeoutMS)
	assert.Equal(t, 10, cfg.Backup.MaxKeep)
	assert.Equal(t, "127.0.0.1:8866", cfg.Server.Bind)
	assert.False(t, cfg.IsDevelopment())
	assert.NoError(t, cfg.Verify())
}

func TestNewConfigWithBytes(t *testing.T) {
	yaml := `
env: development
data_dir: /tmp/subedit-test
migrations_dir: /tmp/subedit-test/migrations
database:
  busy_timeout_ms: 1000
backup:
  max_keep: 5
  warn_threshold: 20
server:
  enable: true
  bind: "127.0.0.1:9000"
`
	cfg, err := NewConfigWithBytes([]byte(yaml))
	require.NoError(t, err)
	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, "/tmp/subedit-test", cfg.DataDir)
	assert.Equal(t, 1000, cfg.Database.BusyTimeoutMS)
	assert.Equal(t, 5, cfg.Backup.MaxKeep)
	assert.Equal(t, 20, cfg.Backup.WarnThreshold)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Bind)
	assert.NoError(t, cfg.Verify())
}

func TestNewConfigWithBytes_Invalid(t *testing.T) {
	_, err := NewConfigWithBytes([]byte("env: [not, a, string"))
	assert.Error(t, err)
}

func TestConfig_Verify(t *testing.T) {
	var cfg *Config
	assert.Error(t, cfg.Verify())

	cfg = NewConfig()
	assert.NoError(t, cfg.Verify())

	cfg.Env = "staging"
	assert.Error(t, cfg.Verify())
	cfg.Env = EnvDevelopment

	cfg.Backup.MaxKeep = 0
	assert.Error(t, cfg.Verify())
	cfg.Backup.MaxKeep = 10

	cfg.Database.BusyTimeoutMS = -1
	assert.Error(t, cfg.Verify())
	cfg.Database.BusyTimeoutMS = 5000

	assert.NoError(t, cfg.Verify())
}

func TestEmail_Verify(t *testing.T) {
	var email *Email
	assert.NoError(t, email.verify())

	// 未启用时不校验
	email = new(Email)
	assert.NoError(t, email.verify())

	email.Enable = true
	assert.Error(t, email.verify())

	email.SMTPHost = "smtp.example.com"
	email.SMTPPort = 587
	email.SenderAddress = "alerts@example.com"
	assert.Error(t, email.verify())

	email.Recipients = []string{"ops@example.com"}
	assert.NoError(t, email.verify())

	email.SMTPPort = 70000
	assert.Error(t, email.verify())
}

func TestServer_Verify(t *testing.T) {
	var server *Server
	assert.NoError(t, server.verify())

	server = new(Server)
	server.Bind = "foo@bar"
	assert.NoError(t, server.verify())
	server.Enable = true
	assert.Error(t, server.verify())

	server.Bind = "127.0.0.1:8866"
	assert.NoError(t, server.verify())
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("SUBEDIT_ENV", "development")
	t.Setenv("SUBEDIT_DATA_DIR", "/tmp/subedit-env")
	t.Setenv("SUBEDIT_MIGRATIONS_DIR", "/tmp/subedit-env/migrations")

	cfg := NewConfigFromEnv()
	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, "/tmp/subedit-env", cfg.DataDir)
	assert.Equal(t, "/tmp/subedit-env/migrations", cfg.MigrationsDir)
}

func TestCurrentConfig(t *testing.T) {
	cfg := NewConfig()
	SetCurrentConfig(cfg)
	assert.Same(t, cfg, GetCurrentConfig())
}
