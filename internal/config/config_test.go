package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/opinionsmarket/internal/domain"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Market.Admin = "0x00000000000000000000000000000000000000aa"
	cfg.Server.JWTSecret = "0123456789abcdef0123"
	return cfg
}

func TestDefaultsNeedOnlyAdminAndSecret(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "admin must be set")
	assert.Contains(t, err.Error(), "jwt_secret")

	valid := validConfig()
	assert.NoError(t, valid.Validate())
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "trade"
	cfg.Store.Driver = "sqlite"
	cfg.Keeper.Schedule = "not a schedule"
	cfg.Archive.Enabled = true

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		`unknown driver "sqlite"`,
		"keeper: invalid schedule",
		"archive: requires s3.enabled",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestMarketDomainConversion(t *testing.T) {
	cfg := validConfig()
	m := cfg.Market.Domain()
	assert.True(t, strings.EqualFold(cfg.Market.Admin, m.Admin))
	assert.Equal(t, 24*time.Hour, m.BaseDuration)
	assert.Equal(t, domain.TieBreakTreasury, m.TieBreak)
	assert.NoError(t, m.Validate())

	cfg.Market.Admin = "ops"
	assert.Equal(t, "ops", cfg.Market.Domain().Admin)
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "opinions.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "api"

[market]
admin = "ops"
cost_per_unit = 42
base_duration = "12h"
max_duration = "48h"

[server]
port = 9090
`), 0o600))

	t.Chdir(dir)
	t.Setenv("OPINIONS_SERVER_PORT", "9191")
	t.Setenv("OPINIONS_SERVER_CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("OPINIONS_MARKET_TIE_BREAK", "pump")
	t.Setenv("OPINIONS_KEEPER_BATCH_SIZE", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "api", cfg.Mode)
	assert.Equal(t, uint64(42), cfg.Market.CostPerUnit)
	assert.Equal(t, 12*time.Hour, cfg.Market.BaseDuration.Duration)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "pump", cfg.Market.TieBreak)
	assert.Equal(t, 100, cfg.Keeper.BatchSize, "unparsable overrides are ignored")
	// Untouched sections keep their defaults.
	assert.Equal(t, "memory", cfg.Store.Driver)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "opinions.toml")
	require.NoError(t, os.WriteFile(path, []byte("[market]\nadmn = \"typo\"\n"), 0o600))
	t.Chdir(dir)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "market.admn")
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "hunter2"
	cfg.Server.AdminAPIKey = "admin-key"
	cfg.Notify.Events = []string{"settlement"}

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Server.JWTSecret)
	assert.Equal(t, "***", out.Server.AdminAPIKey)
	assert.Empty(t, out.Redis.Password, "empty secrets stay empty")
	assert.Equal(t, "hunter2", cfg.Postgres.Password)

	out.Notify.Events[0] = "changed"
	assert.Equal(t, "settlement", cfg.Notify.Events[0])
}
