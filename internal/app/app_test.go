package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/opinionsmarket/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Market.Admin = "0x00000000000000000000000000000000000000aa"
	cfg.Mode = "keeper"
	require.NoError(t, cfg.Validate())
	return &cfg
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWire_MemoryBackends(t *testing.T) {
	cfg := testConfig(t)
	deps, cleanup, err := Wire(context.Background(), cfg, discard())
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, deps.Store)
	assert.NotNil(t, deps.AuditStore)
	assert.NotNil(t, deps.PostCache)
	assert.NotNil(t, deps.RateLimiter)
	assert.NotNil(t, deps.LockManager)
	assert.NotNil(t, deps.SignalBus)
	assert.NotNil(t, deps.Notifier)
	assert.NotNil(t, deps.Market)
	assert.Nil(t, deps.Archiver, "archiving needs s3")
	assert.Empty(t, deps.HealthChecks)
}

func TestEnsureMarket_Idempotent(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	deps, cleanup, err := Wire(ctx, cfg, discard())
	require.NoError(t, err)
	defer cleanup()

	a := New(cfg, discard())
	require.NoError(t, a.ensureMarket(ctx, deps))
	require.NoError(t, a.ensureMarket(ctx, deps))

	got, err := deps.Market.Config(ctx)
	require.NoError(t, err)
	assert.Equal(t, cfg.Market.Domain().Admin, got.Admin)
	assert.Equal(t, "OPN", got.BaseCurrency)
}

func TestBuildScheduler(t *testing.T) {
	cfg := testConfig(t)
	deps, cleanup, err := Wire(context.Background(), cfg, discard())
	require.NoError(t, err)
	defer cleanup()

	cfg.Archive.Enabled = true
	_, err = buildScheduler(cfg, deps, discard())
	assert.NoError(t, err, "archive without s3 is skipped")

	cfg.Keeper.Schedule = "not a schedule"
	_, err = buildScheduler(cfg, deps, discard())
	assert.Error(t, err)
}

func TestRun_KeeperStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- New(cfg, discard()).Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func TestRun_UnknownMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mode = "sideways"
	err := New(cfg, discard()).Run(context.Background())
	assert.ErrorContains(t, err, "unknown mode")
}
