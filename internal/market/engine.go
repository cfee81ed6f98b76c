// Package market is the opinion-staking engine: registries, post lifecycle,
// pricing-driven votes, settlement and claims. Every public operation runs
// inside exactly one domain.Store transaction, so a failed call leaves no
// trace.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/opinionsmarket/internal/domain"
	"github.com/alanyoungcy/opinionsmarket/internal/vault"
)

// GrantVerifier checks the participant's signature over a session grant.
type GrantVerifier interface {
	HashPrivileges(privileges []string) string
	VerifyGrant(g domain.SessionGrant, signature string) error
}

// Engine executes market operations against a Store.
type Engine struct {
	store    domain.Store
	vault    *vault.Vault
	verifier GrantVerifier
	now      func() time.Time
	logger   *slog.Logger
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New creates an Engine.
func New(store domain.Store, verifier GrantVerifier, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		verifier: verifier,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(slog.String("component", "market_engine"))
	e.vault = vault.New(e.clock)
	return e
}

func (e *Engine) clock() time.Time { return e.now().UTC() }

// loadConfig fetches the singleton, mapping a missing row to
// ErrMarketNotInitialized.
func loadConfig(ctx context.Context, tx domain.Tx) (domain.MarketConfig, error) {
	cfg, err := tx.MarketConfig(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.MarketConfig{}, domain.ErrMarketNotInitialized
	}
	return cfg, err
}

// loadPost fetches a post, keeping ErrNotFound visible to callers.
func loadPost(ctx context.Context, tx domain.Tx, id string) (domain.Post, error) {
	p, err := tx.Post(ctx, id)
	if err != nil {
		return domain.Post{}, fmt.Errorf("post %s: %w", id, err)
	}
	return p, nil
}

// spendableCurrency fetches a registered, enabled currency.
func spendableCurrency(ctx context.Context, tx domain.Tx, id string) (domain.CurrencyRate, error) {
	c, err := tx.Currency(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.CurrencyRate{}, fmt.Errorf("%w: %s", domain.ErrMintNotEnabled, id)
	}
	if err != nil {
		return domain.CurrencyRate{}, err
	}
	if !c.Enabled {
		return domain.CurrencyRate{}, fmt.Errorf("%w: %s disabled", domain.ErrMintNotEnabled, id)
	}
	return c, nil
}

// registeredCurrency fetches a currency regardless of its enabled flag.
func registeredCurrency(ctx context.Context, tx domain.Tx, id string) (domain.CurrencyRate, error) {
	c, err := tx.Currency(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.CurrencyRate{}, fmt.Errorf("%w: %s", domain.ErrMintNotEnabled, id)
	}
	return c, err
}
