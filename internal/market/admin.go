package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/opinionsmarket/internal/domain"
	"github.com/alanyoungcy/opinionsmarket/internal/fixedpoint"
)

// InitializeMarket stores the config singleton and registers the base
// currency. It can run only once.
func (e *Engine) InitializeMarket(ctx context.Context, cfg domain.MarketConfig, baseDecimals uint8) (domain.MarketConfig, error) {
	cfg.Admin = canonicalID(cfg.Admin)
	if err := cfg.Validate(); err != nil {
		return domain.MarketConfig{}, fmt.Errorf("market: initialize: %w", err)
	}
	if baseDecimals > fixedpoint.MaxDecimals {
		return domain.MarketConfig{}, fmt.Errorf("market: initialize: %w: base decimals", domain.ErrInvalidRate)
	}
	now := e.clock()
	cfg.UpdatedAt = now

	err := e.store.InTx(ctx, func(tx domain.Tx) error {
		_, err := tx.MarketConfig(ctx)
		switch {
		case err == nil:
			return domain.ErrMarketInitialized
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}
		if err := tx.SaveMarketConfig(ctx, cfg); err != nil {
			return err
		}
		err = tx.CreateCurrency(ctx, domain.CurrencyRate{
			ID:           cfg.BaseCurrency,
			PriceInBase:  1,
			Decimals:     baseDecimals,
			Enabled:      true,
			Withdrawable: true,
			CreatedAt:    now,
		})
		if errors.Is(err, domain.ErrAlreadyExists) {
			return domain.ErrCurrencyAlreadyRegistered
		}
		return err
	})
	if err != nil {
		return domain.MarketConfig{}, fmt.Errorf("market: initialize: %w", err)
	}
	e.logger.InfoContext(ctx, "market: initialized",
		slog.String("admin", cfg.Admin),
		slog.String("base_currency", cfg.BaseCurrency),
	)
	return cfg, nil
}

// ConfigPatch updates selected MarketConfig fields. Nil fields are kept.
type ConfigPatch struct {
	Admin                    *string
	ProtocolFeeBps           *uint64
	CreatorFeeBps            *uint64
	ProtocolSettlementFeeBps *uint64
	CreatorWinFeeBps         *uint64
	MotherFeeBps             *uint64
	BaseDuration             *time.Duration
	MaxDuration              *time.Duration
	ExtensionPerUnit         *time.Duration
	CostPerUnit              *uint64
	TieBreak                 *domain.TieBreak
	InitialSocialScore       *int64
	MaxSessionLifetime       *time.Duration
}

func (p ConfigPatch) apply(cfg *domain.MarketConfig) {
	set := func(dst *uint64, v *uint64) {
		if v != nil {
			*dst = *v
		}
	}
	setDur := func(dst *time.Duration, v *time.Duration) {
		if v != nil {
			*dst = *v
		}
	}
	if p.Admin != nil {
		cfg.Admin = canonicalID(*p.Admin)
	}
	set(&cfg.ProtocolFeeBps, p.ProtocolFeeBps)
	set(&cfg.CreatorFeeBps, p.CreatorFeeBps)
	set(&cfg.ProtocolSettlementFeeBps, p.ProtocolSettlementFeeBps)
	set(&cfg.CreatorWinFeeBps, p.CreatorWinFeeBps)
	set(&cfg.MotherFeeBps, p.MotherFeeBps)
	set(&cfg.CostPerUnit, p.CostPerUnit)
	setDur(&cfg.BaseDuration, p.BaseDuration)
	setDur(&cfg.MaxDuration, p.MaxDuration)
	setDur(&cfg.ExtensionPerUnit, p.ExtensionPerUnit)
	setDur(&cfg.MaxSessionLifetime, p.MaxSessionLifetime)
	if p.TieBreak != nil {
		cfg.TieBreak = *p.TieBreak
	}
	if p.InitialSocialScore != nil {
		cfg.InitialSocialScore = *p.InitialSocialScore
	}
}

// UpdateConfig applies patch as the admin. The base currency is fixed at
// initialization. Changes affect future operations only.
func (e *Engine) UpdateConfig(ctx context.Context, caller string, patch ConfigPatch) (domain.MarketConfig, error) {
	caller = canonicalID(caller)
	var cfg domain.MarketConfig
	err := e.store.InTx(ctx, func(tx domain.Tx) error {
		var err error
		if cfg, err = loadConfig(ctx, tx); err != nil {
			return err
		}
		if err := requireAdmin(cfg, caller); err != nil {
			return err
		}
		patch.apply(&cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}
		cfg.UpdatedAt = e.clock()
		return tx.SaveMarketConfig(ctx, cfg)
	})
	if err != nil {
		return domain.MarketConfig{}, fmt.Errorf("market: update config: %w", err)
	}
	e.logger.InfoContext(ctx, "market: config updated", slog.String("admin", cfg.Admin))
	return cfg, nil
}

// RegisterCurrencyParams describes an alternative payment currency.
type RegisterCurrencyParams struct {
	ID           string
	PriceInBase  uint64
	Decimals     uint8
	Enabled      bool
	Withdrawable bool
}

// RegisterCurrency adds an alternative currency. Its rate is immutable
// afterwards.
func (e *Engine) RegisterCurrency(ctx context.Context, caller string, p RegisterCurrencyParams) (domain.CurrencyRate, error) {
	caller = canonicalID(caller)
	if p.ID == "" {
		return domain.CurrencyRate{}, fmt.Errorf("market: register currency: %w: empty id", domain.ErrInvalidInput)
	}
	if p.PriceInBase == 0 || p.Decimals > fixedpoint.MaxDecimals {
		return domain.CurrencyRate{}, fmt.Errorf("market: register currency: %w", domain.ErrInvalidRate)
	}
	rate := domain.CurrencyRate{
		ID:           p.ID,
		PriceInBase:  p.PriceInBase,
		Decimals:     p.Decimals,
		Enabled:      p.Enabled,
		Withdrawable: p.Withdrawable,
		CreatedAt:    e.clock(),
	}
	err := e.store.InTx(ctx, func(tx domain.Tx) error {
		cfg, err := loadConfig(ctx, tx)
		if err != nil {
			return err
		}
		if err := requireAdmin(cfg, caller); err != nil {
			return err
		}
		if p.ID == cfg.BaseCurrency {
			return domain.ErrBaseCurrencyAlternative
		}
		err = tx.CreateCurrency(ctx, rate)
		if errors.Is(err, domain.ErrAlreadyExists) {
			return domain.ErrCurrencyAlreadyRegistered
		}
		return err
	})
	if err != nil {
		return domain.CurrencyRate{}, fmt.Errorf("market: register currency: %w", err)
	}
	e.logger.InfoContext(ctx, "market: currency registered",
		slog.String("currency", rate.ID),
		slog.Uint64("price_in_base", rate.PriceInBase),
	)
	return rate, nil
}

// SetCurrencyEnabled toggles whether a currency may pay for votes.
func (e *Engine) SetCurrencyEnabled(ctx context.Context, caller, id string, enabled bool) (domain.CurrencyRate, error) {
	return e.updateCurrency(ctx, caller, id, func(c *domain.CurrencyRate) { c.Enabled = enabled })
}

// SetCurrencyWithdrawable toggles whether balances in a currency may leave
// the engine.
func (e *Engine) SetCurrencyWithdrawable(ctx context.Context, caller, id string, withdrawable bool) (domain.CurrencyRate, error) {
	return e.updateCurrency(ctx, caller, id, func(c *domain.CurrencyRate) { c.Withdrawable = withdrawable })
}

func (e *Engine) updateCurrency(ctx context.Context, caller, id string, mutate func(*domain.CurrencyRate)) (domain.CurrencyRate, error) {
	caller = canonicalID(caller)
	var rate domain.CurrencyRate
	err := e.store.InTx(ctx, func(tx domain.Tx) error {
		cfg, err := loadConfig(ctx, tx)
		if err != nil {
			return err
		}
		if err := requireAdmin(cfg, caller); err != nil {
			return err
		}
		if rate, err = tx.Currency(ctx, id); err != nil {
			return fmt.Errorf("currency %s: %w", id, err)
		}
		mutate(&rate)
		return tx.UpdateCurrency(ctx, rate)
	})
	if err != nil {
		return domain.CurrencyRate{}, fmt.Errorf("market: update currency: %w", err)
	}
	return rate, nil
}
