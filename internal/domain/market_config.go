package domain

import (
	"fmt"
	"time"
)

// BpsDenominator is 100% in basis points.
const BpsDenominator uint64 = 10_000

// TieBreak decides what happens to a pot when both sides staked equal cost.
type TieBreak string

const (
	// TieBreakTreasury sends the distributable pot to the treasury.
	TieBreakTreasury TieBreak = "treasury"
	// TieBreakPump resolves the tie in favour of the Pump side.
	TieBreakPump TieBreak = "pump"
)

// MarketConfig is the market-wide singleton. Only the admin may change it.
type MarketConfig struct {
	Admin        string `json:"admin"`
	BaseCurrency string `json:"base_currency"`

	ProtocolFeeBps           uint64 `json:"protocol_fee_bps"`
	CreatorFeeBps            uint64 `json:"creator_fee_bps"`
	ProtocolSettlementFeeBps uint64 `json:"protocol_settlement_fee_bps"`
	CreatorWinFeeBps         uint64 `json:"creator_win_fee_bps"`
	MotherFeeBps             uint64 `json:"mother_fee_bps"`

	BaseDuration     time.Duration `json:"base_duration"`
	MaxDuration      time.Duration `json:"max_duration"`
	ExtensionPerUnit time.Duration `json:"extension_per_unit"`

	CostPerUnit        uint64        `json:"cost_per_unit"`
	TieBreak           TieBreak      `json:"tie_break"`
	InitialSocialScore int64         `json:"initial_social_score"`
	MaxSessionLifetime time.Duration `json:"max_session_lifetime"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// Validate checks the invariants the engine relies on. The returned error
// wraps ErrInvalidConfig.
func (c MarketConfig) Validate() error {
	switch {
	case c.Admin == "":
		return fmt.Errorf("%w: admin must be set", ErrInvalidConfig)
	case c.BaseCurrency == "":
		return fmt.Errorf("%w: base currency must be set", ErrInvalidConfig)
	case c.ProtocolFeeBps+c.CreatorFeeBps > BpsDenominator:
		return fmt.Errorf("%w: vote fees exceed 100%%", ErrInvalidConfig)
	case c.ProtocolSettlementFeeBps > BpsDenominator,
		c.CreatorWinFeeBps > BpsDenominator,
		c.MotherFeeBps > BpsDenominator:
		return fmt.Errorf("%w: settlement fee exceeds 100%%", ErrInvalidConfig)
	case c.BaseDuration <= 0:
		return fmt.Errorf("%w: base duration must be positive", ErrInvalidConfig)
	case c.MaxDuration < c.BaseDuration:
		return fmt.Errorf("%w: max duration below base duration", ErrInvalidConfig)
	case c.ExtensionPerUnit < 0:
		return fmt.Errorf("%w: negative extension", ErrInvalidConfig)
	case c.CostPerUnit == 0:
		return fmt.Errorf("%w: cost per unit must be positive", ErrInvalidConfig)
	case c.TieBreak != TieBreakTreasury && c.TieBreak != TieBreakPump:
		return fmt.Errorf("%w: unknown tie break %q", ErrInvalidConfig, c.TieBreak)
	case c.MaxSessionLifetime <= 0:
		return fmt.Errorf("%w: session lifetime must be positive", ErrInvalidConfig)
	}
	return nil
}
