package pricing

import (
	"fmt"

	"github.com/alanyoungcy/opinionsmarket/internal/domain"
	"github.com/alanyoungcy/opinionsmarket/internal/fixedpoint"
)

// VoteSplit divides a vote's cost. Protocol+Creator+Pot always equals the
// cost it was computed from.
type VoteSplit struct {
	Protocol uint64 `json:"protocol_fee"`
	Creator  uint64 `json:"creator_fee"`
	Pot      uint64 `json:"pot_increment"`
}

// SplitVote applies the vote fees to cost. The creator fee only applies to
// Pump votes.
func SplitVote(cost uint64, side domain.Side, protocolBps, creatorBps uint64) (VoteSplit, error) {
	var s VoteSplit
	var err error
	if s.Protocol, err = fixedpoint.Bps(cost, protocolBps); err != nil {
		return VoteSplit{}, fmt.Errorf("pricing: protocol fee: %w", err)
	}
	if side == domain.SidePump {
		if s.Creator, err = fixedpoint.Bps(cost, creatorBps); err != nil {
			return VoteSplit{}, fmt.Errorf("pricing: creator fee: %w", err)
		}
	}
	fees, err := fixedpoint.Add(s.Protocol, s.Creator)
	if err != nil {
		return VoteSplit{}, fmt.Errorf("pricing: fees: %w", err)
	}
	if s.Pot, err = fixedpoint.Sub(cost, fees); err != nil {
		return VoteSplit{}, fmt.Errorf("pricing: pot: %w", err)
	}
	return s, nil
}

// SettlementRates selects which settlement fees apply to a pot.
type SettlementRates struct {
	MotherBps     uint64
	ProtocolBps   uint64
	CreatorWinBps uint64
	// PayMother is set for Normal replies and quotes whose parent is Open.
	PayMother bool
	// PumpWon enables the creator win fee.
	PumpWon bool
}

// SettlementSplit is how a pot is divided at settlement.
type SettlementSplit struct {
	Mother      uint64
	Protocol    uint64
	Creator     uint64
	TotalPayout uint64
}

// SplitSettlement takes the mother fee from pot, then the protocol fee from
// what remains, then the creator win fee from what remains after that.
func SplitSettlement(pot uint64, r SettlementRates) (SettlementSplit, error) {
	var s SettlementSplit
	rest := pot
	take := func(bps uint64) (uint64, error) {
		fee, err := fixedpoint.Bps(rest, bps)
		if err != nil {
			return 0, err
		}
		rest -= fee
		return fee, nil
	}

	var err error
	if r.PayMother {
		if s.Mother, err = take(r.MotherBps); err != nil {
			return SettlementSplit{}, fmt.Errorf("pricing: mother fee: %w", err)
		}
	}
	if s.Protocol, err = take(r.ProtocolBps); err != nil {
		return SettlementSplit{}, fmt.Errorf("pricing: settlement fee: %w", err)
	}
	if r.PumpWon {
		if s.Creator, err = take(r.CreatorWinBps); err != nil {
			return SettlementSplit{}, fmt.Errorf("pricing: creator win fee: %w", err)
		}
	}
	s.TotalPayout = rest
	return s, nil
}

// PayoutPerUnit scales total over the winning units by domain.Precision. It
// is zero when nobody holds winning units.
func PayoutPerUnit(total, winningUnits uint64) (uint64, error) {
	if winningUnits == 0 {
		return 0, nil
	}
	v, err := fixedpoint.MulDiv(total, domain.Precision, winningUnits)
	if err != nil {
		return 0, fmt.Errorf("pricing: payout per unit: %w", err)
	}
	return v, nil
}

// Reward is a holder's share of a settled pot. Truncation favours the pot.
func Reward(units, payoutPerUnit uint64) (uint64, error) {
	v, err := fixedpoint.MulDiv(units, payoutPerUnit, domain.Precision)
	if err != nil {
		return 0, fmt.Errorf("pricing: reward: %w", err)
	}
	return v, nil
}
