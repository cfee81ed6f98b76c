// Package pricing computes vote costs, fee splits and settlement payouts.
// Every function is pure and deterministic; all arithmetic is checked and
// each step floors.
package pricing

import (
	"fmt"

	"github.com/alanyoungcy/opinionsmarket/internal/domain"
	"github.com/alanyoungcy/opinionsmarket/internal/fixedpoint"
)

const (
	// MaxUnits caps both the purchased and the prior unit counts.
	MaxUnits uint64 = 1_000_000

	PumpMultiplier  uint64 = 1
	SmackMultiplier uint64 = 10

	MinSocialBps uint64 = 5_000
	MaxSocialBps uint64 = 20_000
	// SocialScoreScale is the score magnitude at which the social multiplier
	// reaches its bound.
	SocialScoreScale int64 = 10_000

	CurveBaseBps uint64 = 10_000
	CurveStepBps uint64 = 5
	CurveMaxBps  uint64 = 1_000_000
	SurchargeBps uint64 = 11_000
)

// Quote is everything the cost of one vote depends on.
type Quote struct {
	Side  domain.Side
	Units uint64
	// Prev is the voter's prior units on Side for this post.
	Prev uint64
	// SideCost is the post's cumulative base-unit cost on Side. The curve
	// reads it in cost-units, that is divided by CostPerUnit.
	SideCost    uint64
	Relation    domain.RelationKind
	SocialScore int64
	CostPerUnit uint64
}

// Breakdown exposes each intermediate of a cost computation.
type Breakdown struct {
	Raw        uint64 `json:"raw"`
	SocialBps  uint64 `json:"social_bps"`
	CurveBps   uint64 `json:"curve_bps"`
	Surcharged bool   `json:"surcharged"`
	Cost       uint64 `json:"cost"`
}

// VoteCost returns the base-currency cost of q. The result is at least 1.
func VoteCost(q Quote) (uint64, error) {
	b, err := Explain(q)
	if err != nil {
		return 0, err
	}
	return b.Cost, nil
}

// Explain computes the cost of q and reports the intermediate multipliers.
func Explain(q Quote) (Breakdown, error) {
	if q.Units == 0 {
		return Breakdown{}, domain.ErrZeroUnits
	}
	if !q.Side.Valid() {
		return Breakdown{}, fmt.Errorf("pricing: unknown side %q", q.Side)
	}

	units := min(q.Units, MaxUnits)
	prev := min(q.Prev, MaxUnits)
	perUnit := max(q.CostPerUnit, 1)

	raw, err := fixedpoint.Mul(units, SideMultiplier(q.Side))
	if err != nil {
		return Breakdown{}, fmt.Errorf("pricing: raw: %w", err)
	}
	if raw, err = fixedpoint.Mul(raw, prev+1); err != nil {
		return Breakdown{}, fmt.Errorf("pricing: raw: %w", err)
	}

	b := Breakdown{
		Raw:        raw,
		SocialBps:  SocialBps(q.SocialScore),
		CurveBps:   CurveBps(q.SideCost / perUnit),
		Surcharged: HasSurcharge(q.Relation),
	}

	cost, err := fixedpoint.Bps(raw, b.SocialBps)
	if err != nil {
		return Breakdown{}, fmt.Errorf("pricing: social: %w", err)
	}
	if cost, err = fixedpoint.Bps(cost, b.CurveBps); err != nil {
		return Breakdown{}, fmt.Errorf("pricing: curve: %w", err)
	}
	if b.Surcharged {
		if cost, err = fixedpoint.Bps(cost, SurchargeBps); err != nil {
			return Breakdown{}, fmt.Errorf("pricing: surcharge: %w", err)
		}
	}

	if cost, err = fixedpoint.Mul(cost, perUnit); err != nil {
		return Breakdown{}, fmt.Errorf("pricing: scale: %w", err)
	}
	b.Cost = max(cost, 1)
	return b, nil
}

// SideMultiplier makes Smack votes more expensive than Pump votes.
func SideMultiplier(s domain.Side) uint64 {
	if s == domain.SideSmack {
		return SmackMultiplier
	}
	return PumpMultiplier
}

// SocialBps maps a social score onto [MinSocialBps, MaxSocialBps]. Positive
// scores discount linearly towards 0.5x; negative scores surcharge linearly
// towards 2.0x. A zero score is neutral.
func SocialBps(score int64) uint64 {
	var bps uint64
	if score >= 0 {
		s := uint64(min(score, SocialScoreScale))
		bps = domain.BpsDenominator - s*5_000/uint64(SocialScoreScale)
	} else {
		neg := SocialScoreScale
		if score > -SocialScoreScale {
			neg = -score
		}
		bps = domain.BpsDenominator + uint64(neg)*10_000/uint64(SocialScoreScale)
	}
	return min(max(bps, MinSocialBps), MaxSocialBps)
}

// CurveBps is the bonding-curve multiplier for a side already carrying
// costUnits of cumulative cost, before CostPerUnit scaling.
func CurveBps(costUnits uint64) uint64 {
	// Past this point the multiplier is pinned to its cap, which also keeps
	// the step product inside 64 bits.
	const saturation = (CurveMaxBps - CurveBaseBps) / CurveStepBps
	if costUnits >= saturation {
		return CurveMaxBps
	}
	return max(CurveBaseBps+costUnits*CurveStepBps, CurveBaseBps)
}

// HasSurcharge reports whether the relation carries the non-root premium.
func HasSurcharge(r domain.RelationKind) bool {
	return r.HasParent()
}
