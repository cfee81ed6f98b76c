package domain

import "time"

// TraitCount is the number of signed trait fields carried by a participant.
const TraitCount = 9

// TraitVector is an optional set of signed traits. When enabled, their sum
// replaces the stored social score.
type TraitVector struct {
	Enabled bool              `json:"enabled"`
	Values  [TraitCount]int16 `json:"values"`
}

// Sum returns the signed sum of all trait values.
func (t TraitVector) Sum() int64 {
	var total int64
	for _, v := range t.Values {
		total += int64(v)
	}
	return total
}

// Participant is the per-identity record consulted by pricing.
type Participant struct {
	Identity    string      `json:"identity"`
	SocialScore int64       `json:"social_score"`
	Traits      TraitVector `json:"traits"`
	CreatedAt   time.Time   `json:"created_at"`
}

// EffectiveScore is the score used by the pricing engine.
func (p Participant) EffectiveScore() int64 {
	if p.Traits.Enabled {
		return p.Traits.Sum()
	}
	return p.SocialScore
}
