package domain

import "time"

// Precision scales payout-per-unit so integer division keeps six decimal
// places.
const Precision uint64 = 1_000_000

// SettlementSnapshot is the frozen division of a post's pot for one currency.
// It is written once and never modified.
type SettlementSnapshot struct {
	PostID        string  `json:"post_id"`
	Currency      string  `json:"currency"`
	Outcome       Outcome `json:"outcome"`
	InitialPot    uint64  `json:"initial_pot"`
	MotherFee     uint64  `json:"mother_fee"`
	ProtocolFee   uint64  `json:"protocol_fee"`
	CreatorFee    uint64  `json:"creator_fee"`
	TotalPayout   uint64  `json:"total_payout"`
	WinningUnits  uint64  `json:"winning_units"`
	PayoutPerUnit uint64  `json:"payout_per_unit"`

	// Swept is set when TotalPayout went to the treasury because nobody can
	// claim it (a tie, or no units on the winning side).
	Swept     bool      `json:"swept"`
	Frozen    bool      `json:"frozen"`
	SettledAt time.Time `json:"settled_at"`
}

// ClaimRecord guarantees at most one payout per (participant, post, currency).
type ClaimRecord struct {
	Participant string    `json:"participant"`
	PostID      string    `json:"post_id"`
	Currency    string    `json:"currency"`
	Claimed     bool      `json:"claimed"`
	Amount      uint64    `json:"amount"`
	ClaimedAt   time.Time `json:"claimed_at"`
}
