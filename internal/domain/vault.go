package domain

import "time"

// OwnerKind classifies custodial balance owners.
type OwnerKind string

const (
	OwnerParticipant OwnerKind = "participant"
	OwnerEscrow      OwnerKind = "escrow"
	OwnerCreator     OwnerKind = "creator"
	OwnerTreasury    OwnerKind = "treasury"
)

// Valid reports whether k is a known owner kind.
func (k OwnerKind) Valid() bool {
	switch k {
	case OwnerParticipant, OwnerEscrow, OwnerCreator, OwnerTreasury:
		return true
	}
	return false
}

// Owner identifies one custodial balance holder.
type Owner struct {
	Kind OwnerKind `json:"kind"`
	ID   string    `json:"id"`
}

// ParticipantOwner is the spendable vault of a participant.
func ParticipantOwner(identity string) Owner { return Owner{Kind: OwnerParticipant, ID: identity} }

// EscrowOwner is the pot of a post.
func EscrowOwner(postID string) Owner { return Owner{Kind: OwnerEscrow, ID: postID} }

// CreatorOwner accumulates fees earned by a content creator.
func CreatorOwner(identity string) Owner { return Owner{Kind: OwnerCreator, ID: identity} }

// TreasuryOwner is the protocol treasury.
func TreasuryOwner() Owner { return Owner{Kind: OwnerTreasury, ID: "treasury"} }

func (o Owner) String() string { return string(o.Kind) + ":" + o.ID }

// BalanceKey addresses one balance.
type BalanceKey struct {
	Owner    Owner  `json:"owner"`
	Currency string `json:"currency"`
}

// VaultBalance is an available balance under engine custody.
type VaultBalance struct {
	BalanceKey
	Amount uint64 `json:"amount"`
}

// LedgerKind records how value moved.
type LedgerKind string

const (
	// LedgerTransfer moves existing value between two balances.
	LedgerTransfer LedgerKind = "transfer"
	// LedgerMint creates value from outside the engine.
	LedgerMint LedgerKind = "mint"
	// LedgerBurn releases value to outside the engine.
	LedgerBurn LedgerKind = "burn"
)

// LedgerEntry is an append-only record of one vault mutation. From is nil
// for mints and To is nil for burns.
type LedgerEntry struct {
	ID        string     `json:"id"`
	Kind      LedgerKind `json:"kind"`
	From      *Owner     `json:"from,omitempty"`
	To        *Owner     `json:"to,omitempty"`
	Currency  string     `json:"currency"`
	Amount    uint64     `json:"amount"`
	Reason    string     `json:"reason"`
	CreatedAt time.Time  `json:"created_at"`
}
