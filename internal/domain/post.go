package domain

import (
	"fmt"
	"time"
)

// Side is the direction a stake is cast on a post.
type Side string

const (
	SidePump  Side = "pump"
	SideSmack Side = "smack"
)

// Valid reports whether s is one of the two known sides.
func (s Side) Valid() bool {
	return s == SidePump || s == SideSmack
}

// ParseSide converts a wire value into a Side.
func ParseSide(v string) (Side, error) {
	s := Side(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown side %q", v)
	}
	return s, nil
}

// RelationKind is a post's structural link to another post.
type RelationKind string

const (
	RelationRoot     RelationKind = "root"
	RelationReply    RelationKind = "reply"
	RelationQuote    RelationKind = "quote"
	RelationAnswerTo RelationKind = "answer_to"
)

// HasParent reports whether the relation points at another post.
func (r RelationKind) HasParent() bool {
	return r == RelationReply || r == RelationQuote || r == RelationAnswerTo
}

// PostFunction distinguishes plain posts from question/answer threads.
type PostFunction string

const (
	FunctionNormal   PostFunction = "normal"
	FunctionQuestion PostFunction = "question"
	FunctionAnswer   PostFunction = "answer"
)

// PostState is the post lifecycle. Settled is terminal.
type PostState string

const (
	PostStateOpen    PostState = "open"
	PostStateSettled PostState = "settled"
)

// Outcome is the resolved result of a post. It is fixed by the first
// settlement of the post and shared by every currency.
type Outcome string

const (
	OutcomeNone  Outcome = ""
	OutcomePump  Outcome = "pump"
	OutcomeSmack Outcome = "smack"
	OutcomeTie   Outcome = "tie"
)

// WinningSide returns the side that won, or false for a tie or an
// unresolved post.
func (o Outcome) WinningSide() (Side, bool) {
	switch o {
	case OutcomePump:
		return SidePump, true
	case OutcomeSmack:
		return SideSmack, true
	default:
		return "", false
	}
}

// OutcomeFor maps a winning side to its outcome.
func OutcomeFor(s Side) Outcome {
	if s == SideSmack {
		return OutcomeSmack
	}
	return OutcomePump
}

// Post is a piece of content that participants stake on.
type Post struct {
	ID        string       `json:"id"`
	Creator   string       `json:"creator"`
	ContentID string       `json:"content_id"`
	Function  PostFunction `json:"function"`
	Relation  RelationKind `json:"relation"`
	ParentID  string       `json:"parent_id,omitempty"`

	// Cost totals drive the bonding curve and decide the winner.
	UpvoteCost   uint64 `json:"upvote_cost"`
	DownvoteCost uint64 `json:"downvote_cost"`
	// Unit totals are the payout denominator.
	UpvoteUnits   uint64 `json:"upvote_units"`
	DownvoteUnits uint64 `json:"downvote_units"`

	State         PostState `json:"state"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	Outcome       Outcome   `json:"outcome,omitempty"`
	ForcedOutcome Side      `json:"forced_outcome,omitempty"`
	SettledAt     time.Time `json:"settled_at,omitzero"`
}

// CostTotal returns the cumulative cost staked on side.
func (p Post) CostTotal(s Side) uint64 {
	if s == SideSmack {
		return p.DownvoteCost
	}
	return p.UpvoteCost
}

// UnitTotal returns the cumulative units staked on side.
func (p Post) UnitTotal(s Side) uint64 {
	if s == SideSmack {
		return p.DownvoteUnits
	}
	return p.UpvoteUnits
}

// AcceptingVotes reports whether a vote at now falls inside the open window.
func (p Post) AcceptingVotes(now time.Time) bool {
	return p.State == PostStateOpen && now.Before(p.EndTime)
}

// ListPostsOpts filters post listings.
type ListPostsOpts struct {
	ListOpts
	State   PostState
	Creator string
	// EndedBefore selects posts whose voting window closed before the time.
	EndedBefore *time.Time
}
