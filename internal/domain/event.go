package domain

import "time"

// Channel names used on the SignalBus.
const (
	ChannelSettlement = "ch:settlement"
	StreamMarket      = "stream:market"
)

// PostChannel is the pub/sub channel carrying updates for one post.
func PostChannel(postID string) string { return "ch:post:" + postID }

// EventType labels market events.
type EventType string

const (
	EventVote       EventType = "vote"
	EventSettlement EventType = "settlement"
	EventClaim      EventType = "claim"
	EventPost       EventType = "post_created"
)

// MarketEvent is the JSON envelope published after a committed mutation.
type MarketEvent struct {
	Type      EventType `json:"type"`
	PostID    string    `json:"post_id"`
	Actor     string    `json:"actor,omitempty"`
	Currency  string    `json:"currency,omitempty"`
	Side      Side      `json:"side,omitempty"`
	Units     uint64    `json:"units,omitempty"`
	Amount    uint64    `json:"amount,omitempty"`
	Post      *Post     `json:"post,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
