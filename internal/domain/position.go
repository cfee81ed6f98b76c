package domain

import "time"

// Position is one participant's cumulative stake on one post. It is created
// lazily on the first vote and only ever grows.
type Position struct {
	Participant   string    `json:"participant"`
	PostID        string    `json:"post_id"`
	UpvoteUnits   uint64    `json:"upvote_units"`
	DownvoteUnits uint64    `json:"downvote_units"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Units returns the units held on side.
func (p Position) Units(s Side) uint64 {
	if s == SideSmack {
		return p.DownvoteUnits
	}
	return p.UpvoteUnits
}
