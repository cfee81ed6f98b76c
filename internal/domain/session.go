package domain

import "time"

// Privileges a delegated session key may be granted.
const (
	PrivilegeVote     = "vote"
	PrivilegeClaim    = "claim"
	PrivilegePost     = "post"
	PrivilegeSend     = "send"
	PrivilegeWithdraw = "withdraw"
)

// SessionGrant lets an ephemeral key act for a participant until ExpiresAt.
// Grants expire naturally and are never revoked.
type SessionGrant struct {
	Participant string    `json:"participant"`
	SessionKey  string    `json:"session_key"`
	ExpiresAt   time.Time `json:"expires_at"`

	// Privileges is empty for an unrestricted grant.
	Privileges     []string  `json:"privileges"`
	PrivilegesHash string    `json:"privileges_hash"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Allows reports whether the grant covers privilege.
func (g SessionGrant) Allows(privilege string) bool {
	if len(g.Privileges) == 0 {
		return true
	}
	for _, p := range g.Privileges {
		if p == privilege {
			return true
		}
	}
	return false
}
