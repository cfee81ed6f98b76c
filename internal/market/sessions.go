package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/alanyoungcy/opinionsmarket/internal/domain"
)

var knownPrivileges = []string{
	domain.PrivilegeVote,
	domain.PrivilegeClaim,
	domain.PrivilegePost,
	domain.PrivilegeSend,
	domain.PrivilegeWithdraw,
}

// RegisterSessionParams carries a signed delegation request.
type RegisterSessionParams struct {
	Participant string
	SessionKey  string
	ExpiresAt   time.Time
	Privileges  []string
	Signature   string
}

// RegisterSession verifies the participant's signature over the grant and
// creates or refreshes it. Grants are never revoked; they lapse at
// ExpiresAt.
func (e *Engine) RegisterSession(ctx context.Context, p RegisterSessionParams) (domain.SessionGrant, error) {
	canonicalIDs(&p.Participant, &p.SessionKey)
	now := e.clock()
	for _, priv := range p.Privileges {
		if !slices.Contains(knownPrivileges, priv) {
			return domain.SessionGrant{}, fmt.Errorf("market: register session: %w: unknown privilege %q", domain.ErrInvalidInput, priv)
		}
	}
	if p.SessionKey == "" || p.SessionKey == p.Participant {
		return domain.SessionGrant{}, fmt.Errorf("market: register session: %w: session key must differ from participant", domain.ErrInvalidInput)
	}

	privileges := slices.Clone(p.Privileges)
	slices.Sort(privileges)
	privileges = slices.Compact(privileges)

	var grant domain.SessionGrant
	err := e.store.InTx(ctx, func(tx domain.Tx) error {
		cfg, err := loadConfig(ctx, tx)
		if err != nil {
			return err
		}
		if !p.ExpiresAt.After(now) || p.ExpiresAt.After(now.Add(cfg.MaxSessionLifetime)) {
			return domain.ErrInvalidSessionExpiry
		}

		grant = domain.SessionGrant{
			Participant:    p.Participant,
			SessionKey:     p.SessionKey,
			ExpiresAt:      p.ExpiresAt.UTC(),
			Privileges:     privileges,
			PrivilegesHash: e.verifier.HashPrivileges(privileges),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := e.verifier.VerifyGrant(grant, p.Signature); err != nil {
			return err
		}

		prev, err := tx.Session(ctx, p.Participant, p.SessionKey)
		switch {
		case err == nil:
			grant.CreatedAt = prev.CreatedAt
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}
		return tx.SaveSession(ctx, grant)
	})
	if err != nil {
		return domain.SessionGrant{}, fmt.Errorf("market: register session: %w", err)
	}
	e.logger.InfoContext(ctx, "market: session registered",
		slog.String("participant", grant.Participant),
		slog.String("session_key", grant.SessionKey),
		slog.Time("expires_at", grant.ExpiresAt),
	)
	return grant, nil
}

// authorize succeeds when caller is principal, or when caller holds a live
// session grant from principal covering privilege.
func authorize(ctx context.Context, tx domain.Tx, caller, principal, privilege string, now time.Time) error {
	if caller == "" {
		return domain.ErrUnauthorized
	}
	if caller == principal {
		return nil
	}
	g, err := tx.Session(ctx, principal, caller)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ErrUnauthorized
	}
	if err != nil {
		return err
	}
	if !now.Before(g.ExpiresAt) {
		return domain.ErrSessionExpired
	}
	if !g.Allows(privilege) {
		return fmt.Errorf("%w: session lacks %q", domain.ErrUnauthorized, privilege)
	}
	return nil
}

func requireAdmin(cfg domain.MarketConfig, caller string) error {
	if caller == "" || caller != cfg.Admin {
		return fmt.Errorf("%w: admin only", domain.ErrUnauthorized)
	}
	return nil
}
