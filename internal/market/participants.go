package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/opinionsmarket/internal/domain"
)

// CreateParticipant registers identity with the configured initial score.
// A second call for the same identity fails with ErrAlreadyExists.
func (e *Engine) CreateParticipant(ctx context.Context, identity string) (domain.Participant, error) {
	identity = canonicalID(identity)
	if identity == "" {
		return domain.Participant{}, fmt.Errorf("market: create participant: %w: empty identity", domain.ErrInvalidInput)
	}
	var p domain.Participant
	err := e.store.InTx(ctx, func(tx domain.Tx) error {
		cfg, err := loadConfig(ctx, tx)
		if err != nil {
			return err
		}
		p = newParticipant(cfg, identity, e.clock())
		return tx.CreateParticipant(ctx, p)
	})
	if err != nil {
		return domain.Participant{}, fmt.Errorf("market: create participant: %w", err)
	}
	return p, nil
}

// ReputationUpdate is pushed by the external effects system.
type ReputationUpdate struct {
	SocialScore *int64
	Traits      *domain.TraitVector
}

// UpdateReputation overwrites a participant's score or traits. Only the admin
// relays these updates; pricing reads them on the next vote.
func (e *Engine) UpdateReputation(ctx context.Context, caller, identity string, u ReputationUpdate) (domain.Participant, error) {
	canonicalIDs(&caller, &identity)
	var p domain.Participant
	err := e.store.InTx(ctx, func(tx domain.Tx) error {
		cfg, err := loadConfig(ctx, tx)
		if err != nil {
			return err
		}
		if err := requireAdmin(cfg, caller); err != nil {
			return err
		}
		if p, err = tx.Participant(ctx, identity); err != nil {
			return fmt.Errorf("participant %s: %w", identity, err)
		}
		if u.SocialScore != nil {
			p.SocialScore = *u.SocialScore
		}
		if u.Traits != nil {
			p.Traits = *u.Traits
		}
		return tx.UpdateParticipant(ctx, p)
	})
	if err != nil {
		return domain.Participant{}, fmt.Errorf("market: update reputation: %w", err)
	}
	return p, nil
}

// ensureParticipant returns identity's record, creating it on first use.
func ensureParticipant(ctx context.Context, tx domain.Tx, cfg domain.MarketConfig, identity string, now time.Time) (domain.Participant, error) {
	p, err := tx.Participant(ctx, identity)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Participant{}, err
	}
	p = newParticipant(cfg, identity, now)
	if err := tx.CreateParticipant(ctx, p); err != nil {
		return domain.Participant{}, err
	}
	return p, nil
}

func newParticipant(cfg domain.MarketConfig, identity string, now time.Time) domain.Participant {
	return domain.Participant{
		Identity:    identity,
		SocialScore: cfg.InitialSocialScore,
		CreatedAt:   now,
	}
}
