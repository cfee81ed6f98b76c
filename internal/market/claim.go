package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/opinionsmarket/internal/domain"
	"github.com/alanyoungcy/opinionsmarket/internal/pricing"
)

// ClaimParams identifies one reward claim.
type ClaimParams struct {
	PostID      string
	Currency    string
	Participant string
	Caller      string
}

// Claim pays the participant's share of a settled pot. The claim record is
// written even for a zero reward, so each (participant, post, currency) is
// paid at most once.
func (e *Engine) Claim(ctx context.Context, p ClaimParams) (domain.ClaimRecord, error) {
	canonicalIDs(&p.Participant, &p.Caller)
	now := e.clock()
	var rec domain.ClaimRecord
	err := e.store.InTx(ctx, func(tx domain.Tx) error {
		if _, err := loadConfig(ctx, tx); err != nil {
			return err
		}
		if err := authorize(ctx, tx, p.Caller, p.Participant, domain.PrivilegeClaim, now); err != nil {
			return err
		}
		post, err := loadPost(ctx, tx, p.PostID)
		if err != nil {
			return err
		}
		if post.State != domain.PostStateSettled {
			return domain.ErrPostNotSettled
		}
		snap, err := tx.Snapshot(ctx, p.PostID, p.Currency)
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: no %s snapshot", domain.ErrPostNotSettled, p.Currency)
		}
		if err != nil {
			return err
		}
		side, ok := snap.Outcome.WinningSide()
		if !ok {
			return domain.ErrNoWinner
		}
		_, err = tx.ClaimRecord(ctx, p.Participant, p.PostID, p.Currency)
		switch {
		case err == nil:
			return domain.ErrAlreadyClaimed
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}

		var units uint64
		pos, err := tx.Position(ctx, p.Participant, p.PostID)
		switch {
		case err == nil:
			units = pos.Units(side)
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}
		reward, err := pricing.Reward(units, snap.PayoutPerUnit)
		if err != nil {
			return err
		}
		if reward > 0 {
			if err := e.vault.Transfer(ctx, tx, domain.EscrowOwner(p.PostID), domain.ParticipantOwner(p.Participant), p.Currency, reward, "claim"); err != nil {
				return err
			}
		}

		rec = domain.ClaimRecord{
			Participant: p.Participant,
			PostID:      p.PostID,
			Currency:    p.Currency,
			Claimed:     true,
			Amount:      reward,
			ClaimedAt:   now,
		}
		if err := tx.CreateClaimRecord(ctx, rec); err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				return domain.ErrAlreadyClaimed
			}
			return err
		}
		return nil
	})
	if err != nil {
		return domain.ClaimRecord{}, fmt.Errorf("market: claim: %w", err)
	}
	e.logger.InfoContext(ctx, "market: reward claimed",
		slog.String("post_id", p.PostID),
		slog.String("participant", p.Participant),
		slog.String("currency", p.Currency),
		slog.Uint64("amount", rec.Amount),
	)
	return rec, nil
}
