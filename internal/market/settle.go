package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/opinionsmarket/internal/domain"
	"github.com/alanyoungcy/opinionsmarket/internal/pricing"
)

// Settle resolves a post for one currency once its window has closed. It is
// permissionless. The first settlement fixes the post's outcome for every
// currency; each (post, currency) snapshot is created at most once.
func (e *Engine) Settle(ctx context.Context, postID, currency string) (domain.SettlementSnapshot, error) {
	now := e.clock()
	var snap domain.SettlementSnapshot
	err := e.store.InTx(ctx, func(tx domain.Tx) error {
		cfg, err := loadConfig(ctx, tx)
		if err != nil {
			return err
		}
		if _, err := registeredCurrency(ctx, tx, currency); err != nil {
			return err
		}
		post, err := loadPost(ctx, tx, postID)
		if err != nil {
			return err
		}
		if !now.After(post.EndTime) {
			return domain.ErrPostNotExpired
		}
		_, err = tx.Snapshot(ctx, postID, currency)
		switch {
		case err == nil:
			return domain.ErrPostAlreadySettled
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}

		outcome := resolveOutcome(post, cfg.TieBreak)
		payMother, parent, err := motherFeeTarget(ctx, tx, post)
		if err != nil {
			return err
		}

		escrow := domain.EscrowOwner(post.ID)
		pot, err := e.vault.Balance(ctx, tx, escrow, currency)
		if err != nil {
			return err
		}
		split, err := pricing.SplitSettlement(pot, pricing.SettlementRates{
			MotherBps:     cfg.MotherFeeBps,
			ProtocolBps:   cfg.ProtocolSettlementFeeBps,
			CreatorWinBps: cfg.CreatorWinFeeBps,
			PayMother:     payMother,
			PumpWon:       outcome == domain.OutcomePump,
		})
		if err != nil {
			return err
		}

		if payMother {
			if err := e.vault.Transfer(ctx, tx, escrow, domain.EscrowOwner(parent), currency, split.Mother, "settle_mother_fee"); err != nil {
				return err
			}
		}
		if err := e.vault.Transfer(ctx, tx, escrow, domain.TreasuryOwner(), currency, split.Protocol, "settle_protocol_fee"); err != nil {
			return err
		}
		if err := e.vault.Transfer(ctx, tx, escrow, domain.CreatorOwner(post.Creator), currency, split.Creator, "settle_creator_fee"); err != nil {
			return err
		}

		snap = domain.SettlementSnapshot{
			PostID:      post.ID,
			Currency:    currency,
			Outcome:     outcome,
			InitialPot:  pot,
			MotherFee:   split.Mother,
			ProtocolFee: split.Protocol,
			CreatorFee:  split.Creator,
			TotalPayout: split.TotalPayout,
			Frozen:      true,
			SettledAt:   now,
		}
		if side, ok := outcome.WinningSide(); ok {
			snap.WinningUnits = post.UnitTotal(side)
		}
		if snap.WinningUnits == 0 {
			// Nobody can claim, so the payout goes to the treasury.
			if err := e.vault.Transfer(ctx, tx, escrow, domain.TreasuryOwner(), currency, split.TotalPayout, "settle_sweep"); err != nil {
				return err
			}
			snap.Swept = true
		} else if snap.PayoutPerUnit, err = pricing.PayoutPerUnit(split.TotalPayout, snap.WinningUnits); err != nil {
			return err
		}

		if err := tx.CreateSnapshot(ctx, snap); err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				return domain.ErrPostAlreadySettled
			}
			return err
		}
		if post.State != domain.PostStateSettled {
			post.State = domain.PostStateSettled
			post.Outcome = outcome
			post.SettledAt = now
			if err := tx.UpdatePost(ctx, post); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.SettlementSnapshot{}, fmt.Errorf("market: settle: %w", err)
	}
	e.logger.InfoContext(ctx, "market: post settled",
		slog.String("post_id", postID),
		slog.String("currency", currency),
		slog.String("outcome", string(snap.Outcome)),
		slog.Uint64("pot", snap.InitialPot),
		slog.Uint64("total_payout", snap.TotalPayout),
		slog.Bool("swept", snap.Swept),
	)
	return snap, nil
}

// resolveOutcome picks the winner. An outcome fixed by an earlier
// settlement is reused; a forced outcome beats the cost totals; equal cost
// totals follow the tie-break policy.
func resolveOutcome(post domain.Post, tie domain.TieBreak) domain.Outcome {
	if post.Outcome != domain.OutcomeNone {
		return post.Outcome
	}
	if post.Function == domain.FunctionAnswer && post.ForcedOutcome.Valid() {
		return domain.OutcomeFor(post.ForcedOutcome)
	}
	switch {
	case post.UpvoteCost > post.DownvoteCost:
		return domain.OutcomePump
	case post.DownvoteCost > post.UpvoteCost:
		return domain.OutcomeSmack
	case tie == domain.TieBreakPump:
		return domain.OutcomePump
	default:
		return domain.OutcomeTie
	}
}

// motherFeeTarget reports whether post owes the mother fee and to which
// parent. Normal replies and quotes pay it while their parent is open; roots
// and answers never do.
func motherFeeTarget(ctx context.Context, tx domain.Tx, post domain.Post) (bool, string, error) {
	switch {
	case post.Relation == domain.RelationRoot:
		return false, "", nil
	case post.Function == domain.FunctionAnswer && post.Relation == domain.RelationAnswerTo:
		return false, "", nil
	case post.Function == domain.FunctionNormal &&
		(post.Relation == domain.RelationReply || post.Relation == domain.RelationQuote):
		parent, err := tx.Post(ctx, post.ParentID)
		if errors.Is(err, domain.ErrNotFound) {
			return false, "", fmt.Errorf("%w: %s", domain.ErrInvalidParentPost, post.ParentID)
		}
		if err != nil {
			return false, "", err
		}
		return parent.State == domain.PostStateOpen, parent.ID, nil
	default:
		return false, "", domain.ErrInvalidRelation
	}
}
