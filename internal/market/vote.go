package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/opinionsmarket/internal/domain"
	"github.com/alanyoungcy/opinionsmarket/internal/fixedpoint"
	"github.com/alanyoungcy/opinionsmarket/internal/pricing"
)

// VoteParams is one stake on a post.
type VoteParams struct {
	PostID   string
	Side     domain.Side
	Units    uint64
	Currency string
	Voter    string
	Caller   string
}

// VoteResult reports what a committed vote changed.
type VoteResult struct {
	Post     domain.Post       `json:"post"`
	Position domain.Position   `json:"position"`
	Units    uint64            `json:"units"`
	Cost     uint64            `json:"cost"`
	Split    pricing.VoteSplit `json:"split"`
	// Paid is the amount debited from the voter in Currency.
	Paid     uint64 `json:"paid"`
	Currency string `json:"currency"`
}

// Vote prices a stake, moves the funds, and records it on the post and the
// voter's position, extending the voting window.
func (e *Engine) Vote(ctx context.Context, p VoteParams) (VoteResult, error) {
	canonicalIDs(&p.Voter, &p.Caller)
	if p.Units == 0 {
		return VoteResult{}, fmt.Errorf("market: vote: %w", domain.ErrZeroUnits)
	}
	if !p.Side.Valid() {
		return VoteResult{}, fmt.Errorf("market: vote: %w: side %q", domain.ErrInvalidInput, p.Side)
	}
	units := min(p.Units, pricing.MaxUnits)
	now := e.clock()

	var res VoteResult
	err := e.store.InTx(ctx, func(tx domain.Tx) error {
		cfg, err := loadConfig(ctx, tx)
		if err != nil {
			return err
		}
		if err := authorize(ctx, tx, p.Caller, p.Voter, domain.PrivilegeVote, now); err != nil {
			return err
		}
		cur, err := spendableCurrency(ctx, tx, p.Currency)
		if err != nil {
			return err
		}
		post, err := loadPost(ctx, tx, p.PostID)
		if err != nil {
			return err
		}
		if post.State != domain.PostStateOpen {
			return domain.ErrPostNotOpen
		}
		if !now.Before(post.EndTime) {
			return domain.ErrPostExpired
		}
		voter, err := ensureParticipant(ctx, tx, cfg, p.Voter, now)
		if err != nil {
			return err
		}
		pos, err := tx.Position(ctx, p.Voter, p.PostID)
		if errors.Is(err, domain.ErrNotFound) {
			pos = domain.Position{Participant: p.Voter, PostID: p.PostID}
		} else if err != nil {
			return err
		}

		cost, err := pricing.VoteCost(pricing.Quote{
			Side:        p.Side,
			Units:       units,
			Prev:        pos.Units(p.Side),
			SideCost:    post.CostTotal(p.Side),
			Relation:    post.Relation,
			SocialScore: voter.EffectiveScore(),
			CostPerUnit: cfg.CostPerUnit,
		})
		if err != nil {
			return err
		}
		split, err := pricing.SplitVote(cost, p.Side, cfg.ProtocolFeeBps, cfg.CreatorFeeBps)
		if err != nil {
			return err
		}

		paid, err := e.collectVoteFunds(ctx, tx, cfg, cur, post, p.Voter, cost, split)
		if err != nil {
			return err
		}

		if err := addSide(&post, &pos, p.Side, cost, units); err != nil {
			return err
		}
		post.EndTime = extendedEnd(post, cfg, units)
		pos.UpdatedAt = now

		if err := tx.UpdatePost(ctx, post); err != nil {
			return err
		}
		if err := tx.SavePosition(ctx, pos); err != nil {
			return err
		}
		res = VoteResult{
			Post:     post,
			Position: pos,
			Units:    units,
			Cost:     cost,
			Split:    split,
			Paid:     paid,
			Currency: cur.ID,
		}
		return nil
	})
	if err != nil {
		return VoteResult{}, fmt.Errorf("market: vote: %w", err)
	}
	e.logger.DebugContext(ctx, "market: vote recorded",
		slog.String("post_id", p.PostID),
		slog.String("voter", p.Voter),
		slog.String("side", string(p.Side)),
		slog.Uint64("units", units),
		slog.Uint64("cost", res.Cost),
		slog.String("currency", res.Currency),
	)
	return res, nil
}

// collectVoteFunds moves the vote's value into place and returns what the
// voter paid in cur. Base-currency votes split the voter's own funds. Other
// currencies are taken whole into the treasury and the base-currency fees
// and pot increment are minted.
func (e *Engine) collectVoteFunds(ctx context.Context, tx domain.Tx, cfg domain.MarketConfig, cur domain.CurrencyRate, post domain.Post, voter string, cost uint64, split pricing.VoteSplit) (uint64, error) {
	from := domain.ParticipantOwner(voter)
	treasury := domain.TreasuryOwner()
	creator := domain.CreatorOwner(post.Creator)
	escrow := domain.EscrowOwner(post.ID)
	base := cfg.BaseCurrency

	if cur.ID == base {
		if err := e.vault.Transfer(ctx, tx, from, treasury, base, split.Protocol, "vote_protocol_fee"); err != nil {
			return 0, err
		}
		if err := e.vault.Transfer(ctx, tx, from, creator, base, split.Creator, "vote_creator_fee"); err != nil {
			return 0, err
		}
		if err := e.vault.Transfer(ctx, tx, from, escrow, base, split.Pot, "vote_pot"); err != nil {
			return 0, err
		}
		return cost, nil
	}

	baseRate, err := tx.Currency(ctx, base)
	if err != nil {
		return 0, fmt.Errorf("base currency: %w", err)
	}
	paid, err := pricing.ToCurrency(cost, cur, baseRate.Decimals)
	if err != nil {
		return 0, err
	}
	if err := e.vault.Transfer(ctx, tx, from, treasury, cur.ID, paid, "vote_payment"); err != nil {
		return 0, err
	}
	if err := e.vault.Mint(ctx, tx, treasury, base, split.Protocol, "vote_protocol_fee"); err != nil {
		return 0, err
	}
	if err := e.vault.Mint(ctx, tx, creator, base, split.Creator, "vote_creator_fee"); err != nil {
		return 0, err
	}
	if err := e.vault.Mint(ctx, tx, escrow, base, split.Pot, "vote_pot"); err != nil {
		return 0, err
	}
	return paid, nil
}

func addSide(post *domain.Post, pos *domain.Position, side domain.Side, cost, units uint64) error {
	var err error
	if side == domain.SidePump {
		if post.UpvoteCost, err = fixedpoint.Add(post.UpvoteCost, cost); err != nil {
			return err
		}
		if post.UpvoteUnits, err = fixedpoint.Add(post.UpvoteUnits, units); err != nil {
			return err
		}
		pos.UpvoteUnits, err = fixedpoint.Add(pos.UpvoteUnits, units)
		return err
	}
	if post.DownvoteCost, err = fixedpoint.Add(post.DownvoteCost, cost); err != nil {
		return err
	}
	if post.DownvoteUnits, err = fixedpoint.Add(post.DownvoteUnits, units); err != nil {
		return err
	}
	pos.DownvoteUnits, err = fixedpoint.Add(pos.DownvoteUnits, units)
	return err
}

// extendedEnd pushes the end time out by ExtensionPerUnit per unit, never
// past StartTime+MaxDuration.
func extendedEnd(post domain.Post, cfg domain.MarketConfig, units uint64) time.Time {
	hardCap := post.StartTime.Add(cfg.MaxDuration)
	if !post.EndTime.Before(hardCap) {
		return hardCap
	}
	if cfg.ExtensionPerUnit <= 0 {
		return post.EndTime
	}
	remaining := hardCap.Sub(post.EndTime)
	if units > uint64(math.MaxInt64/int64(cfg.ExtensionPerUnit)) {
		return hardCap
	}
	ext := cfg.ExtensionPerUnit * time.Duration(units)
	if ext >= remaining {
		return hardCap
	}
	return post.EndTime.Add(ext)
}

// QuoteVote prices a vote without executing it.
func (e *Engine) QuoteVote(ctx context.Context, p VoteParams) (pricing.Breakdown, error) {
	canonicalIDs(&p.Voter, &p.Caller)
	var b pricing.Breakdown
	err := e.store.InTx(ctx, func(tx domain.Tx) error {
		cfg, err := loadConfig(ctx, tx)
		if err != nil {
			return err
		}
		post, err := loadPost(ctx, tx, p.PostID)
		if err != nil {
			return err
		}
		var score int64
		voter, err := tx.Participant(ctx, p.Voter)
		switch {
		case err == nil:
			score = voter.EffectiveScore()
		case errors.Is(err, domain.ErrNotFound):
			score = cfg.InitialSocialScore
		default:
			return err
		}
		var prev uint64
		pos, err := tx.Position(ctx, p.Voter, p.PostID)
		switch {
		case err == nil:
			prev = pos.Units(p.Side)
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}
		b, err = pricing.Explain(pricing.Quote{
			Side:        p.Side,
			Units:       p.Units,
			Prev:        prev,
			SideCost:    post.CostTotal(p.Side),
			Relation:    post.Relation,
			SocialScore: score,
			CostPerUnit: cfg.CostPerUnit,
		})
		return err
	})
	if err != nil {
		return pricing.Breakdown{}, fmt.Errorf("market: quote: %w", err)
	}
	return b, nil
}
