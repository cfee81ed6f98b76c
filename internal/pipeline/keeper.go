// Package pipeline runs the background jobs of the keeper mode: settling
// posts whose voting window has closed and archiving settled history.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/opinionsmarket/internal/domain"
)

// Notification event types raised by the jobs.
const (
	EventSettled     = "settled"
	EventSwept       = "swept"
	EventKeeperError = "keeper_error"
	EventArchived    = "archived"
)

// Notifier forwards operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Settler is the part of the market service the keeper drives.
type Settler interface {
	ListPosts(ctx context.Context, opts domain.ListPostsOpts) ([]domain.Post, error)
	Currencies(ctx context.Context) ([]domain.CurrencyRate, error)
	Settle(ctx context.Context, postID, currency string) (domain.SettlementSnapshot, error)
}

// SweepResult summarizes one keeper run. Retried counts posts carried over
// from an earlier run because a currency failed to settle.
type SweepResult struct {
	Posts   int
	Retried int
	Settled int
	Skipped int
	Failed  int
}

// Keeper settles expired posts. Each post is settled under a distributed
// lock so several keepers can run against the same store. Once any currency
// settles a post it is no longer listed as open, so posts with a failed
// currency are remembered and retried on later runs.
type Keeper struct {
	market    Settler
	locks     domain.LockManager
	notifier  Notifier
	batchSize int
	lockTTL   time.Duration
	now       func() time.Time
	logger    *slog.Logger

	mu      sync.Mutex
	pending map[string]domain.Post
}

// NewKeeper creates a Keeper. notifier may be nil.
func NewKeeper(
	market Settler,
	locks domain.LockManager,
	notifier Notifier,
	batchSize int,
	lockTTL time.Duration,
	logger *slog.Logger,
) *Keeper {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Keeper{
		market:    market,
		locks:     locks,
		notifier:  notifier,
		batchSize: batchSize,
		lockTTL:   lockTTL,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "keeper")),
		pending:   make(map[string]domain.Post),
	}
}

// Run settles up to batchSize open posts whose window has elapsed, in every
// registered currency.
func (k *Keeper) Run(ctx context.Context) error {
	_, err := k.Sweep(ctx)
	return err
}

// Sweep is Run with a result summary.
func (k *Keeper) Sweep(ctx context.Context) (SweepResult, error) {
	now := k.now().UTC()
	currencies, err := k.market.Currencies(ctx)
	if err != nil {
		return SweepResult{}, fmt.Errorf("keeper: list currencies: %w", err)
	}
	posts, err := k.market.ListPosts(ctx, domain.ListPostsOpts{
		ListOpts:    domain.ListOpts{Limit: k.batchSize},
		State:       domain.PostStateOpen,
		EndedBefore: &now,
	})
	if err != nil {
		return SweepResult{}, fmt.Errorf("keeper: list expired posts: %w", err)
	}

	listed := make(map[string]bool, len(posts))
	for _, post := range posts {
		listed[post.ID] = true
	}
	for _, post := range k.pendingPosts() {
		if !listed[post.ID] {
			posts = append(posts, post)
			listed[post.ID] = true
		}
	}

	res := SweepResult{Posts: len(posts)}
	for _, post := range posts {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		k.mu.Lock()
		_, retry := k.pending[post.ID]
		k.mu.Unlock()
		if retry {
			res.Retried++
		}
		if k.settlePost(ctx, post, currencies, &res) {
			k.forget(post.ID)
		} else {
			k.remember(post)
		}
	}
	if res.Posts > 0 {
		k.logger.InfoContext(ctx, "keeper: sweep complete",
			slog.Int("posts", res.Posts),
			slog.Int("retried", res.Retried),
			slog.Int("settled", res.Settled),
			slog.Int("skipped", res.Skipped),
			slog.Int("failed", res.Failed),
		)
	}
	return res, nil
}

// settlePost settles post in every currency and reports whether no currency
// is left for a later run. A post locked by another keeper counts as done;
// that keeper owns it.
func (k *Keeper) settlePost(ctx context.Context, post domain.Post, currencies []domain.CurrencyRate, res *SweepResult) bool {
	unlock, err := k.locks.Acquire(ctx, "keeper:settle:"+post.ID, k.lockTTL)
	if errors.Is(err, domain.ErrLockHeld) {
		res.Skipped++
		return true
	}
	if err != nil {
		res.Failed++
		k.logger.WarnContext(ctx, "keeper: lock failed",
			slog.String("post_id", post.ID),
			slog.String("error", err.Error()),
		)
		return false
	}
	defer unlock()

	done := true
	for _, cur := range currencies {
		snap, err := k.market.Settle(ctx, post.ID, cur.ID)
		switch {
		case errors.Is(err, domain.ErrPostAlreadySettled):
			continue
		case err != nil:
			done = false
			res.Failed++
			k.logger.ErrorContext(ctx, "keeper: settle failed",
				slog.String("post_id", post.ID),
				slog.String("currency", cur.ID),
				slog.String("error", err.Error()),
			)
			k.notify(ctx, EventKeeperError, "Settlement failed",
				fmt.Sprintf("post %s (%s): %v", post.ID, cur.ID, err))
			continue
		}
		res.Settled++
		if snap.Swept && snap.TotalPayout > 0 {
			k.notify(ctx, EventSwept, "Pot swept to treasury",
				fmt.Sprintf("post %s (%s): %d swept, outcome %s", post.ID, cur.ID, snap.TotalPayout, outcomeLabel(snap.Outcome)))
		} else if snap.InitialPot > 0 {
			k.notify(ctx, EventSettled, "Post settled",
				fmt.Sprintf("post %s (%s): pot %d, payout %d, outcome %s", post.ID, cur.ID, snap.InitialPot, snap.TotalPayout, outcomeLabel(snap.Outcome)))
		}
	}
	return done
}

func (k *Keeper) pendingPosts() []domain.Post {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]domain.Post, 0, len(k.pending))
	for _, p := range k.pending {
		out = append(out, p)
	}
	return out
}

func (k *Keeper) remember(post domain.Post) {
	k.mu.Lock()
	k.pending[post.ID] = post
	k.mu.Unlock()
}

func (k *Keeper) forget(id string) {
	k.mu.Lock()
	delete(k.pending, id)
	k.mu.Unlock()
}

func (k *Keeper) notify(ctx context.Context, event, title, msg string) {
	if k.notifier == nil {
		return
	}
	if err := k.notifier.Notify(ctx, event, title, msg); err != nil {
		k.logger.WarnContext(ctx, "keeper: notify failed", slog.String("error", err.Error()))
	}
}

func outcomeLabel(o domain.Outcome) string {
	if o == domain.OutcomeNone {
		return "none"
	}
	return string(o)
}
