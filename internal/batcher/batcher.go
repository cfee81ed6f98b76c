// Package batcher coalesces vote requests on the API path. Requests with the
// same participant, post, side, currency and caller are merged into a single
// engine vote that is submitted on the next flush.
package batcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/opinionsmarket/internal/domain"
	"github.com/alanyoungcy/opinionsmarket/internal/market"
	"github.com/alanyoungcy/opinionsmarket/internal/metrics"
	"github.com/alanyoungcy/opinionsmarket/internal/pricing"
)

var (
	// ErrDuplicate reports an idempotency key that was already accepted.
	ErrDuplicate = errors.New("batcher: duplicate request")
	// ErrBatchFull means the request cannot join the pending batch: the queue
	// is at capacity or the merged units would exceed the per-vote maximum.
	// Callers should vote directly instead.
	ErrBatchFull = errors.New("batcher: batch full")
)

// Voter submits a vote. *service.MarketService implements it and handles
// cache invalidation and event publication on success.
type Voter interface {
	Vote(ctx context.Context, p market.VoteParams) (market.VoteResult, error)
}

// Ticket acknowledges a queued request.
type Ticket struct {
	PostID       string      `json:"post_id"`
	Side         domain.Side `json:"side"`
	Currency     string      `json:"currency"`
	PendingUnits uint64      `json:"pending_units"`
	Merged       bool        `json:"merged"`
}

type key struct {
	participant string
	postID      string
	side        domain.Side
	currency    string
	caller      string
}

func keyOf(p market.VoteParams) key {
	return key{participant: p.Voter, postID: p.PostID, side: p.Side, currency: p.Currency, caller: p.Caller}
}

// Batcher queues votes and flushes them on an interval.
type Batcher struct {
	voter      Voter
	interval   time.Duration
	maxPending int
	dedup      *Dedup
	logger     *slog.Logger

	mu      sync.Mutex
	pending map[key]uint64
	order   []key

	cleanupInterval time.Duration
}

// New creates a Batcher. A nil dedup disables idempotency keys.
func New(voter Voter, interval time.Duration, maxPending int, dedup *Dedup, logger *slog.Logger) *Batcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Batcher{
		voter:           voter,
		interval:        interval,
		maxPending:      maxPending,
		dedup:           dedup,
		logger:          logger.With(slog.String("component", "batcher")),
		pending:         make(map[key]uint64),
		cleanupInterval: time.Minute,
	}
}

// Enqueue adds p to the pending batch. idempotencyKey may be empty.
func (b *Batcher) Enqueue(p market.VoteParams, idempotencyKey string) (Ticket, error) {
	if p.Units == 0 {
		return Ticket{}, domain.ErrZeroUnits
	}
	if !p.Side.Valid() {
		return Ticket{}, fmt.Errorf("%w: side %q", domain.ErrInvalidInput, p.Side)
	}
	if idempotencyKey != "" && b.dedup != nil && b.dedup.IsDuplicate(idempotencyKey) {
		return Ticket{}, ErrDuplicate
	}

	t, err := b.add(p)
	if err != nil {
		if idempotencyKey != "" && b.dedup != nil {
			b.dedup.Forget(idempotencyKey)
		}
		return Ticket{}, err
	}
	if t.Merged {
		metrics.RecordBatchedVote("merged")
	}
	return t, nil
}

func (b *Batcher) add(p market.VoteParams) (Ticket, error) {
	k := keyOf(p)
	units := min(p.Units, pricing.MaxUnits)

	b.mu.Lock()
	defer b.mu.Unlock()

	queued, merged := b.pending[k]
	switch {
	case merged && queued+units > pricing.MaxUnits:
		return Ticket{}, ErrBatchFull
	case !merged && b.maxPending > 0 && len(b.order) >= b.maxPending:
		return Ticket{}, ErrBatchFull
	}
	if !merged {
		b.order = append(b.order, k)
	}
	b.pending[k] = queued + units
	metrics.SetBatchPending(len(b.order))

	return Ticket{
		PostID:       p.PostID,
		Side:         p.Side,
		Currency:     p.Currency,
		PendingUnits: queued + units,
		Merged:       merged,
	}, nil
}

// Pending returns the number of merged votes awaiting a flush.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}

// Flush submits every pending vote in arrival order. A vote the engine
// rejects is dropped and logged. It returns the number of committed votes.
func (b *Batcher) Flush(ctx context.Context) int {
	b.mu.Lock()
	order, pending := b.order, b.pending
	b.order, b.pending = nil, make(map[key]uint64)
	b.mu.Unlock()
	metrics.SetBatchPending(0)

	committed := 0
	for _, k := range order {
		p := market.VoteParams{
			PostID:   k.postID,
			Side:     k.side,
			Units:    pending[k],
			Currency: k.currency,
			Voter:    k.participant,
			Caller:   k.caller,
		}
		if _, err := b.voter.Vote(ctx, p); err != nil {
			metrics.RecordBatchedVote("failed")
			b.logger.WarnContext(ctx, "batcher: vote dropped",
				slog.String("post_id", p.PostID),
				slog.String("voter", p.Voter),
				slog.Uint64("units", p.Units),
				slog.String("error", err.Error()),
			)
			continue
		}
		metrics.RecordBatchedVote("committed")
		committed++
	}
	if len(order) > 0 {
		b.logger.DebugContext(ctx, "batcher: flushed",
			slog.Int("votes", len(order)),
			slog.Int("committed", committed),
		)
	}
	return committed
}

// Run flushes on every interval until ctx is cancelled, then drains what is
// left with a short grace period.
func (b *Batcher) Run(ctx context.Context) error {
	b.logger.InfoContext(ctx, "batcher started", slog.Duration("interval", b.interval))
	defer b.logger.Info("batcher stopped")

	flushTicker := time.NewTicker(b.interval)
	defer flushTicker.Stop()
	cleanupTicker := time.NewTicker(b.cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			b.Flush(drainCtx)
			cancel()
			return nil
		case <-flushTicker.C:
			b.Flush(ctx)
		case <-cleanupTicker.C:
			if b.dedup != nil {
				b.dedup.Cleanup()
			}
		}
	}
}
