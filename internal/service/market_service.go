// Package service sits between the transport layer and the market engine. It
// adds the read cache, event fan-out and operation metrics around engine
// calls; the engine stays the only writer of market state.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/opinionsmarket/internal/domain"
	"github.com/alanyoungcy/opinionsmarket/internal/market"
	"github.com/alanyoungcy/opinionsmarket/internal/metrics"
	"github.com/alanyoungcy/opinionsmarket/internal/pricing"
)

// MarketService wraps an Engine with caching and event publication.
type MarketService struct {
	engine *market.Engine
	cache  domain.PostCache
	bus    domain.SignalBus
	now    func() time.Time
	logger *slog.Logger
}

// NewMarketService creates a MarketService with all required dependencies.
func NewMarketService(
	engine *market.Engine,
	cache domain.PostCache,
	bus domain.SignalBus,
	logger *slog.Logger,
) *MarketService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MarketService{
		engine: engine,
		cache:  cache,
		bus:    bus,
		now:    time.Now,
		logger: logger.With(slog.String("component", "market_service")),
	}
}

// Engine exposes the wrapped engine for callers that need no caching.
func (s *MarketService) Engine() *market.Engine { return s.engine }

// Post retrieves a post, checking the cache first and falling back to the
// store on a miss.
func (s *MarketService) Post(ctx context.Context, id string) (domain.Post, error) {
	if p, err := s.cache.Get(ctx, id); err == nil {
		metrics.RecordCacheLookup(true)
		return p, nil
	}
	metrics.RecordCacheLookup(false)

	p, err := s.engine.Post(ctx, id)
	if err != nil {
		return domain.Post{}, err
	}
	s.fill(ctx, p)
	return p, nil
}

func (s *MarketService) ListPosts(ctx context.Context, opts domain.ListPostsOpts) ([]domain.Post, error) {
	return s.engine.ListPosts(ctx, opts)
}

// CreatePost opens a post and announces it on the post's channel.
func (s *MarketService) CreatePost(ctx context.Context, p market.CreatePostParams) (domain.Post, error) {
	start := time.Now()
	post, err := s.engine.CreatePost(ctx, p)
	metrics.ObserveOperation("create_post", err, time.Since(start))
	if err != nil {
		return domain.Post{}, err
	}
	s.fill(ctx, post)
	s.emit(ctx, domain.MarketEvent{
		Type:   domain.EventPost,
		PostID: post.ID,
		Actor:  post.Creator,
		Post:   &post,
	}, domain.PostChannel(post.ID))
	return post, nil
}

// SetForcedOutcome pins the outcome of an answer post.
func (s *MarketService) SetForcedOutcome(ctx context.Context, caller, answerID string, side domain.Side) (domain.Post, error) {
	start := time.Now()
	post, err := s.engine.SetForcedOutcome(ctx, caller, answerID, side)
	metrics.ObserveOperation("set_forced_outcome", err, time.Since(start))
	if err != nil {
		return domain.Post{}, err
	}
	s.invalidate(ctx, answerID)
	return post, nil
}

// Vote stakes on a post. The cached post is dropped and the new totals are
// published on success.
func (s *MarketService) Vote(ctx context.Context, p market.VoteParams) (market.VoteResult, error) {
	start := time.Now()
	res, err := s.engine.Vote(ctx, p)
	metrics.ObserveOperation("vote", err, time.Since(start))
	if err != nil {
		return market.VoteResult{}, err
	}
	metrics.RecordVote(string(p.Side), res.Currency, res.Units)

	s.invalidate(ctx, p.PostID)
	post := res.Post
	s.emit(ctx, domain.MarketEvent{
		Type:     domain.EventVote,
		PostID:   p.PostID,
		Actor:    p.Voter,
		Currency: res.Currency,
		Side:     p.Side,
		Units:    res.Units,
		Amount:   res.Paid,
		Post:     &post,
	}, domain.PostChannel(p.PostID))
	return res, nil
}

func (s *MarketService) QuoteVote(ctx context.Context, p market.VoteParams) (pricing.Breakdown, error) {
	return s.engine.QuoteVote(ctx, p)
}

// Settle freezes the pot of a post for one currency and broadcasts the
// result on the settlement channel.
func (s *MarketService) Settle(ctx context.Context, postID, currency string) (domain.SettlementSnapshot, error) {
	start := time.Now()
	snap, err := s.engine.Settle(ctx, postID, currency)
	metrics.ObserveOperation("settle", err, time.Since(start))
	if err != nil {
		return domain.SettlementSnapshot{}, err
	}
	metrics.RecordSettlement(string(snap.Outcome), snap.Swept)

	s.invalidate(ctx, postID)
	ev := domain.MarketEvent{
		Type:     domain.EventSettlement,
		PostID:   postID,
		Currency: currency,
		Amount:   snap.TotalPayout,
	}
	if post, err := s.engine.Post(ctx, postID); err == nil {
		ev.Post = &post
	}
	s.emit(ctx, ev, domain.ChannelSettlement, domain.PostChannel(postID))
	return snap, nil
}

// Claim pays out a participant's share of a settled pot.
func (s *MarketService) Claim(ctx context.Context, p market.ClaimParams) (domain.ClaimRecord, error) {
	start := time.Now()
	rec, err := s.engine.Claim(ctx, p)
	metrics.ObserveOperation("claim", err, time.Since(start))
	if err != nil {
		return domain.ClaimRecord{}, err
	}
	metrics.RecordClaim(rec.Currency, rec.Amount)
	s.emit(ctx, domain.MarketEvent{
		Type:     domain.EventClaim,
		PostID:   p.PostID,
		Actor:    p.Participant,
		Currency: rec.Currency,
		Amount:   rec.Amount,
	}, domain.PostChannel(p.PostID))
	return rec, nil
}

func (s *MarketService) CreateParticipant(ctx context.Context, identity string) (domain.Participant, error) {
	start := time.Now()
	p, err := s.engine.CreateParticipant(ctx, identity)
	metrics.ObserveOperation("create_participant", err, time.Since(start))
	return p, err
}

func (s *MarketService) UpdateReputation(ctx context.Context, caller, identity string, u market.ReputationUpdate) (domain.Participant, error) {
	start := time.Now()
	p, err := s.engine.UpdateReputation(ctx, caller, identity, u)
	metrics.ObserveOperation("update_reputation", err, time.Since(start))
	return p, err
}

func (s *MarketService) RegisterSession(ctx context.Context, p market.RegisterSessionParams) (domain.SessionGrant, error) {
	start := time.Now()
	g, err := s.engine.RegisterSession(ctx, p)
	metrics.ObserveOperation("register_session", err, time.Since(start))
	return g, err
}

func (s *MarketService) Deposit(ctx context.Context, caller, identity, currency string, amount uint64) (uint64, error) {
	start := time.Now()
	bal, err := s.engine.Deposit(ctx, caller, identity, currency, amount)
	metrics.ObserveOperation("deposit", err, time.Since(start))
	return bal, err
}

func (s *MarketService) Withdraw(ctx context.Context, caller, identity, currency string, amount uint64) (uint64, error) {
	start := time.Now()
	bal, err := s.engine.Withdraw(ctx, caller, identity, currency, amount)
	metrics.ObserveOperation("withdraw", err, time.Since(start))
	return bal, err
}

func (s *MarketService) Send(ctx context.Context, caller, from, to, currency string, amount uint64) error {
	start := time.Now()
	err := s.engine.Send(ctx, caller, from, to, currency, amount)
	metrics.ObserveOperation("send", err, time.Since(start))
	return err
}

func (s *MarketService) CollectCreatorEarnings(ctx context.Context, caller, creator, currency string) (uint64, error) {
	start := time.Now()
	amt, err := s.engine.CollectCreatorEarnings(ctx, caller, creator, currency)
	metrics.ObserveOperation("collect_creator_earnings", err, time.Since(start))
	return amt, err
}

func (s *MarketService) UpdateConfig(ctx context.Context, caller string, patch market.ConfigPatch) (domain.MarketConfig, error) {
	start := time.Now()
	cfg, err := s.engine.UpdateConfig(ctx, caller, patch)
	metrics.ObserveOperation("update_config", err, time.Since(start))
	return cfg, err
}

func (s *MarketService) RegisterCurrency(ctx context.Context, caller string, p market.RegisterCurrencyParams) (domain.CurrencyRate, error) {
	start := time.Now()
	c, err := s.engine.RegisterCurrency(ctx, caller, p)
	metrics.ObserveOperation("register_currency", err, time.Since(start))
	return c, err
}

// UpdateCurrency applies the non-nil flags to a registered currency.
func (s *MarketService) UpdateCurrency(ctx context.Context, caller, id string, enabled, withdrawable *bool) (domain.CurrencyRate, error) {
	start := time.Now()
	c, err := s.updateCurrency(ctx, caller, id, enabled, withdrawable)
	metrics.ObserveOperation("update_currency", err, time.Since(start))
	return c, err
}

func (s *MarketService) updateCurrency(ctx context.Context, caller, id string, enabled, withdrawable *bool) (domain.CurrencyRate, error) {
	if enabled == nil && withdrawable == nil {
		return domain.CurrencyRate{}, domain.ErrInvalidInput
	}
	var (
		c   domain.CurrencyRate
		err error
	)
	if enabled != nil {
		if c, err = s.engine.SetCurrencyEnabled(ctx, caller, id, *enabled); err != nil {
			return domain.CurrencyRate{}, err
		}
	}
	if withdrawable != nil {
		if c, err = s.engine.SetCurrencyWithdrawable(ctx, caller, id, *withdrawable); err != nil {
			return domain.CurrencyRate{}, err
		}
	}
	return c, nil
}

func (s *MarketService) Config(ctx context.Context) (domain.MarketConfig, error) {
	return s.engine.Config(ctx)
}

func (s *MarketService) Currencies(ctx context.Context) ([]domain.CurrencyRate, error) {
	return s.engine.Currencies(ctx)
}

func (s *MarketService) Participant(ctx context.Context, identity string) (domain.Participant, error) {
	return s.engine.Participant(ctx, identity)
}

func (s *MarketService) Position(ctx context.Context, participant, postID string) (domain.Position, error) {
	return s.engine.Position(ctx, participant, postID)
}

func (s *MarketService) Snapshot(ctx context.Context, postID, currency string) (domain.SettlementSnapshot, error) {
	return s.engine.Snapshot(ctx, postID, currency)
}

func (s *MarketService) Balance(ctx context.Context, owner domain.Owner, currency string) (uint64, error) {
	return s.engine.Balance(ctx, owner, currency)
}

// InvalidatePost drops a cached post. The batcher calls it after merged
// votes commit.
func (s *MarketService) InvalidatePost(ctx context.Context, id string) {
	s.invalidate(ctx, id)
}

func (s *MarketService) fill(ctx context.Context, p domain.Post) {
	if err := s.cache.Set(ctx, p); err != nil {
		s.logger.WarnContext(ctx, "market_service: cache set failed",
			slog.String("post_id", p.ID),
			slog.String("error", err.Error()),
		)
	}
}

// invalidate is non-fatal: a stale entry expires with its TTL.
func (s *MarketService) invalidate(ctx context.Context, id string) {
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.logger.WarnContext(ctx, "market_service: cache invalidate failed",
			slog.String("post_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// emit publishes ev on each channel and appends it to the market stream.
// Delivery failures are logged; the mutation has already committed.
func (s *MarketService) emit(ctx context.Context, ev domain.MarketEvent, channels ...string) {
	ev.Timestamp = s.now().UTC()
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.ErrorContext(ctx, "market_service: marshal event",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
		return
	}
	for _, ch := range channels {
		if err := s.bus.Publish(ctx, ch, payload); err != nil {
			s.logger.WarnContext(ctx, "market_service: publish failed",
				slog.String("channel", ch),
				slog.String("error", err.Error()),
			)
		}
	}
	if err := s.bus.StreamAppend(ctx, domain.StreamMarket, payload); err != nil {
		s.logger.WarnContext(ctx, "market_service: stream append failed",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
}
