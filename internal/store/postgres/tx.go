package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/opinionsmarket/internal/domain"
)

// pgTx implements domain.Tx inside one pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

var _ domain.Tx = (*pgTx)(nil)

// --- market config ---

func (t *pgTx) MarketConfig(ctx context.Context) (domain.MarketConfig, error) {
	var raw []byte
	err := t.tx.QueryRow(ctx, `SELECT config FROM market_config WHERE id = 1`).Scan(&raw)
	if err != nil {
		return domain.MarketConfig{}, mapErr("get market config", err)
	}
	var cfg domain.MarketConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return domain.MarketConfig{}, fmt.Errorf("postgres: decode market config: %w", err)
	}
	return cfg, nil
}

func (t *pgTx) SaveMarketConfig(ctx context.Context, cfg domain.MarketConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("postgres: encode market config: %w", err)
	}
	const query = `
		INSERT INTO market_config (id, config, updated_at) VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET config = EXCLUDED.config, updated_at = NOW()`
	_, err = t.tx.Exec(ctx, query, raw)
	return mapErr("save market config", err)
}

// --- currencies ---

const currencyColumns = `id, price_in_base::text, decimals, enabled, withdrawable, created_at`

func scanCurrency(row pgx.Row) (domain.CurrencyRate, error) {
	var (
		c     domain.CurrencyRate
		price num
		decs  int16
	)
	if err := row.Scan(&c.ID, &price, &decs, &c.Enabled, &c.Withdrawable, &c.CreatedAt); err != nil {
		return domain.CurrencyRate{}, err
	}
	c.PriceInBase = uint64(price)
	c.Decimals = uint8(decs)
	return c, nil
}

func (t *pgTx) Currency(ctx context.Context, id string) (domain.CurrencyRate, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+currencyColumns+` FROM currencies WHERE id = $1`, id)
	c, err := scanCurrency(row)
	if err != nil {
		return domain.CurrencyRate{}, mapErr("get currency "+id, err)
	}
	return c, nil
}

func (t *pgTx) CreateCurrency(ctx context.Context, c domain.CurrencyRate) error {
	const query = `
		INSERT INTO currencies (id, price_in_base, decimals, enabled, withdrawable, created_at)
		VALUES ($1, $2::numeric, $3, $4, $5, $6)`
	_, err := t.tx.Exec(ctx, query, c.ID, dec(c.PriceInBase), int16(c.Decimals), c.Enabled, c.Withdrawable, c.CreatedAt)
	return mapErr("create currency "+c.ID, err)
}

func (t *pgTx) UpdateCurrency(ctx context.Context, c domain.CurrencyRate) error {
	const query = `
		UPDATE currencies SET price_in_base = $2::numeric, decimals = $3, enabled = $4, withdrawable = $5
		WHERE id = $1`
	tag, err := t.tx.Exec(ctx, query, c.ID, dec(c.PriceInBase), int16(c.Decimals), c.Enabled, c.Withdrawable)
	if err != nil {
		return mapErr("update currency "+c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *pgTx) ListCurrencies(ctx context.Context) ([]domain.CurrencyRate, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+currencyColumns+` FROM currencies ORDER BY id`)
	if err != nil {
		return nil, mapErr("list currencies", err)
	}
	defer rows.Close()

	var out []domain.CurrencyRate
	for rows.Next() {
		c, err := scanCurrency(rows)
		if err != nil {
			return nil, mapErr("scan currency", err)
		}
		out = append(out, c)
	}
	return out, mapErr("list currencies rows", rows.Err())
}

// --- participants ---

func (t *pgTx) Participant(ctx context.Context, identity string) (domain.Participant, error) {
	var (
		p      domain.Participant
		traits []int16
	)
	const query = `
		SELECT identity, social_score, traits_enabled, traits, created_at
		FROM participants WHERE identity = $1`
	err := t.tx.QueryRow(ctx, query, identity).
		Scan(&p.Identity, &p.SocialScore, &p.Traits.Enabled, &traits, &p.CreatedAt)
	if err != nil {
		return domain.Participant{}, mapErr("get participant", err)
	}
	copy(p.Traits.Values[:], traits)
	return p, nil
}

func (t *pgTx) CreateParticipant(ctx context.Context, p domain.Participant) error {
	const query = `
		INSERT INTO participants (identity, social_score, traits_enabled, traits, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := t.tx.Exec(ctx, query, p.Identity, p.SocialScore, p.Traits.Enabled, p.Traits.Values[:], p.CreatedAt)
	return mapErr("create participant", err)
}

func (t *pgTx) UpdateParticipant(ctx context.Context, p domain.Participant) error {
	const query = `
		UPDATE participants SET social_score = $2, traits_enabled = $3, traits = $4
		WHERE identity = $1`
	tag, err := t.tx.Exec(ctx, query, p.Identity, p.SocialScore, p.Traits.Enabled, p.Traits.Values[:])
	if err != nil {
		return mapErr("update participant", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// --- posts ---

const postColumns = `
	id, creator, content_id, function, relation, parent_id,
	upvote_cost::text, downvote_cost::text, upvote_units::text, downvote_units::text,
	state, start_time, end_time, outcome, forced_outcome, settled_at`

func scanPost(row pgx.Row) (domain.Post, error) {
	var (
		p                         domain.Post
		parent                    *string
		upCost, downCost          num
		upUnits, downUnits        num
		function, relation, state string
		outcome, forced           string
		settledAt                 *time.Time
	)
	err := row.Scan(
		&p.ID, &p.Creator, &p.ContentID, &function, &relation, &parent,
		&upCost, &downCost, &upUnits, &downUnits,
		&state, &p.StartTime, &p.EndTime, &outcome, &forced, &settledAt,
	)
	if err != nil {
		return domain.Post{}, err
	}
	p.Function = domain.PostFunction(function)
	p.Relation = domain.RelationKind(relation)
	if parent != nil {
		p.ParentID = *parent
	}
	p.UpvoteCost, p.DownvoteCost = uint64(upCost), uint64(downCost)
	p.UpvoteUnits, p.DownvoteUnits = uint64(upUnits), uint64(downUnits)
	p.State = domain.PostState(state)
	p.StartTime, p.EndTime = p.StartTime.UTC(), p.EndTime.UTC()
	p.Outcome = domain.Outcome(outcome)
	p.ForcedOutcome = domain.Side(forced)
	if settledAt != nil {
		p.SettledAt = settledAt.UTC()
	}
	return p, nil
}

// Post locks the row for the rest of the transaction.
func (t *pgTx) Post(ctx context.Context, id string) (domain.Post, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE id = $1 FOR UPDATE`, id)
	p, err := scanPost(row)
	if err != nil {
		return domain.Post{}, mapErr("get post", err)
	}
	return p, nil
}

func (t *pgTx) CreatePost(ctx context.Context, p domain.Post) error {
	const query = `
		INSERT INTO posts (
			id, creator, content_id, function, relation, parent_id,
			upvote_cost, downvote_cost, upvote_units, downvote_units,
			state, start_time, end_time, outcome, forced_outcome, settled_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7::numeric, $8::numeric, $9::numeric, $10::numeric,
			$11, $12, $13, $14, $15, $16
		)`
	_, err := t.tx.Exec(ctx, query,
		p.ID, p.Creator, p.ContentID, string(p.Function), string(p.Relation), nullStr(p.ParentID),
		dec(p.UpvoteCost), dec(p.DownvoteCost), dec(p.UpvoteUnits), dec(p.DownvoteUnits),
		string(p.State), p.StartTime, p.EndTime, string(p.Outcome), string(p.ForcedOutcome), nullTime(p.SettledAt),
	)
	return mapErr("create post", err)
}

func (t *pgTx) UpdatePost(ctx context.Context, p domain.Post) error {
	const query = `
		UPDATE posts SET
			upvote_cost = $2::numeric, downvote_cost = $3::numeric,
			upvote_units = $4::numeric, downvote_units = $5::numeric,
			state = $6, end_time = $7, outcome = $8, forced_outcome = $9, settled_at = $10
		WHERE id = $1`
	tag, err := t.tx.Exec(ctx, query,
		p.ID,
		dec(p.UpvoteCost), dec(p.DownvoteCost), dec(p.UpvoteUnits), dec(p.DownvoteUnits),
		string(p.State), p.EndTime, string(p.Outcome), string(p.ForcedOutcome), nullTime(p.SettledAt),
	)
	if err != nil {
		return mapErr("update post", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *pgTx) ListPosts(ctx context.Context, opts domain.ListPostsOpts) ([]domain.Post, error) {
	q := queryBuilder{sql: `SELECT ` + postColumns + ` FROM posts WHERE 1=1`}
	if opts.State != "" {
		q.where("state = $%d", string(opts.State))
	}
	if opts.Creator != "" {
		q.where("creator = $%d", opts.Creator)
	}
	if opts.EndedBefore != nil {
		q.where("end_time < $%d", *opts.EndedBefore)
	}
	q.window("start_time", opts.ListOpts)
	q.page("start_time, id", opts.ListOpts)

	rows, err := t.tx.Query(ctx, q.sql, q.args...)
	if err != nil {
		return nil, mapErr("list posts", err)
	}
	defer rows.Close()

	var out []domain.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, mapErr("scan post", err)
		}
		out = append(out, p)
	}
	return out, mapErr("list posts rows", rows.Err())
}

// --- positions ---

func (t *pgTx) Position(ctx context.Context, participant, postID string) (domain.Position, error) {
	var (
		p        domain.Position
		up, down num
	)
	const query = `
		SELECT participant, post_id, upvote_units::text, downvote_units::text, updated_at
		FROM positions WHERE participant = $1 AND post_id = $2 FOR UPDATE`
	err := t.tx.QueryRow(ctx, query, participant, postID).
		Scan(&p.Participant, &p.PostID, &up, &down, &p.UpdatedAt)
	if err != nil {
		return domain.Position{}, mapErr("get position", err)
	}
	p.UpvoteUnits, p.DownvoteUnits = uint64(up), uint64(down)
	return p, nil
}

func (t *pgTx) SavePosition(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (participant, post_id, upvote_units, downvote_units, updated_at)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5)
		ON CONFLICT (participant, post_id) DO UPDATE SET
			upvote_units = EXCLUDED.upvote_units,
			downvote_units = EXCLUDED.downvote_units,
			updated_at = EXCLUDED.updated_at`
	_, err := t.tx.Exec(ctx, query, p.Participant, p.PostID, dec(p.UpvoteUnits), dec(p.DownvoteUnits), p.UpdatedAt)
	return mapErr("save position", err)
}

// --- settlement snapshots ---

const snapshotColumns = `
	post_id, currency, outcome, initial_pot::text, mother_fee::text, protocol_fee::text,
	creator_fee::text, total_payout::text, winning_units::text, payout_per_unit::text,
	swept, frozen, settled_at`

func scanSnapshot(row pgx.Row) (domain.SettlementSnapshot, error) {
	var (
		s                           domain.SettlementSnapshot
		outcome                     string
		pot, mother, protocol       num
		creator, payout, units, ppu num
	)
	err := row.Scan(
		&s.PostID, &s.Currency, &outcome, &pot, &mother, &protocol,
		&creator, &payout, &units, &ppu,
		&s.Swept, &s.Frozen, &s.SettledAt,
	)
	if err != nil {
		return domain.SettlementSnapshot{}, err
	}
	s.Outcome = domain.Outcome(outcome)
	s.InitialPot, s.MotherFee, s.ProtocolFee = uint64(pot), uint64(mother), uint64(protocol)
	s.CreatorFee, s.TotalPayout = uint64(creator), uint64(payout)
	s.WinningUnits, s.PayoutPerUnit = uint64(units), uint64(ppu)
	s.SettledAt = s.SettledAt.UTC()
	return s, nil
}

func (t *pgTx) Snapshot(ctx context.Context, postID, currency string) (domain.SettlementSnapshot, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+snapshotColumns+` FROM settlement_snapshots WHERE post_id = $1 AND currency = $2`,
		postID, currency,
	)
	s, err := scanSnapshot(row)
	if err != nil {
		return domain.SettlementSnapshot{}, mapErr("get snapshot", err)
	}
	return s, nil
}

func (t *pgTx) CreateSnapshot(ctx context.Context, s domain.SettlementSnapshot) error {
	const query = `
		INSERT INTO settlement_snapshots (
			post_id, currency, outcome, initial_pot, mother_fee, protocol_fee,
			creator_fee, total_payout, winning_units, payout_per_unit,
			swept, frozen, settled_at
		) VALUES (
			$1, $2, $3, $4::numeric, $5::numeric, $6::numeric,
			$7::numeric, $8::numeric, $9::numeric, $10::numeric,
			$11, $12, $13
		)`
	_, err := t.tx.Exec(ctx, query,
		s.PostID, s.Currency, string(s.Outcome), dec(s.InitialPot), dec(s.MotherFee), dec(s.ProtocolFee),
		dec(s.CreatorFee), dec(s.TotalPayout), dec(s.WinningUnits), dec(s.PayoutPerUnit),
		s.Swept, s.Frozen, s.SettledAt,
	)
	return mapErr("create snapshot", err)
}

func (t *pgTx) ListSnapshots(ctx context.Context, opts domain.ListOpts) ([]domain.SettlementSnapshot, error) {
	q := queryBuilder{sql: `SELECT ` + snapshotColumns + ` FROM settlement_snapshots WHERE 1=1`}
	q.window("settled_at", opts)
	q.page("settled_at, post_id, currency", opts)

	rows, err := t.tx.Query(ctx, q.sql, q.args...)
	if err != nil {
		return nil, mapErr("list snapshots", err)
	}
	defer rows.Close()

	var out []domain.SettlementSnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, mapErr("scan snapshot", err)
		}
		out = append(out, s)
	}
	return out, mapErr("list snapshots rows", rows.Err())
}

// --- claims ---

func (t *pgTx) ClaimRecord(ctx context.Context, participant, postID, currency string) (domain.ClaimRecord, error) {
	var (
		c      domain.ClaimRecord
		amount num
	)
	const query = `
		SELECT participant, post_id, currency, claimed, amount::text, claimed_at
		FROM claim_records WHERE participant = $1 AND post_id = $2 AND currency = $3`
	err := t.tx.QueryRow(ctx, query, participant, postID, currency).
		Scan(&c.Participant, &c.PostID, &c.Currency, &c.Claimed, &amount, &c.ClaimedAt)
	if err != nil {
		return domain.ClaimRecord{}, mapErr("get claim record", err)
	}
	c.Amount = uint64(amount)
	return c, nil
}

// CreateClaimRecord relies on the primary key so that two racing claims
// cannot both succeed.
func (t *pgTx) CreateClaimRecord(ctx context.Context, c domain.ClaimRecord) error {
	const query = `
		INSERT INTO claim_records (participant, post_id, currency, claimed, amount, claimed_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6)`
	_, err := t.tx.Exec(ctx, query, c.Participant, c.PostID, c.Currency, c.Claimed, dec(c.Amount), c.ClaimedAt)
	return mapErr("create claim record", err)
}

// --- sessions ---

func (t *pgTx) Session(ctx context.Context, participant, sessionKey string) (domain.SessionGrant, error) {
	var g domain.SessionGrant
	const query = `
		SELECT participant, session_key, expires_at, privileges, privileges_hash, created_at, updated_at
		FROM session_grants WHERE participant = $1 AND session_key = $2`
	err := t.tx.QueryRow(ctx, query, participant, sessionKey).Scan(
		&g.Participant, &g.SessionKey, &g.ExpiresAt, &g.Privileges, &g.PrivilegesHash, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		return domain.SessionGrant{}, mapErr("get session", err)
	}
	if len(g.Privileges) == 0 {
		g.Privileges = nil
	}
	return g, nil
}

func (t *pgTx) SaveSession(ctx context.Context, g domain.SessionGrant) error {
	privileges := g.Privileges
	if privileges == nil {
		privileges = []string{}
	}
	const query = `
		INSERT INTO session_grants (participant, session_key, expires_at, privileges, privileges_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (participant, session_key) DO UPDATE SET
			expires_at = EXCLUDED.expires_at,
			privileges = EXCLUDED.privileges,
			privileges_hash = EXCLUDED.privileges_hash,
			updated_at = EXCLUDED.updated_at`
	_, err := t.tx.Exec(ctx, query,
		g.Participant, g.SessionKey, g.ExpiresAt, privileges, g.PrivilegesHash, g.CreatedAt, g.UpdatedAt,
	)
	return mapErr("save session", err)
}

// --- balances and ledger ---

// Balance locks the row, when it exists, for the rest of the transaction.
func (t *pgTx) Balance(ctx context.Context, key domain.BalanceKey) (uint64, error) {
	var amount num
	const query = `
		SELECT amount::text FROM balances
		WHERE owner_kind = $1 AND owner_id = $2 AND currency = $3 FOR UPDATE`
	err := t.tx.QueryRow(ctx, query, string(key.Owner.Kind), key.Owner.ID, key.Currency).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, mapErr("get balance "+key.Owner.String(), err)
	}
	return uint64(amount), nil
}

// SetBalance deletes the row for a zero amount so balances only hold
// positive values.
func (t *pgTx) SetBalance(ctx context.Context, key domain.BalanceKey, amount uint64) error {
	if amount == 0 {
		_, err := t.tx.Exec(ctx,
			`DELETE FROM balances WHERE owner_kind = $1 AND owner_id = $2 AND currency = $3`,
			string(key.Owner.Kind), key.Owner.ID, key.Currency,
		)
		return mapErr("clear balance "+key.Owner.String(), err)
	}
	const query = `
		INSERT INTO balances (owner_kind, owner_id, currency, amount)
		VALUES ($1, $2, $3, $4::numeric)
		ON CONFLICT (owner_kind, owner_id, currency) DO UPDATE SET amount = EXCLUDED.amount`
	_, err := t.tx.Exec(ctx, query, string(key.Owner.Kind), key.Owner.ID, key.Currency, dec(amount))
	return mapErr("set balance "+key.Owner.String(), err)
}

func (t *pgTx) AppendLedger(ctx context.Context, e domain.LedgerEntry) error {
	var fromKind, fromID, toKind, toID *string
	if e.From != nil {
		fromKind, fromID = nullStr(string(e.From.Kind)), nullStr(e.From.ID)
	}
	if e.To != nil {
		toKind, toID = nullStr(string(e.To.Kind)), nullStr(e.To.ID)
	}
	const query = `
		INSERT INTO ledger_entries (id, kind, from_kind, from_id, to_kind, to_id, currency, amount, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10)`
	_, err := t.tx.Exec(ctx, query,
		e.ID, string(e.Kind), fromKind, fromID, toKind, toID, e.Currency, dec(e.Amount), e.Reason, e.CreatedAt,
	)
	return mapErr("append ledger", err)
}

func (t *pgTx) ListLedger(ctx context.Context, opts domain.ListOpts) ([]domain.LedgerEntry, error) {
	q := queryBuilder{sql: `
		SELECT id::text, kind, from_kind, from_id, to_kind, to_id, currency, amount::text, reason, created_at
		FROM ledger_entries WHERE 1=1`}
	q.window("created_at", opts)
	q.page("seq", opts)

	rows, err := t.tx.Query(ctx, q.sql, q.args...)
	if err != nil {
		return nil, mapErr("list ledger", err)
	}
	defer rows.Close()

	var out []domain.LedgerEntry
	for rows.Next() {
		var (
			e                              domain.LedgerEntry
			kind                           string
			fromKind, fromID, toKind, toID *string
			amount                         num
		)
		err := rows.Scan(&e.ID, &kind, &fromKind, &fromID, &toKind, &toID, &e.Currency, &amount, &e.Reason, &e.CreatedAt)
		if err != nil {
			return nil, mapErr("scan ledger entry", err)
		}
		e.Kind = domain.LedgerKind(kind)
		e.Amount = uint64(amount)
		e.From = owner(fromKind, fromID)
		e.To = owner(toKind, toID)
		out = append(out, e)
	}
	return out, mapErr("list ledger rows", rows.Err())
}

func owner(kind, id *string) *domain.Owner {
	if kind == nil || id == nil {
		return nil
	}
	return &domain.Owner{Kind: domain.OwnerKind(*kind), ID: *id}
}
