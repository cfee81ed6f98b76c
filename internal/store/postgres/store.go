package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/opinionsmarket/internal/domain"
)

// maxTxAttempts bounds retries of serialization failures.
const maxTxAttempts = 3

// SQLSTATE codes inspected by the store.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// Store implements domain.Store on PostgreSQL. Every unit of work runs in a
// SERIALIZABLE transaction and rows that are read for update are locked, so
// concurrent operations on the same post are serialized by the database.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ domain.Store = (*Store)(nil)

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger.With(slog.String("component", "postgres_store"))}
}

// InTx runs fn in a serializable transaction, retrying when PostgreSQL
// aborts it with a serialization failure or deadlock.
func (s *Store) InTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.runOnce(ctx, fn)
		if err == nil || !isRetryable(err) {
			return err
		}
		s.logger.WarnContext(ctx, "postgres: retrying transaction",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
		}
	}
	return fmt.Errorf("postgres: transaction aborted after %d attempts: %w", maxTxAttempts, err)
}

func (s *Store) runOnce(ctx context.Context, fn func(tx domain.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	if err := fn(&pgTx{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected
}

// mapErr translates driver errors into domain sentinels. Driver errors that
// have no domain meaning are wrapped with op.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return domain.ErrAlreadyExists
	}
	return fmt.Errorf("postgres: %s: %w", op, err)
}

// num scans a NUMERIC column cast to text into a uint64.
type num uint64

func (n *num) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	case nil:
		*n = 0
		return nil
	default:
		return fmt.Errorf("postgres: cannot scan %T into numeric", src)
	}
	u, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("postgres: numeric %q: %w", s, err)
	}
	*n = num(u)
	return nil
}

// dec formats a uint64 for a NUMERIC parameter.
func dec(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// nullTime maps the zero time to SQL NULL.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// nullStr maps the empty string to SQL NULL.
func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// queryBuilder appends positional arguments to a dynamic query.
type queryBuilder struct {
	sql  string
	args []any
}

func (b *queryBuilder) where(clause string, arg any) {
	b.args = append(b.args, arg)
	b.sql += fmt.Sprintf(" AND "+clause, len(b.args))
}

func (b *queryBuilder) window(column string, opts domain.ListOpts) {
	if opts.Since != nil {
		b.where(column+" >= $%d", *opts.Since)
	}
	if opts.Until != nil {
		b.where(column+" < $%d", *opts.Until)
	}
}

func (b *queryBuilder) page(orderBy string, opts domain.ListOpts) {
	b.sql += " ORDER BY " + orderBy
	if opts.Limit > 0 {
		b.args = append(b.args, opts.Limit)
		b.sql += fmt.Sprintf(" LIMIT $%d", len(b.args))
	}
	if opts.Offset > 0 {
		b.args = append(b.args, opts.Offset)
		b.sql += fmt.Sprintf(" OFFSET $%d", len(b.args))
	}
}
