package postgres

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/opinionsmarket/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/opinions?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "opinions", User: "u", Password: "p"}))
	assert.Equal(t, "postgres://u:p@db:6543/opinions?sslmode=require",
		DSN(ClientConfig{Host: "db", Port: 6543, Database: "opinions", User: "u", Password: "p", SSLMode: "require"}))
	assert.Equal(t, "postgres://explicit", DSN(ClientConfig{DSN: "postgres://explicit", Host: "ignored"}))
}

func TestMigrationFilesAreOrdered(t *testing.T) {
	names, err := MigrationFiles()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_init.sql", names[0])
	assert.IsIncreasing(t, names)
}

func TestNumScan(t *testing.T) {
	var n num
	require.NoError(t, n.Scan("18446744073709551615"))
	assert.Equal(t, uint64(18446744073709551615), uint64(n))

	require.NoError(t, n.Scan([]byte("42")))
	assert.Equal(t, num(42), n)

	require.NoError(t, n.Scan(nil))
	assert.Zero(t, n)

	assert.Error(t, n.Scan("-1"))
	assert.Error(t, n.Scan(3.5))
	assert.Equal(t, "18446744073709551615", dec(18446744073709551615))
}

func TestMapErr(t *testing.T) {
	assert.NoError(t, mapErr("op", nil))
	assert.ErrorIs(t, mapErr("op", pgx.ErrNoRows), domain.ErrNotFound)
	assert.ErrorIs(t, mapErr("op", &pgconn.PgError{Code: codeUniqueViolation}), domain.ErrAlreadyExists)

	err := mapErr("get post", errors.New("boom"))
	assert.EqualError(t, err, "postgres: get post: boom")
}

func TestIsRetryable(t *testing.T) {
	serialization := &pgconn.PgError{Code: codeSerializationFailure}
	assert.True(t, isRetryable(serialization))
	assert.True(t, isRetryable(fmt.Errorf("engine: vote: %w", mapErr("update post", serialization))))
	assert.True(t, isRetryable(&pgconn.PgError{Code: codeDeadlockDetected}))
	assert.False(t, isRetryable(&pgconn.PgError{Code: codeUniqueViolation}))
	assert.False(t, isRetryable(domain.ErrPostNotOpen))
}

func TestQueryBuilder(t *testing.T) {
	since := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	until := since.Add(24 * time.Hour)

	q := queryBuilder{sql: "SELECT 1 FROM posts WHERE 1=1"}
	q.where("state = $%d", "open")
	q.window("start_time", domain.ListOpts{Since: &since, Until: &until})
	q.page("start_time, id", domain.ListOpts{Limit: 10, Offset: 20})

	assert.Equal(t,
		"SELECT 1 FROM posts WHERE 1=1 AND state = $1 AND start_time >= $2 AND start_time < $3"+
			" ORDER BY start_time, id LIMIT $4 OFFSET $5",
		q.sql)
	assert.Equal(t, []any{"open", since, until, 10, 20}, q.args)
}

func TestNullHelpers(t *testing.T) {
	assert.Nil(t, nullStr(""))
	assert.Equal(t, "p1", *nullStr("p1"))
	assert.Nil(t, nullTime(time.Time{}))
	assert.Nil(t, owner(nil, nil))
	kind, id := "escrow", "p1"
	assert.Equal(t, &domain.Owner{Kind: domain.OwnerEscrow, ID: "p1"}, owner(&kind, &id))
}
