package shared

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type recordingExecer struct {
	sql  []string
	args [][]any
	err  error
}

func (e *recordingExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	e.sql = append(e.sql, sql)
	e.args = append(e.args, args)
	return pgconn.NewCommandTag("INSERT 0 1"), e.err
}

func TestClaimIdempotencyKeyMapsUniqueViolation(t *testing.T) {
	db := &recordingExecer{err: &pgconn.PgError{Code: "23505"}}
	err := ClaimIdempotencyKey(context.Background(), db, "req-1", "documents")
	require.ErrorIs(t, err, ErrIdempotencyConflict)

	db.err = errors.New("connection reset")
	err = ClaimIdempotencyKey(context.Background(), db, "req-1", "documents")
	require.EqualError(t, err, "connection reset")
}

func TestClaimIdempotencyKeyValidatesInput(t *testing.T) {
	db := &recordingExecer{}
	require.Error(t, ClaimIdempotencyKey(context.Background(), db, "", "documents"))
	require.Error(t, ClaimIdempotencyKey(context.Background(), db, "k", ""))
	require.Empty(t, db.sql)
}

func TestRecordAudit(t *testing.T) {
	db := &recordingExecer{}
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	err := RecordAudit(context.Background(), db, AuditLog{
		ActorID:  9,
		Action:   "document.create",
		Entity:   AuditEntityDocument,
		EntityID: "42",
		Meta:     map[string]any{"doc_number": "INV-000001"},
		At:       at,
	})
	require.NoError(t, err)
	require.Len(t, db.args, 1)
	require.Equal(t, int64(9), db.args[0][0])
	require.JSONEq(t, `{"doc_number":"INV-000001"}`, string(db.args[0][4].([]byte)))
	require.Equal(t, &at, db.args[0][5])

	require.Error(t, RecordAudit(context.Background(), db, AuditLog{Action: "x"}))
}

func TestPagination(t *testing.T) {
	p := NewPagination(0, 0, 41)
	require.Equal(t, Pagination{Page: 1, PerPage: 20, Total: 41, TotalPages: 3}, p)
	require.Equal(t, 40, Offset(3, 20))
	_, perPage := NormalisePage(1, 5000)
	require.Equal(t, maxPerPage, perPage)
}

func TestIdempotencyStoreCleanupUsesCutoff(t *testing.T) {
	db := &recordingExecer{}
	store := NewIdempotencyStore(db)
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	removed, err := store.Cleanup(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)
	require.Contains(t, db.sql[0], "DELETE FROM idempotency_keys")
	require.Equal(t, now.Add(-24*time.Hour), db.args[0][0])

	_, err = store.Cleanup(context.Background(), 0)
	require.Error(t, err)
}
