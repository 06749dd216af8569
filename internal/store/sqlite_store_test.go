package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore opens an in-memory store and closes it when the test ends.
func newTestStore(t *testing.T, atomic bool) *SQLiteStore {
	t.Helper()
	s, err := OpenSync(context.Background(), Options{DSN: ":memory:", Atomic: atomic})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore()
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, StateReady, s.State())
	select {
	case <-s.Ready():
	default:
		t.Fatal("Ready channel should be closed")
	}

	rows, err := s.Select(context.Background(), `PRAGMA user_version`)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, schemaVersion(), rows[0]["user_version"])
}

func TestOpenReportsLoadingUntilReady(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	s := Open(ctx, Options{
		DSN:    ":memory:",
		Atomic: true,
		open: func(ctx context.Context, dsn string) (*sql.DB, error) {
			<-release
			return openSQLite(ctx, dsn)
		},
	})
	defer s.Close()

	assert.Equal(t, StateLoading, s.State())

	_, err := s.CreateChat(ctx, NewChat{Title: "t", UserID: "u"})
	assert.ErrorIs(t, err, ErrStoreNotReady)
	_, err = s.ListChats(ctx, "u")
	assert.ErrorIs(t, err, ErrStoreNotReady)
	_, err = s.Execute(ctx, `SELECT 1`)
	assert.ErrorIs(t, err, ErrStoreNotReady)

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Wait(waitCtx), ErrStoreNotReady)

	close(release)
	require.NoError(t, s.Wait(ctx))
	assert.Equal(t, StateReady, s.State())

	_, err = s.CreateChat(ctx, NewChat{Title: "t", UserID: "u"})
	assert.NoError(t, err)
}

func TestOpenFailureIsPermanent(t *testing.T) {
	ctx := context.Background()
	cause := errors.New("disk gone")
	s := Open(ctx, Options{
		DSN: ":memory:",
		open: func(context.Context, string) (*sql.DB, error) {
			return nil, cause
		},
	})

	err := s.Wait(ctx)
	require.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "disk gone")
	assert.Equal(t, StateFailed, s.State())

	_, err = s.GetChat(ctx, 1)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.NotErrorIs(t, err, ErrStoreNotReady)

	_, err = OpenSync(ctx, Options{open: func(context.Context, string) (*sql.DB, error) { return nil, cause }})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	s, err := NewSQLiteStore()
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.ListChats(context.Background(), "u")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestCancelledContextIsRejectedBeforeStatements(t *testing.T) {
	s := newTestStore(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.CreateChat(ctx, NewChat{Title: "t", UserID: "u"})
	assert.ErrorIs(t, err, context.Canceled)

	chats, err := s.ListChats(context.Background(), "u")
	require.NoError(t, err)
	assert.Empty(t, chats)
}

func TestFileDatabasePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chats.db")

	s, err := NewSQLiteStoreWithDSN(path)
	require.NoError(t, err)
	chat, err := s.CreateChat(ctx, NewChat{Title: "kept", UserID: "u"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStoreWithDSN(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "kept", got.Title)
}

func TestExecuteAndSelect(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, true)

	res, err := s.Execute(ctx, `INSERT INTO chats (title, user_id, created_at) VALUES (?, ?, ?)`, "raw", "u", 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.RowsAffected)
	assert.NotZero(t, res.LastInsertID)

	rows, err := s.Select(ctx, `SELECT id, title, created_at FROM chats WHERE user_id = ?`, "u")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "raw", rows[0]["title"])
	assert.EqualValues(t, 10, rows[0]["created_at"])
	assert.EqualValues(t, res.LastInsertID, rows[0]["id"])

	_, err = s.Execute(ctx, `INSERT INTO no_such_table VALUES (1)`)
	assert.ErrorIs(t, err, ErrStorageFault)
}

func TestForeignKeysAreEnforced(t *testing.T) {
	s := newTestStore(t, true)
	_, err := s.Execute(context.Background(),
		`INSERT INTO chat_messages (chat_id, role, content, timestamp) VALUES (999, 'user', 'x', 1)`)
	assert.ErrorIs(t, err, ErrStorageFault)
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db, err := openSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	applied, err := migrate(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), applied)

	applied, err = migrate(ctx, db)
	require.NoError(t, err)
	assert.Zero(t, applied)
}
