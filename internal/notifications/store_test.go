package notifications

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	_, err = db.Exec("PRAGMA foreign_keys = ON;")
	require.NoError(t, err)

	schema, err := os.ReadFile("../../sql/schema.sql")
	require.NoError(t, err)
	for _, stmt := range strings.Split(string(schema), ";\n") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db), db
}

func addUser(t *testing.T, db *sql.DB, name string) int64 {
	t.Helper()
	res, err := db.Exec(
		`INSERT INTO users (username, password_hash, role) VALUES (?, 'x', 'developer')`, name)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func TestCreateAndList(t *testing.T) {
	s, db := newTestStore(t)
	u := addUser(t, db, "u")
	ctx := context.Background()

	n, err := s.Create(ctx, u, "New Direct Message", "Message from a", SourceChat, 5)
	require.NoError(t, err)
	assert.NotZero(t, n.ID)
	assert.Equal(t, StatusUnread, n.Status)

	_, err = s.Create(ctx, u, "New Group Message", "Message from b", SourceChat, 6)
	require.NoError(t, err)

	list, err := s.ListForRecipient(ctx, u, 50)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestMarkReadIsOneWay(t *testing.T) {
	s, db := newTestStore(t)
	u := addUser(t, db, "u")
	ctx := context.Background()

	n, err := s.Create(ctx, u, "New Direct Message", "Message from a", SourceChat, 5)
	require.NoError(t, err)

	read, err := s.MarkRead(ctx, n.ID, u)
	require.NoError(t, err)
	assert.Equal(t, StatusRead, read.Status)

	// Repeating is a no-op, not an error, and never goes back to unread.
	read, err = s.MarkRead(ctx, n.ID, u)
	require.NoError(t, err)
	assert.Equal(t, StatusRead, read.Status)
}

func TestMarkReadWrongRecipient(t *testing.T) {
	s, db := newTestStore(t)
	u := addUser(t, db, "u")
	other := addUser(t, db, "other")
	ctx := context.Background()

	n, err := s.Create(ctx, u, "New Direct Message", "Message from a", SourceChat, 5)
	require.NoError(t, err)

	got, err := s.MarkRead(ctx, n.ID, other)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestResolveForConversation(t *testing.T) {
	s, db := newTestStore(t)
	u := addUser(t, db, "u")
	ctx := context.Background()

	_, err := s.Create(ctx, u, "New Group Message", "Message from a", SourceChat, 5)
	require.NoError(t, err)
	_, err = s.Create(ctx, u, "New Group Message", "Message from b", SourceChat, 5)
	require.NoError(t, err)
	_, err = s.Create(ctx, u, "New Group Message", "Message from c", SourceChat, 9)
	require.NoError(t, err)

	require.NoError(t, s.ResolveForConversation(ctx, u, 5))

	n, err := s.UnreadCount(ctx, u, 5)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Notifications for other conversations stay untouched.
	n, err = s.UnreadCount(ctx, u, 9)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestClearForRecipient(t *testing.T) {
	s, db := newTestStore(t)
	u := addUser(t, db, "u")
	other := addUser(t, db, "other")
	ctx := context.Background()

	_, err := s.Create(ctx, u, "New Direct Message", "m", SourceChat, 5)
	require.NoError(t, err)
	_, err = s.Create(ctx, other, "New Direct Message", "m", SourceChat, 5)
	require.NoError(t, err)

	require.NoError(t, s.ClearForRecipient(ctx, u))

	list, err := s.ListForRecipient(ctx, u, 50)
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = s.ListForRecipient(ctx, other, 50)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
