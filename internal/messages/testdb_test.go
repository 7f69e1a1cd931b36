package messages

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/teamstack/crewchat/backend/internal/conversations"
	"github.com/teamstack/crewchat/backend/internal/notifications"
)

func newEngineOn(db *sql.DB, b Broadcaster) *Engine {
	return &Engine{
		Store:         NewStore(db),
		Conversations: conversations.NewStore(db),
		Notifications: notifications.NewStore(db),
		Broadcast:     b,
		ReadWindow:    50,
	}
}

func newTestDB(t *testing.T) *sql.DB {
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
	return db
}

func seedUser(t *testing.T, db *sql.DB, username, role string) int64 {
	t.Helper()
	res, err := db.Exec(
		`INSERT INTO users (username, email, password_hash, role) VALUES (?, ?, 'x', ?)`,
		username, username+"@example.com", role)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func seedConversation(t *testing.T, db *sql.DB, convType string, admins []int64, members ...int64) int64 {
	t.Helper()
	res, err := db.Exec(`INSERT INTO conversations (conv_type, name) VALUES (?, 'test')`, convType)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)

	isAdmin := make(map[int64]bool, len(admins))
	for _, a := range admins {
		isAdmin[a] = true
	}
	for _, uid := range members {
		_, err := db.Exec(
			`INSERT INTO participants (conversation_id, user_id, is_admin) VALUES (?, ?, ?)`,
			id, uid, isAdmin[uid])
		require.NoError(t, err)
	}
	return id
}

type pushRecord struct {
	Room      int64
	Recipient int64
	Exclude   int64
	Event     string
	Payload   any
}

// fakeBroadcaster stands in for the websocket hub.
type fakeBroadcaster struct {
	mu     sync.Mutex
	pushes []pushRecord
	online map[int64]bool
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{online: make(map[int64]bool)}
}

func (f *fakeBroadcaster) PushToRoom(roomID int64, event string, payload any, excludeUserID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, pushRecord{Room: roomID, Event: event, Payload: payload, Exclude: excludeUserID})
}

func (f *fakeBroadcaster) PushToRecipient(recipientID int64, event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, pushRecord{Recipient: recipientID, Event: event, Payload: payload})
}

func (f *fakeBroadcaster) Connected(recipientID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[recipientID]
}

func (f *fakeBroadcaster) byEvent(event string) []pushRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []pushRecord
	for _, p := range f.pushes {
		if p.Event == event {
			out = append(out, p)
		}
	}
	return out
}

func newTestEngine(t *testing.T) (*Engine, *fakeBroadcaster, *sql.DB) {
	t.Helper()
	db := newTestDB(t)
	fb := newFakeBroadcaster()
	e := newEngineOn(db, fb)
	return e, fb, db
}

func countNotifications(t *testing.T, db *sql.DB, recipientID int64) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(1) FROM notifications WHERE recipient_id=?`, recipientID).Scan(&n))
	return n
}

func sendText(t *testing.T, e *Engine, sender, conv int64, text string, mentions ...int64) *Message {
	t.Helper()
	msg, err := e.Send(context.Background(), SendInput{
		SenderID:       sender,
		ConversationID: conv,
		Text:           text,
		Mentions:       mentions,
	})
	require.NoError(t, err)
	e.Wait()
	return msg
}
