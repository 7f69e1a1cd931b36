package messages

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Store is the persistence layer for messages, their readers sets and their
// mention sets. Reader additions are plain set-union inserts so concurrent
// markers never lose updates.
type Store struct {
	DB *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}

const messageColumns = `m.id, m.conversation_id, m.sender_id, u.username, m.body, m.msg_type,
	COALESCE(m.file_url, ''), COALESCE(m.file_mime, ''), COALESCE(m.file_name, ''), COALESCE(m.file_size, 0),
	COALESCE(m.audio_duration, 0), m.deleted_at, COALESCE(m.deleted_by, 0), m.created_at`

// Insert persists a message in one transaction: the row itself, the sender's
// entry in the readers set, and the mention rows. On success the message's
// ID, CreatedAt, SenderName and Readers are filled in.
func (s *Store) Insert(ctx context.Context, m *Message) error {
	var senderName string
	if err := s.DB.QueryRowContext(ctx,
		`SELECT username FROM users WHERE id=?`, m.SenderID).Scan(&senderName); err != nil {
		return fmt.Errorf("resolve sender: %w", err)
	}

	now := time.Now().UTC()

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, sender_id, body, msg_type, file_url, file_mime, file_name, file_size, audio_duration, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ConversationID, m.SenderID, m.Text, m.Type,
		nullStr(m.FileURL), nullStr(m.FileMime), nullStr(m.FileName), nullI64(m.FileSize),
		nullF64(m.AudioDuration), now)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}

	// A sender trivially has read their own message.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO message_reads (message_id, user_id) VALUES (?, ?)`, id, m.SenderID); err != nil {
		return err
	}

	for _, uid := range m.Mentions {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO message_mentions (message_id, user_id) VALUES (?, ?)`, id, uid); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	m.ID = id
	m.CreatedAt = now
	m.SenderName = senderName
	m.Readers = []Reader{{ID: m.SenderID, Username: senderName}}
	return nil
}

// Get loads a single message with readers and mentions resolved. Returns
// (nil, nil) when the message does not exist.
func (s *Store) Get(ctx context.Context, id int64) (*Message, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages m JOIN users u ON u.id = m.sender_id WHERE m.id=?`, id)
	m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	list := []Message{*m}
	if err := s.attachSets(ctx, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

// ListByConversation returns the conversation's messages in persisted
// creation order (created_at ascending, id as tiebreak).
func (s *Store) ListByConversation(ctx context.Context, conversationID int64) ([]Message, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages m JOIN users u ON u.id = m.sender_id
		 WHERE m.conversation_id=? ORDER BY m.created_at ASC, m.id ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	list, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	if err := s.attachSets(ctx, list); err != nil {
		return nil, err
	}
	return list, nil
}

// MarkRead unions userID into the readers set of the targeted messages.
// With explicit ids the update and the returned set are restricted to ids
// that belong to the conversation; unknown ids are silently skipped. With no
// ids every message in the conversation is marked and the most recent
// `window` messages are returned, oldest first.
func (s *Store) MarkRead(ctx context.Context, conversationID, userID int64, messageIDs []int64, window int) ([]Message, error) {
	if len(messageIDs) > 0 {
		in, args := inClause(messageIDs)
		args = append([]any{userID, conversationID}, args...)
		if _, err := s.DB.ExecContext(ctx,
			`INSERT OR IGNORE INTO message_reads (message_id, user_id)
			 SELECT id, ? FROM messages WHERE conversation_id=? AND id IN `+in, args...); err != nil {
			return nil, err
		}

		args = append([]any{conversationID}, args[2:]...)
		rows, err := s.DB.QueryContext(ctx,
			`SELECT `+messageColumns+` FROM messages m JOIN users u ON u.id = m.sender_id
			 WHERE m.conversation_id=? AND m.id IN `+in+` ORDER BY m.created_at ASC, m.id ASC`, args...)
		if err != nil {
			return nil, err
		}
		list, err := collectMessages(rows)
		if err != nil {
			return nil, err
		}
		if err := s.attachSets(ctx, list); err != nil {
			return nil, err
		}
		return list, nil
	}

	if _, err := s.DB.ExecContext(ctx,
		`INSERT OR IGNORE INTO message_reads (message_id, user_id)
		 SELECT id, ? FROM messages WHERE conversation_id=?`, userID, conversationID); err != nil {
		return nil, err
	}

	if window <= 0 {
		window = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages m JOIN users u ON u.id = m.sender_id
		 WHERE m.conversation_id=? ORDER BY m.created_at DESC, m.id DESC LIMIT ?`, conversationID, window)
	if err != nil {
		return nil, err
	}
	list, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	// Query is newest-first for the LIMIT; hand back oldest-first.
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
	if err := s.attachSets(ctx, list); err != nil {
		return nil, err
	}
	return list, nil
}

// SoftDelete flips a message to the deleted variant and clears its text.
// The transition is one-way; a second call is a no-op.
func (s *Store) SoftDelete(ctx context.Context, messageID, actorID int64) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE messages SET msg_type='deleted', body='', deleted_at=?, deleted_by=?
		 WHERE id=? AND deleted_at IS NULL`,
		time.Now().UTC(), actorID, messageID)
	return err
}

// UserRole reads the actor's global role for delete-permission checks.
func (s *Store) UserRole(ctx context.Context, userID int64) (string, error) {
	var role string
	err := s.DB.QueryRowContext(ctx, `SELECT role FROM users WHERE id=?`, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return role, err
}

// attachSets fills the readers and mentions sets for a batch of messages.
func (s *Store) attachSets(ctx context.Context, list []Message) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]int64, len(list))
	byID := make(map[int64]*Message, len(list))
	for i := range list {
		ids[i] = list[i].ID
		byID[list[i].ID] = &list[i]
		list[i].Readers = nil
		list[i].Mentions = nil
	}
	in, args := inClause(ids)

	rows, err := s.DB.QueryContext(ctx,
		`SELECT r.message_id, r.user_id, u.username
		 FROM message_reads r JOIN users u ON u.id = r.user_id
		 WHERE r.message_id IN `+in+` ORDER BY r.read_at ASC, r.user_id ASC`, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var mid int64
		var r Reader
		if err := rows.Scan(&mid, &r.ID, &r.Username); err != nil {
			return err
		}
		if m := byID[mid]; m != nil {
			m.Readers = append(m.Readers, r)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	mrows, err := s.DB.QueryContext(ctx,
		`SELECT message_id, user_id FROM message_mentions WHERE message_id IN `+in+` ORDER BY user_id ASC`, args...)
	if err != nil {
		return err
	}
	defer mrows.Close()
	for mrows.Next() {
		var mid, uid int64
		if err := mrows.Scan(&mid, &uid); err != nil {
			return err
		}
		if m := byID[mid]; m != nil {
			m.Mentions = append(m.Mentions, uid)
		}
	}
	return mrows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	var deletedAt sql.NullTime
	if err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.SenderName, &m.Text, &m.Type,
		&m.FileURL, &m.FileMime, &m.FileName, &m.FileSize,
		&m.AudioDuration, &deletedAt, &m.DeletedBy, &m.CreatedAt); err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		m.DeletedAt = &t
	}
	return &m, nil
}

func collectMessages(rows *sql.Rows) ([]Message, error) {
	defer rows.Close()
	var list []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *m)
	}
	return list, rows.Err()
}

func inClause(ids []int64) (string, []any) {
	ph := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		ph[i] = "?"
		args[i] = id
	}
	return "(" + strings.Join(ph, ",") + ")", args
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullI64(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullF64(v float64) any {
	if v == 0 {
		return nil
	}
	return v
}
