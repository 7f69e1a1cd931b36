package conversations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	TypeDirect = "direct"
	TypeGroup  = "group"
)

type Conversation struct {
	ID           int64     `json:"id"`
	Type         string    `json:"type"`
	Name         string    `json:"name,omitempty"`
	Description  string    `json:"description,omitempty"`
	Participants []int64   `json:"participants"`
	Admins       []int64   `json:"admins,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func (cv *Conversation) HasParticipant(userID int64) bool {
	for _, id := range cv.Participants {
		if id == userID {
			return true
		}
	}
	return false
}

func (cv *Conversation) IsAdmin(userID int64) bool {
	for _, id := range cv.Admins {
		if id == userID {
			return true
		}
	}
	return false
}

// OtherParticipant returns the non-given participant of a direct conversation.
func (cv *Conversation) OtherParticipant(userID int64) (int64, bool) {
	for _, id := range cv.Participants {
		if id != userID {
			return id, true
		}
	}
	return 0, false
}

type Store struct {
	DB *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}

// Get loads a conversation with its participant and admin sets.
// Returns (nil, nil) when the conversation does not exist.
func (s *Store) Get(ctx context.Context, id int64) (*Conversation, error) {
	cv := Conversation{ID: id}
	var name, desc sql.NullString
	row := s.DB.QueryRowContext(ctx,
		`SELECT conv_type, name, description, created_at FROM conversations WHERE id=?`, id)
	if err := row.Scan(&cv.Type, &name, &desc, &cv.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	cv.Name = name.String
	cv.Description = desc.String

	rows, err := s.DB.QueryContext(ctx,
		`SELECT user_id, is_admin FROM participants WHERE conversation_id=? ORDER BY user_id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var uid int64
		var admin bool
		if err := rows.Scan(&uid, &admin); err != nil {
			return nil, err
		}
		cv.Participants = append(cv.Participants, uid)
		if admin {
			cv.Admins = append(cv.Admins, uid)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &cv, nil
}

// FindDirect returns the id of an existing direct conversation between the
// two users, or 0 when none exists.
func (s *Store) FindDirect(ctx context.Context, a, b int64) (int64, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT c.id FROM conversations c
		JOIN participants p1 ON p1.conversation_id=c.id AND p1.user_id=?
		JOIN participants p2 ON p2.conversation_id=c.id AND p2.user_id=?
		WHERE c.conv_type='direct' LIMIT 1`, a, b)
	var id int64
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return id, nil
}

// CreateDirect makes a two-party conversation. Direct conversations always
// hold exactly the two given users.
func (s *Store) CreateDirect(ctx context.Context, a, b int64) (int64, error) {
	if a == b {
		return 0, fmt.Errorf("direct conversation needs two distinct users")
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO conversations (conv_type, name) VALUES ('direct', NULL)`)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	// FK on user_id rejects unknown users here.
	_, err = tx.ExecContext(ctx,
		`INSERT INTO participants (conversation_id, user_id, is_admin) VALUES (?, ?, 0), (?, ?, 0)`,
		id, a, id, b)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) CreateGroup(ctx context.Context, name, description string, creator int64, memberIDs []int64) (int64, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO conversations (conv_type, name, description) VALUES ('group', ?, ?)`,
		name, description)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO participants (conversation_id, user_id, is_admin) VALUES (?, ?, 1)`, id, creator); err != nil {
		return 0, err
	}
	for _, mid := range memberIDs {
		if mid == creator {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO participants (conversation_id, user_id, is_admin) VALUES (?, ?, 0)`, id, mid); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) AddParticipant(ctx context.Context, conversationID, userID int64) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT OR IGNORE INTO participants (conversation_id, user_id, is_admin) VALUES (?, ?, 0)`,
		conversationID, userID)
	return err
}

func (s *Store) RemoveParticipant(ctx context.Context, conversationID, userID int64) error {
	_, err := s.DB.ExecContext(ctx,
		`DELETE FROM participants WHERE conversation_id=? AND user_id=?`, conversationID, userID)
	return err
}

func (s *Store) PromoteAdmin(ctx context.Context, conversationID, userID int64) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE participants SET is_admin=1 WHERE conversation_id=? AND user_id=?`, conversationID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %d is not a participant of conversation %d", userID, conversationID)
	}
	return nil
}

type Summary struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

func (s *Store) ListForUser(ctx context.Context, userID int64) ([]Summary, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT c.id, c.conv_type, COALESCE(c.name, ''), c.created_at
		FROM conversations c
		JOIN participants p ON p.conversation_id = c.id
		WHERE p.user_id = ?
		ORDER BY c.created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []Summary
	for rows.Next() {
		var cs Summary
		if err := rows.Scan(&cs.ID, &cs.Type, &cs.Name, &cs.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, cs)
	}
	return list, rows.Err()
}

// Username resolves a display name; used for system message stamps.
func (s *Store) Username(ctx context.Context, userID int64) string {
	var name string
	if err := s.DB.QueryRowContext(ctx,
		`SELECT username FROM users WHERE id=?`, userID).Scan(&name); err != nil {
		return "unknown"
	}
	return name
}
