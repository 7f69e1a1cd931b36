package notifications

import (
	"context"
	"database/sql"
	"time"
)

const (
	StatusUnread = "unread"
	StatusRead   = "read"

	SourceChat = "chat"
)

type Notification struct {
	ID          int64     `json:"id"`
	RecipientID int64     `json:"recipient_id"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	SourceType  string    `json:"source_type"`
	SourceID    int64     `json:"source_id,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

type Store struct {
	DB *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}

func (s *Store) Create(ctx context.Context, recipientID int64, title, message, sourceType string, sourceID int64) (*Notification, error) {
	now := time.Now().UTC()
	res, err := s.DB.ExecContext(ctx,
		`INSERT INTO notifications (recipient_id, title, message, source_type, source_id, status, created_at)
		 VALUES (?, ?, ?, ?, ?, 'unread', ?)`,
		recipientID, title, message, sourceType, sourceID, now)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Notification{
		ID:          id,
		RecipientID: recipientID,
		Title:       title,
		Message:     message,
		SourceType:  sourceType,
		SourceID:    sourceID,
		Status:      StatusUnread,
		CreatedAt:   now,
	}, nil
}

// MarkRead flips a single notification to read. The transition is one-way;
// marking an already-read notification is a no-op.
func (s *Store) MarkRead(ctx context.Context, id, recipientID int64) (*Notification, error) {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE notifications SET status='read' WHERE id=? AND recipient_id=? AND status='unread'`,
		id, recipientID)
	if err != nil {
		return nil, err
	}
	return s.get(ctx, id, recipientID)
}

// ResolveForConversation bulk-marks every unread chat notification the
// recipient has for the conversation. Used by the read-state path.
func (s *Store) ResolveForConversation(ctx context.Context, recipientID, conversationID int64) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE notifications SET status='read'
		 WHERE recipient_id=? AND source_type='chat' AND source_id=? AND status='unread'`,
		recipientID, conversationID)
	return err
}

func (s *Store) ListForRecipient(ctx context.Context, recipientID int64, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	// Unread first, then newest first.
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, recipient_id, title, message, source_type, COALESCE(source_id, 0), status, created_at
		 FROM notifications WHERE recipient_id=?
		 ORDER BY CASE status WHEN 'unread' THEN 0 ELSE 1 END, created_at DESC
		 LIMIT ?`, recipientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Title, &n.Message, &n.SourceType, &n.SourceID, &n.Status, &n.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, n)
	}
	return list, rows.Err()
}

func (s *Store) ClearForRecipient(ctx context.Context, recipientID int64) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM notifications WHERE recipient_id=?`, recipientID)
	return err
}

// UnreadCount reports outstanding notifications for a recipient and
// conversation; handy for tests and the bell badge.
func (s *Store) UnreadCount(ctx context.Context, recipientID, conversationID int64) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM notifications
		 WHERE recipient_id=? AND source_type='chat' AND source_id=? AND status='unread'`,
		recipientID, conversationID).Scan(&n)
	return n, err
}

func (s *Store) get(ctx context.Context, id, recipientID int64) (*Notification, error) {
	var n Notification
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, recipient_id, title, message, source_type, COALESCE(source_id, 0), status, created_at
		 FROM notifications WHERE id=? AND recipient_id=?`, id, recipientID).Scan(
		&n.ID, &n.RecipientID, &n.Title, &n.Message, &n.SourceType, &n.SourceID, &n.Status, &n.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &n, nil
}
