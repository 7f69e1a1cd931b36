package notifications

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Mailer sends a best-effort email alert to a recipient with no live
// connection. Returns nil when mail is not configured or the user has no
// email on file.
type Mailer struct {
	DB     *sql.DB
	From   string
	client *sendgrid.Client
}

func NewMailer(db *sql.DB, apiKey, from string) *Mailer {
	if apiKey == "" || from == "" {
		return nil
	}
	return &Mailer{
		DB:     db,
		From:   from,
		client: sendgrid.NewSendClient(apiKey),
	}
}

func (m *Mailer) NotifyOffline(recipientID int64, title, body string) error {
	var username string
	var email sql.NullString
	err := m.DB.QueryRow(`SELECT username, email FROM users WHERE id=?`, recipientID).
		Scan(&username, &email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}
	if !email.Valid || email.String == "" {
		return nil
	}

	from := mail.NewEmail("CrewChat", m.From)
	to := mail.NewEmail(username, email.String)
	msg := mail.NewSingleEmail(from, title, to, body, body)
	resp, err := m.client.Send(msg)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid status %d", resp.StatusCode)
	}
	return nil
}
