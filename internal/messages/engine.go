package messages

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/teamstack/crewchat/backend/internal/conversations"
	"github.com/teamstack/crewchat/backend/internal/notifications"
)

// Broadcaster is the live-push side of delivery. Implemented by the
// websocket hub; tests swap in a fake. Pushes are fire-and-forget.
type Broadcaster interface {
	// PushToRoom delivers to every connection joined to the room, skipping
	// all connections of excludeUserID (0 excludes nobody).
	PushToRoom(roomID int64, event string, payload any, excludeUserID int64)
	// PushToRecipient delivers to every connection of the user, in any room.
	PushToRecipient(recipientID int64, event string, payload any)
	// Connected reports whether the user has at least one live connection.
	Connected(recipientID int64) bool
}

// Engine owns the send path: validate, persist exactly once, then fan out to
// the audience. The caller only waits on persistence; fan-out runs behind
// the acknowledgment and its per-recipient failures are logged, never
// returned.
type Engine struct {
	Store         *Store
	Conversations *conversations.Store
	Notifications *notifications.Store
	Broadcast     Broadcaster
	Mail          *notifications.Mailer // nil when mail is not configured

	// ReadWindow bounds the response of a whole-conversation mark-read.
	ReadWindow int

	fanout sync.WaitGroup
}

type SendInput struct {
	SenderID       int64
	ConversationID int64
	Text           string
	Attachment     *Attachment
	AudioDuration  float64
	Mentions       []int64
}

// MentionEvent is the payload of a mentioned_in_message push.
type MentionEvent struct {
	ConversationID int64  `json:"conversation_id"`
	MessageID      int64  `json:"message_id"`
	SenderID       int64  `json:"sender_id"`
	SenderName     string `json:"sender_name"`
	Text           string `json:"text"`
}

// Send validates, persists and fans out one message. Precondition failures
// (ErrNotFound, ErrForbidden, ErrInvalidInput) and persistence failures
// leave no side effects behind.
func (e *Engine) Send(ctx context.Context, in SendInput) (*Message, error) {
	if in.SenderID == 0 || in.ConversationID == 0 {
		return nil, fmt.Errorf("%w: sender and conversation are required", ErrInvalidInput)
	}

	conv, err := e.Conversations.Get(ctx, in.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("conversation lookup: %w", err)
	}
	if conv == nil {
		return nil, fmt.Errorf("%w: conversation %d", ErrNotFound, in.ConversationID)
	}
	if !conv.HasParticipant(in.SenderID) {
		return nil, fmt.Errorf("%w: user %d is not a participant", ErrForbidden, in.SenderID)
	}
	if strings.TrimSpace(in.Text) == "" && in.Attachment == nil {
		return nil, fmt.Errorf("%w: message needs text or an attachment", ErrInvalidInput)
	}

	msg := &Message{
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Text:           in.Text,
		Type:           TypeText,
		Mentions:       dedupMentions(in.Mentions, in.SenderID),
	}
	if att := in.Attachment; att != nil {
		msg.Type = attachmentType(att.Kind)
		msg.FileURL = att.URL
		msg.FileMime = att.Mime
		msg.FileName = att.Name
		msg.FileSize = att.Size
		if msg.Type == TypeAudio {
			msg.AudioDuration = in.AudioDuration
		}
	}

	if err := e.Store.Insert(ctx, msg); err != nil {
		return nil, fmt.Errorf("store message: %w", err)
	}

	e.fanout.Add(1)
	go func() {
		defer e.fanout.Done()
		e.fanOut(conv, msg)
	}()

	return msg, nil
}

// fanOut runs after the message is durable. Every recipient's delivery is
// dispatched independently; one slow or failed recipient never delays the
// rest.
func (e *Engine) fanOut(conv *conversations.Conversation, msg *Message) {
	ctx := context.Background()

	var wg sync.WaitGroup

	for _, uid := range msg.Mentions {
		wg.Add(1)
		go func(uid int64) {
			defer wg.Done()
			e.Broadcast.PushToRecipient(uid, "mentioned_in_message", MentionEvent{
				ConversationID: msg.ConversationID,
				MessageID:      msg.ID,
				SenderID:       msg.SenderID,
				SenderName:     msg.SenderName,
				Text:           msg.Text,
			})
		}(uid)
	}

	title := "New Group Message"
	if conv.Type == conversations.TypeDirect {
		title = "New Direct Message"
	}
	for _, uid := range conv.Participants {
		if uid == msg.SenderID {
			continue
		}
		wg.Add(1)
		go func(uid int64) {
			defer wg.Done()
			e.notifyRecipient(ctx, uid, title, msg)
		}(uid)
	}

	// Room members get the message itself; the sender's copy is the
	// synchronous return value, so all of their connections are skipped.
	e.Broadcast.PushToRoom(conv.ID, "receive_message", msg, msg.SenderID)

	wg.Wait()
}

func (e *Engine) notifyRecipient(ctx context.Context, recipientID int64, title string, msg *Message) {
	body := "Message from " + msg.SenderName
	n, err := e.Notifications.Create(ctx, recipientID, title, body, notifications.SourceChat, msg.ConversationID)
	if err != nil {
		log.Printf("[fanout] notification for user %d: %v", recipientID, err)
		return
	}
	e.Broadcast.PushToRecipient(recipientID, "notification", n)

	if e.Mail != nil && !e.Broadcast.Connected(recipientID) {
		if err := e.Mail.NotifyOffline(recipientID, title, body); err != nil {
			log.Printf("[fanout] mail alert for user %d: %v", recipientID, err)
		}
	}
}

// Announce persists a system stamp message (member added, promoted, ...)
// and pushes it to the room. No notifications are created for stamps.
func (e *Engine) Announce(ctx context.Context, conversationID, actorID int64, text string) {
	msg := &Message{
		ConversationID: conversationID,
		SenderID:       actorID,
		Text:           text,
		Type:           TypeSystem,
	}
	if err := e.Store.Insert(ctx, msg); err != nil {
		log.Printf("[announce] conversation %d: %v", conversationID, err)
		return
	}
	e.Broadcast.PushToRoom(conversationID, "receive_message", msg, 0)
}

// List returns a conversation and its messages, oldest first. The caller
// must be a participant.
func (e *Engine) List(ctx context.Context, conversationID, userID int64) (*conversations.Conversation, []Message, error) {
	conv, err := e.Conversations.Get(ctx, conversationID)
	if err != nil {
		return nil, nil, fmt.Errorf("conversation lookup: %w", err)
	}
	if conv == nil {
		return nil, nil, fmt.Errorf("%w: conversation %d", ErrNotFound, conversationID)
	}
	if !conv.HasParticipant(userID) {
		return nil, nil, fmt.Errorf("%w: user %d is not a participant", ErrForbidden, userID)
	}
	list, err := e.Store.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, nil, fmt.Errorf("list messages: %w", err)
	}
	return conv, list, nil
}

// Wait blocks until all in-flight fan-out work has settled. Used on
// shutdown and by tests.
func (e *Engine) Wait() {
	e.fanout.Wait()
}

func (e *Engine) window() int {
	if e.ReadWindow > 0 {
		return e.ReadWindow
	}
	return 50
}

func dedupMentions(mentions []int64, senderID int64) []int64 {
	if len(mentions) == 0 {
		return nil
	}
	seen := make(map[int64]bool, len(mentions))
	var out []int64
	for _, uid := range mentions {
		if uid == 0 || uid == senderID || seen[uid] {
			continue
		}
		seen[uid] = true
		out = append(out, uid)
	}
	return out
}

func attachmentType(kind string) string {
	switch kind {
	case TypeImage, TypeVideo, TypeAudio:
		return kind
	default:
		return TypeFile
	}
}
