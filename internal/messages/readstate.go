package messages

import (
	"context"
	"fmt"
	"log"
)

// ReadReceipt is the room event emitted after a participant marks messages
// as read.
type ReadReceipt struct {
	ConversationID int64   `json:"conversation_id"`
	ReaderID       int64   `json:"reader_id"`
	MessageIDs     []int64 `json:"message_ids"`
}

// MarkRead records that recipientID has seen the targeted messages. The
// readers-set update is an atomic set-union per message, so repeating the
// call is a no-op and concurrent markers never lose each other's updates.
// Outstanding chat notifications for the conversation are resolved
// best-effort afterwards; a failure there does not undo the readers update.
//
// With explicit messageIDs the touched messages come back in creation
// order; ids not belonging to the conversation are silently ignored. With
// none, the whole conversation is marked and the most recent window is
// returned, oldest first.
func (e *Engine) MarkRead(ctx context.Context, conversationID, recipientID int64, messageIDs []int64) ([]Message, error) {
	conv, err := e.Conversations.Get(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("conversation lookup: %w", err)
	}
	if conv == nil {
		return nil, fmt.Errorf("%w: conversation %d", ErrNotFound, conversationID)
	}
	if !conv.HasParticipant(recipientID) {
		return nil, fmt.Errorf("%w: user %d is not a participant", ErrForbidden, recipientID)
	}

	touched, err := e.Store.MarkRead(ctx, conversationID, recipientID, messageIDs, e.window())
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}

	if err := e.Notifications.ResolveForConversation(ctx, recipientID, conversationID); err != nil {
		// Eventual consistency: the readers update stands, a later
		// mark-read re-resolves.
		log.Printf("[readstate] resolve notifications for user %d conversation %d: %v",
			recipientID, conversationID, err)
	}

	ids := make([]int64, len(touched))
	for i := range touched {
		ids[i] = touched[i].ID
	}
	e.Broadcast.PushToRoom(conversationID, "read_receipt", ReadReceipt{
		ConversationID: conversationID,
		ReaderID:       recipientID,
		MessageIDs:     ids,
	}, recipientID)

	return touched, nil
}

// Delete soft-deletes a message: the sender, a conversation admin, or a
// global director/project_manager may do it. The transition is one-way.
func (e *Engine) Delete(ctx context.Context, conversationID, messageID, actorID int64) (*Message, error) {
	conv, err := e.Conversations.Get(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("conversation lookup: %w", err)
	}
	if conv == nil {
		return nil, fmt.Errorf("%w: conversation %d", ErrNotFound, conversationID)
	}

	msg, err := e.Store.Get(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("message lookup: %w", err)
	}
	if msg == nil || msg.ConversationID != conversationID {
		return nil, fmt.Errorf("%w: message %d", ErrNotFound, messageID)
	}

	allowed := msg.SenderID == actorID || conv.IsAdmin(actorID)
	if !allowed {
		role, err := e.Store.UserRole(ctx, actorID)
		if err != nil {
			return nil, fmt.Errorf("role lookup: %w", err)
		}
		allowed = role == "director" || role == "project_manager"
	}
	if !allowed {
		return nil, fmt.Errorf("%w: user %d may not delete message %d", ErrForbidden, actorID, messageID)
	}

	if msg.DeletedAt == nil {
		if err := e.Store.SoftDelete(ctx, messageID, actorID); err != nil {
			return nil, fmt.Errorf("delete message: %w", err)
		}
	}

	msg, err = e.Store.Get(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("message reload: %w", err)
	}
	return msg, nil
}
