package chat

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teamstack/crewchat/backend/internal/messages"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 65536
)

// Client is one live websocket connection. It is bound to a single user for
// its whole lifetime, set at handshake time from the JWT.
type Client struct {
	Hub    *Hub
	Engine *messages.Engine
	Conn   *websocket.Conn
	Send   chan []byte
	UserID int64

	// guarded by Hub.mu
	rooms  map[int64]bool
	closed bool
}

// inbound is the union of every client->server event shape.
type inbound struct {
	Type           string               `json:"type"`
	ConversationID int64                `json:"conversation_id"`
	Text           string               `json:"text"`
	Mentions       []int64              `json:"mentions"`
	Attachment     *messages.Attachment `json:"attachment"`
	AudioDuration  float64              `json:"audio_duration"`
	MessageIDs     []int64              `json:"message_ids"`
}

type sendAck struct {
	Status  string            `json:"status"`
	Data    *messages.Message `json:"data,omitempty"`
	Message string            `json:"message,omitempty"`
}

type typingEvent struct {
	ConversationID int64 `json:"conversation_id"`
	UserID         int64 `json:"user_id"`
}

func (c *Client) readPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			break
		}
		var in inbound
		if err := json.Unmarshal(raw, &in); err != nil {
			continue
		}
		c.handle(in)
	}
}

func (c *Client) handle(in inbound) {
	switch in.Type {
	case "join_room":
		if !c.Hub.IsMember(in.ConversationID, c.UserID) {
			log.Printf("[ws] user %d denied join of room %d", c.UserID, in.ConversationID)
			return
		}
		c.Hub.Join(c, in.ConversationID)

	case "leave_room":
		c.Hub.Leave(c, in.ConversationID)

	case "typing_start", "typing_stop":
		c.Hub.PushToRoom(in.ConversationID, in.Type, typingEvent{
			ConversationID: in.ConversationID,
			UserID:         c.UserID,
		}, c.UserID)

	case "send_message_secure":
		msg, err := c.Engine.Send(context.Background(), messages.SendInput{
			SenderID:       c.UserID,
			ConversationID: in.ConversationID,
			Text:           in.Text,
			Attachment:     in.Attachment,
			AudioDuration:  in.AudioDuration,
			Mentions:       in.Mentions,
		})
		if err != nil {
			c.ack("send_message_ack", sendAck{Status: "error", Message: err.Error()})
			return
		}
		c.ack("send_message_ack", sendAck{Status: "ok", Data: msg})

	case "mark_read":
		if _, err := c.Engine.MarkRead(context.Background(), in.ConversationID, c.UserID, in.MessageIDs); err != nil {
			log.Printf("[ws] mark_read by user %d in conversation %d: %v", c.UserID, in.ConversationID, err)
		}
	}
}

// ack sends an event back to this connection only.
func (c *Client) ack(event string, payload any) {
	data, err := marshalEnvelope(event, payload)
	if err != nil {
		log.Printf("[ws] marshal %s: %v", event, err)
		return
	}
	c.Hub.mu.Lock()
	c.Hub.deliver(c, data)
	c.Hub.mu.Unlock()
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
