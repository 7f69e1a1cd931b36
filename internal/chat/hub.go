package chat

import (
	"database/sql"
	"encoding/json"
	"log"
	"sync"
)

// Hub is the registry of live connections: userID -> connection set
// (multi-tab / multi-device) and room (= conversation id) -> connection set.
// It is the only process-wide mutable state; everything here is ephemeral
// and rebuilt as clients reconnect. Delivery is fire-and-forget — durability
// for offline recipients lives in the notification store, not here.
type Hub struct {
	DB *sql.DB

	mu      sync.Mutex
	clients map[int64]map[*Client]bool
	rooms   map[int64]map[*Client]bool
}

func NewHub(db *sql.DB) *Hub {
	return &Hub{
		DB:      db,
		clients: make(map[int64]map[*Client]bool),
		rooms:   make(map[int64]map[*Client]bool),
	}
}

func (h *Hub) Register(client *Client) {
	h.touchLastActive(client.UserID)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[client.UserID] == nil {
		h.clients[client.UserID] = make(map[*Client]bool)
	}
	h.clients[client.UserID][client] = true
}

// Unregister drops the connection from the registry and every room it
// joined. Safe to call more than once.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	h.drop(client)
	empty := len(h.clients[client.UserID]) == 0
	if empty {
		delete(h.clients, client.UserID)
	}
	h.mu.Unlock()

	if empty {
		h.touchLastActive(client.UserID)
	}
}

// Join subscribes the connection to a room. Idempotent.
func (h *Hub) Join(client *Client, roomID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client.closed {
		return
	}
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*Client]bool)
	}
	h.rooms[roomID][client] = true
	client.rooms[roomID] = true
}

func (h *Hub) Leave(client *Client, roomID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.rooms[roomID]; ok {
		delete(set, client)
		if len(set) == 0 {
			delete(h.rooms, roomID)
		}
	}
	delete(client.rooms, roomID)
}

// PushToRoom delivers an event to every connection joined to the room,
// skipping all connections of excludeUserID (0 skips nobody).
func (h *Hub) PushToRoom(roomID int64, event string, payload any, excludeUserID int64) {
	data, err := marshalEnvelope(event, payload)
	if err != nil {
		log.Printf("[hub] marshal %s: %v", event, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.rooms[roomID] {
		if excludeUserID != 0 && client.UserID == excludeUserID {
			continue
		}
		h.deliver(client, data)
	}
}

// PushToRecipient delivers an event to every connection of the user,
// regardless of rooms. Used for cross-conversation alerts.
func (h *Hub) PushToRecipient(recipientID int64, event string, payload any) {
	data, err := marshalEnvelope(event, payload)
	if err != nil {
		log.Printf("[hub] marshal %s: %v", event, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients[recipientID] {
		h.deliver(client, data)
	}
}

func (h *Hub) Connected(recipientID int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[recipientID]) > 0
}

// IsMember checks the participants table; used to gate join_room.
func (h *Hub) IsMember(conversationID, userID int64) bool {
	if h.DB == nil {
		return false
	}
	var n int
	_ = h.DB.QueryRow(`SELECT COUNT(1) FROM participants WHERE conversation_id=? AND user_id=?`,
		conversationID, userID).Scan(&n)
	return n > 0
}

// deliver enqueues without blocking; a slow or broken client is dropped.
// Caller holds h.mu.
func (h *Hub) deliver(client *Client, data []byte) {
	if client.closed {
		return
	}
	select {
	case client.Send <- data:
	default:
		h.drop(client)
		log.Printf("[hub] dropped slow client for user %d", client.UserID)
	}
}

// drop removes the client everywhere and closes its send channel. Caller
// holds h.mu.
func (h *Hub) drop(client *Client) {
	if set, ok := h.clients[client.UserID]; ok {
		delete(set, client)
	}
	for roomID := range client.rooms {
		if set, ok := h.rooms[roomID]; ok {
			delete(set, client)
			if len(set) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}
	client.rooms = make(map[int64]bool)
	if !client.closed {
		client.closed = true
		close(client.Send)
	}
}

func (h *Hub) touchLastActive(userID int64) {
	if h.DB == nil {
		return
	}
	if _, err := h.DB.Exec(`UPDATE users SET last_active=CURRENT_TIMESTAMP WHERE id=?`, userID); err != nil {
		log.Printf("[hub] last_active for user %d: %v", userID, err)
	}
}

func marshalEnvelope(event string, payload any) ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		Data any    `json:"data"`
	}{event, payload})
}
