package messages

import "time"

// Body variants a message can carry.
const (
	TypeText    = "text"
	TypeAudio   = "audio"
	TypeImage   = "image"
	TypeVideo   = "video"
	TypeFile    = "file"
	TypeDeleted = "deleted"
	TypeSystem  = "system"
)

// Reader is a resolved entry of a message's readers set, for "seen by" UI.
type Reader struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type Message struct {
	ID             int64      `json:"id"`
	ConversationID int64      `json:"conversation_id"`
	SenderID       int64      `json:"sender_id"`
	SenderName     string     `json:"sender_name"`
	Text           string     `json:"text"`
	Type           string     `json:"type"`
	FileURL        string     `json:"file_url,omitempty"`
	FileMime       string     `json:"file_mime,omitempty"`
	FileName       string     `json:"file_name,omitempty"`
	FileSize       int64      `json:"file_size,omitempty"`
	AudioDuration  float64    `json:"audio_duration,omitempty"`
	Readers        []Reader   `json:"read_by"`
	Mentions       []int64    `json:"mentions,omitempty"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	DeletedBy      int64      `json:"deleted_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Attachment is the normalized descriptor the upload adapter produces.
type Attachment struct {
	URL  string `json:"url" binding:"required"`
	Mime string `json:"mime"`
	Name string `json:"name"`
	Size int64  `json:"size"`
	Kind string `json:"kind"` // image, video, audio or file
}
