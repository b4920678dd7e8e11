package docstore

import "time"

const (
	ContentTypeText  = "TEXT"
	ContentTypeImage = "IMAGE"
	ContentTypeFile  = "FILE"
)

const (
	MessageSending    = "SENDING"
	MessageProcessing = "PROCESSING"
	MessageSentToLog  = "SENT_TO_LOG"
	MessageSaved      = "SAVED"
	MessageFailed     = "FAILED"
)

// EditWindow bounds how long after creation a TEXT message stays
// editable.
const EditWindow = 24 * time.Hour

// ChatMessage is one message document. A single document holds the
// whole message including its per-user read map, so field updates are
// atomic without extra locking.
type ChatMessage struct {
	ID          string          `bson:"_id"`
	RoomID      string          `bson:"room_id"`
	SenderID    string          `bson:"sender_id"`
	Text        string          `bson:"text"`
	ContentType string          `bson:"content_type"`
	Edited      bool            `bson:"edited"`
	Deleted     bool            `bson:"deleted"`
	ReadBy      map[string]bool `bson:"read_by"`
	Status      string          `bson:"status"`
	CreatedAt   time.Time       `bson:"created_at"`
	UpdatedAt   time.Time       `bson:"updated_at"`
	ExpiresAt   *time.Time      `bson:"expires_at,omitempty"`
}

// Reaction is one user's reaction to one message, unique per
// (message_id, user_id).
type Reaction struct {
	MessageID string    `bson:"message_id"`
	UserID    string    `bson:"user_id"`
	Type      string    `bson:"type"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}
