package models

import (
	"time"
)

// Message represents a persisted direct message between two users.
// JSON field names match what the web client expects from the history
// endpoint: id, sender_id, receiver_id, content, created_at.
type Message struct {
	ID         int64     `json:"id" gorm:"primaryKey"`
	SenderID   int64     `json:"sender_id" gorm:"index:idx_messages_pair"`
	ReceiverID int64     `json:"receiver_id" gorm:"index:idx_messages_pair"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}
