// Package session implements the client-side controller for one direct-message
// conversation: it reconciles a REST-fetched history with a live WebSocket
// stream into a single ordered message sequence, and manages the connection
// lifecycle around an open/closed toggle driven by the UI.
package session

import (
	"time"
)

// TimeSource records where a message timestamp came from. History rows carry
// the backend's time; live frames carry no timestamp on the wire and are
// stamped locally at receipt, so the two are not directly comparable.
type TimeSource int

const (
	// TimeServer means CreatedAt was assigned by the backend
	TimeServer TimeSource = iota
	// TimeClientEstimated means CreatedAt was stamped at frame receipt
	TimeClientEstimated
)

// Message is a single chat line as displayed in a conversation.
// ID is zero for live-channel messages until a history refetch returns the
// persisted row.
type Message struct {
	ID         int64      `json:"id,omitempty"`
	SenderID   int64      `json:"sender_id"`
	ReceiverID int64      `json:"receiver_id"`
	Content    string     `json:"content"`
	CreatedAt  time.Time  `json:"created_at"`
	TimeSource TimeSource `json:"-"`
}

// Envelope is the wire shape carried on the live channel in both directions.
// It is deliberately distinct from Message: no id, no timestamp.
type Envelope struct {
	From    int64  `json:"from"`
	To      int64  `json:"to"`
	Content string `json:"content"`
}

// ConversationKey identifies one conversation for the lifetime of an open
// session.
type ConversationKey struct {
	LocalID int64
	PeerID  int64
}

// Resolved reports whether both participants are known
func (k ConversationKey) Resolved() bool {
	return k.LocalID > 0 && k.PeerID > 0
}

// Matches tests whether a frame's {from,to} equals this key as an unordered
// pair. A single live channel delivers frames for all of the local user's
// conversations; only matching frames belong to this session.
func (k ConversationKey) Matches(from, to int64) bool {
	return (from == k.LocalID && to == k.PeerID) ||
		(from == k.PeerID && to == k.LocalID)
}
