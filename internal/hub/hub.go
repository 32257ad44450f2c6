// Package hub routes live DM frames between connected users. Each user has
// at most one registered WebSocket connection; frames addressed to an online
// user are pushed to that connection, everything is persisted regardless.
package hub

import (
	"context"
	"encoding/json"

	"spotlight/backend/internal/models"
	"spotlight/backend/pkg/logger"
	"spotlight/backend/pkg/metrics"
)

// Frame is the wire shape carried on the live channel in both directions.
type Frame struct {
	From    int64  `json:"from"`
	To      int64  `json:"to"`
	Content string `json:"content"`
}

// MessageSaver persists relayed frames.
type MessageSaver interface {
	Save(ctx context.Context, senderID, receiverID int64, content string) (*models.Message, error)
}

// Hub tracks connected clients and routes frames to recipients.
type Hub struct {
	clients    map[int64]*Client
	register   chan *Client
	unregister chan *Client
	forward    chan Frame

	saver MessageSaver
	log   *logger.Logger
}

// New creates a hub. Run must be called before serving connections.
func New(saver MessageSaver, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.GetGlobal()
	}
	return &Hub{
		clients:    make(map[int64]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		forward:    make(chan Frame),
		saver:      saver,
		log:        log.WithComponent("hub"),
	}
}

// Run processes registrations and frame routing until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for _, client := range h.clients {
				close(client.send)
			}
			h.clients = make(map[int64]*Client)
			return

		case client := <-h.register:
			// A reconnect replaces the previous connection for the user
			if prev, ok := h.clients[client.userID]; ok {
				close(prev.send)
			} else {
				metrics.ConnectedClients.Inc()
			}
			h.clients[client.userID] = client
			h.log.Info("client registered", "user_id", client.userID)

		case client := <-h.unregister:
			if current, ok := h.clients[client.userID]; ok && current == client {
				delete(h.clients, client.userID)
				close(client.send)
				metrics.ConnectedClients.Dec()
				h.log.Info("client unregistered", "user_id", client.userID)
			}

		case frame := <-h.forward:
			recipient, online := h.clients[frame.To]
			if !online {
				metrics.MessagesOffline.Inc()
				continue
			}

			payload, err := json.Marshal(frame)
			if err != nil {
				h.log.LogError(err, "failed to encode frame", "to", frame.To)
				continue
			}

			select {
			case recipient.send <- payload:
				metrics.MessagesRelayed.Inc()
			default:
				// Slow consumer, drop the frame and the connection
				delete(h.clients, recipient.userID)
				close(recipient.send)
				metrics.ConnectedClients.Dec()
				metrics.MessagesDropped.Inc()
				h.log.Warn("client dropped due to blocked send queue", "user_id", recipient.userID)
			}
		}
	}
}

// handleFrame validates, persists and routes one inbound frame. Invalid
// frames are dropped with a diagnostic, never an error to the sender.
func (h *Hub) handleFrame(ctx context.Context, senderID int64, raw []byte) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		metrics.MalformedFrames.Inc()
		h.log.Warn("dropping malformed frame", "user_id", senderID, "error", err.Error())
		return
	}

	// The sender is whoever authenticated the connection
	if frame.From == 0 {
		frame.From = senderID
	}
	if frame.From != senderID || frame.To == 0 || frame.Content == "" {
		metrics.MalformedFrames.Inc()
		h.log.Warn("dropping invalid frame", "user_id", senderID, "to", frame.To)
		return
	}

	if _, err := h.saver.Save(ctx, frame.From, frame.To, frame.Content); err != nil {
		h.log.LogError(err, "failed to persist message", "from", frame.From, "to", frame.To)
		// Still relay: the recipient sees it live, history catches up later
	}

	h.forward <- frame
}
