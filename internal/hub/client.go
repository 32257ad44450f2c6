package hub

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"spotlight/backend/pkg/config"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Cross-origin browser clients; CORS enforced at the HTTP layer
	},
	HandshakeTimeout: 10 * time.Second,
	ReadBufferSize:   1024,
	WriteBufferSize:  1024,
}

// Client is one user's WebSocket connection to the relay.
type Client struct {
	userID int64
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
}

// ServeWS upgrades an authenticated request and starts the client pumps.
// The caller is responsible for resolving and authorizing userID.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID int64) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := &Client{
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, config.Get().DM.SendQueueSize),
		hub:    h,
	}

	h.register <- client
	h.log.Info("websocket connection opened", "user_id", userID)

	go client.writePump()
	go client.readPump()

	return nil
}

func (c *Client) readPump() {
	// The request context dies with the HTTP handler once the connection is
	// hijacked, so persistence uses its own context.
	ctx := context.Background()

	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
		c.hub.log.Info("websocket connection closed", "user_id", c.userID)
	}()

	c.conn.SetReadLimit(config.Get().DM.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("websocket read error", "user_id", c.userID, "error", err.Error())
			}
			break
		}
		c.hub.handleFrame(ctx, c.userID, raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

			// Flush anything already queued as separate frames
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
