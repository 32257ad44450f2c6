package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"spotlight/backend/pkg/logger"
)

var (
	// ErrChannelNotReady is returned when sending before the handshake
	// completed or after the channel closed
	ErrChannelNotReady = errors.New("live channel is not ready")
	// ErrChannelClosed is returned when connecting a channel that has
	// already been torn down
	ErrChannelClosed = errors.New("live channel is closed")
)

const channelWriteWait = 10 * time.Second

// LiveTransport is the duplex connection carrying real-time frames for all
// of the local user's conversations. One transport exists per open session;
// the controller owns it exclusively.
type LiveTransport interface {
	// Connect dials and starts delivering inbound envelopes to recv.
	// recv is invoked sequentially, one frame at a time, in arrival order.
	Connect(ctx context.Context, recv func(Envelope)) error
	// Send transmits one envelope, fire-and-forget
	Send(env Envelope) error
	// Close tears the connection down. Idempotent, safe when never connected.
	Close() error
	// Ready reports whether the handshake completed and Send may be called
	Ready() bool
}

// Channel is the production LiveTransport over a WebSocket. The server
// multiplexes by the user_id query parameter, so one channel receives frames
// for every conversation the local user participates in.
type Channel struct {
	wsURL  string
	userID int64
	token  string
	dialer *websocket.Dialer
	log    *logger.Logger

	mu    sync.Mutex
	state ChannelState
	conn  *websocket.Conn
}

// NewChannel creates an unconnected channel for the given relay WebSocket
// URL (e.g. "wss://api.spotlight.example/ws").
func NewChannel(wsURL string, userID int64, token string, log *logger.Logger) *Channel {
	if log == nil {
		log = logger.GetGlobal()
	}
	return &Channel{
		wsURL:  wsURL,
		userID: userID,
		token:  token,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:    log.WithComponent("live_channel"),
		state:  ChannelIdle,
	}
}

// Connect dials the relay with the local user's id embedded as connection
// metadata. A channel connects at most once; there is no automatic
// reconnection on drop (known v1 limitation, isolated here so a retry policy
// can wrap the transport without touching session logic).
func (c *Channel) Connect(ctx context.Context, recv func(Envelope)) error {
	c.mu.Lock()
	if !c.state.canTransition(ChannelConnecting) {
		state := c.state
		c.mu.Unlock()
		if state == ChannelClosed {
			return ErrChannelClosed
		}
		return fmt.Errorf("cannot connect from state %q", state)
	}
	c.state = ChannelConnecting
	c.mu.Unlock()

	url := fmt.Sprintf("%s?user_id=%d", c.wsURL, c.userID)
	if c.token != "" {
		url += "&token=" + c.token
	}

	conn, _, err := c.dialer.DialContext(ctx, url, nil)
	if err != nil {
		c.mu.Lock()
		if c.state == ChannelConnecting {
			c.state = ChannelError
		}
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	if c.state != ChannelConnecting {
		// Closed while the handshake was in flight
		c.mu.Unlock()
		conn.Close()
		return ErrChannelClosed
	}
	c.conn = conn
	c.state = ChannelOpen
	c.mu.Unlock()

	c.log.Debug("websocket connected", "user_id", c.userID)
	go c.readLoop(conn, recv)
	return nil
}

// readLoop delivers inbound frames until the connection drops. Each frame
// is handled to completion before the next read, so recv sees frames in
// arrival order. Malformed frames are dropped with a diagnostic.
func (c *Channel) readLoop(conn *websocket.Conn, recv func(Envelope)) {
	defer func() {
		c.mu.Lock()
		if c.state == ChannelOpen {
			c.state = ChannelError
		}
		c.mu.Unlock()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.state == ChannelClosed
			c.mu.Unlock()
			if !closed && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("websocket read error", "error", err.Error())
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.log.Warn("dropping malformed frame", "error", err.Error())
			continue
		}
		recv(env)
	}
}

// Send transmits one envelope. Fire-and-forget: no acknowledgement frame is
// expected from the relay.
func (c *Channel) Send(env Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != ChannelOpen || c.conn == nil {
		return ErrChannelNotReady
	}

	c.conn.SetWriteDeadline(time.Now().Add(channelWriteWait))
	return c.conn.WriteJSON(env)
}

// Close tears down the connection. Safe to call repeatedly, and safe when
// the connection never opened.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == ChannelClosed {
		return nil
	}
	c.state = ChannelClosed

	if c.conn != nil {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// Ready reports whether the handshake completed
func (c *Channel) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == ChannelOpen
}

// State returns the current connection state
func (c *Channel) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
