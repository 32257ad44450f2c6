package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"spotlight/backend/pkg/logger"
)

var (
	// ErrIdentityNotReady is returned by Open while the local user id has
	// not resolved yet; callers retry once identity becomes available
	ErrIdentityNotReady = errors.New("local user identity not resolved")
	// ErrInvalidPeer is returned by Open for a zero or negative peer id
	ErrInvalidPeer = errors.New("invalid peer id")
	// ErrSessionActive is returned by Open when a session for a different
	// peer is already open; it must be closed first
	ErrSessionActive = errors.New("a session for another conversation is already open")

	// ErrHistoryUnavailable wraps history fetch failures; its message is
	// what the UI shows in place of the message list
	ErrHistoryUnavailable = errors.New("could not load message history")
	// ErrConnectionFailed wraps live channel failures
	ErrConnectionFailed = errors.New("connection error")
)

// TransportFactory builds a fresh transport for one session. Each open gets
// its own transport; a closed transport is never reused.
type TransportFactory func(localID int64) LiveTransport

// Options configures a Controller.
type Options struct {
	Identity  Identity
	History   HistoryLoader
	Transport TransportFactory
	Logger    *logger.Logger
	// Clock stamps live messages at receipt; defaults to time.Now
	Clock func() time.Time
}

// Controller coordinates one conversation session: history load, live
// channel, message store and outbound sends, gated on an open/closed flag.
// All methods are safe for concurrent use.
type Controller struct {
	identity     Identity
	history      HistoryLoader
	newTransport TransportFactory
	log          *logger.Logger
	clock        func() time.Time

	mu        sync.Mutex
	state     SessionState
	key       ConversationKey
	store     *Store
	transport LiveTransport
	cancel    context.CancelFunc

	// epoch increments on every open and close; in-flight completions from
	// a previous epoch are discarded
	epoch uint64

	loading    bool
	historyErr error
	connErr    error
	draft      string

	updates chan struct{}
}

// NewController creates a controller for the given collaborators.
func NewController(opts Options) *Controller {
	log := opts.Logger
	if log == nil {
		log = logger.GetGlobal()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Controller{
		identity:     opts.Identity,
		history:      opts.History,
		newTransport: opts.Transport,
		log:          log.WithComponent("dm_session"),
		clock:        clock,
		store:        NewStore(),
		updates:      make(chan struct{}, 1),
	}
}

// Open starts a session with the given peer: a fresh message store, a
// one-shot history fetch and a live channel connect run concurrently.
// Opening an already-open session for the same peer is a no-op. The history
// fetch and the connect race; see Store.PrependHistory for how a live frame
// arriving before the history batch is ordered.
func (c *Controller) Open(ctx context.Context, peerID int64) error {
	localID, ok := c.identity.UserID()
	if !ok {
		// Identity resolves asynchronously on first render; do not touch
		// the network until it has
		return ErrIdentityNotReady
	}
	if peerID <= 0 {
		return ErrInvalidPeer
	}

	c.mu.Lock()
	if c.state == SessionOpen || c.state == SessionOpening {
		same := c.key.PeerID == peerID && c.key.LocalID == localID
		c.mu.Unlock()
		if same {
			return nil
		}
		return ErrSessionActive
	}
	if c.state == SessionClosing {
		c.mu.Unlock()
		return ErrSessionActive
	}

	c.state = SessionOpening
	c.key = ConversationKey{LocalID: localID, PeerID: peerID}
	c.store = NewStore()
	c.epoch++
	c.loading = true
	c.historyErr = nil
	c.connErr = nil

	epoch := c.epoch
	key := c.key
	sessionCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	transport := c.newTransport(localID)
	c.transport = transport
	store := c.store
	c.state = SessionOpen
	c.mu.Unlock()

	c.log.Info("session opened", "local_id", key.LocalID, "peer_id", key.PeerID)
	go c.loadHistory(sessionCtx, epoch, key, store)
	go c.connect(sessionCtx, epoch, transport)
	c.notify()
	return nil
}

// Close tears the session down: the live channel is closed before Close
// returns, and the store, draft and error state are discarded. Idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.state == SessionClosed {
		c.mu.Unlock()
		return
	}
	c.state = SessionClosing
	c.epoch++

	transport := c.transport
	cancel := c.cancel
	c.transport = nil
	c.cancel = nil
	c.store.Clear()
	c.draft = ""
	c.loading = false
	c.historyErr = nil
	c.connErr = nil
	key := c.key
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	// Teardown is synchronous with the close transition: no connection
	// outlives a completed Close call
	if transport != nil {
		if err := transport.Close(); err != nil {
			c.log.Warn("transport close failed", "error", err.Error())
		}
	}

	c.mu.Lock()
	c.state = SessionClosed
	c.mu.Unlock()

	c.log.Info("session closed", "local_id", key.LocalID, "peer_id", key.PeerID)
	c.notify()
}

// loadHistory runs the one-shot history fetch. Completions belonging to a
// session that has since closed or reopened are discarded.
func (c *Controller) loadHistory(ctx context.Context, epoch uint64, key ConversationKey, store *Store) {
	messages, err := c.history.History(ctx, key.LocalID, key.PeerID)

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	c.loading = false
	if err != nil {
		c.historyErr = ErrHistoryUnavailable
		c.mu.Unlock()
		c.log.LogError(err, "history fetch failed", "peer_id", key.PeerID)
		c.notify()
		return
	}
	store.PrependHistory(messages)
	c.mu.Unlock()

	c.log.Debug("history loaded", "peer_id", key.PeerID, "count", len(messages))
	c.notify()
}

// connect dials the live channel. A connect failure surfaces a connection
// error but leaves the session open; history remains readable.
func (c *Controller) connect(ctx context.Context, epoch uint64, transport LiveTransport) {
	err := transport.Connect(ctx, func(env Envelope) {
		c.onFrame(epoch, env)
	})
	if err != nil {
		c.mu.Lock()
		if c.epoch == epoch {
			c.connErr = ErrConnectionFailed
		}
		c.mu.Unlock()
		c.log.LogError(err, "live channel connect failed")
		c.notify()
		return
	}
	c.notify()
}

// onFrame filters one inbound envelope against the active conversation key
// and appends matches to the store with a client-stamped timestamp.
func (c *Controller) onFrame(epoch uint64, env Envelope) {
	c.mu.Lock()
	if c.epoch != epoch || c.state != SessionOpen {
		c.mu.Unlock()
		return
	}
	if !c.key.Matches(env.From, env.To) {
		// Frame for one of the user's other conversations
		c.mu.Unlock()
		c.log.Debug("discarding frame for inactive conversation", "from", env.From, "to", env.To)
		return
	}

	c.store.Append(Message{
		SenderID:   env.From,
		ReceiverID: env.To,
		Content:    env.Content,
		CreatedAt:  c.clock(),
		TimeSource: TimeClientEstimated,
	})
	c.mu.Unlock()
	c.notify()
}

// Send validates and transmits one composed message. Empty content after
// trimming is a silent no-op; an unready channel is logged and reported so
// the UI can keep its send control disabled.
func (c *Controller) Send(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	c.mu.Lock()
	if c.state != SessionOpen {
		c.mu.Unlock()
		c.log.Warn("send ignored, session not open")
		return ErrChannelNotReady
	}
	transport := c.transport
	key := c.key
	c.mu.Unlock()

	if transport == nil || !transport.Ready() {
		c.log.Warn("send ignored, live channel not ready")
		return ErrChannelNotReady
	}

	if err := transport.Send(Envelope{From: key.LocalID, To: key.PeerID, Content: text}); err != nil {
		c.log.LogError(err, "send failed", "peer_id", key.PeerID)
		return err
	}
	return nil
}

// SetDraft stores the pending compose text
func (c *Controller) SetDraft(text string) {
	c.mu.Lock()
	c.draft = text
	c.mu.Unlock()
}

// Draft returns the pending compose text
func (c *Controller) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// SendDraft transmits the current draft and clears it on success
func (c *Controller) SendDraft() error {
	if err := c.Send(c.Draft()); err != nil {
		return err
	}
	c.SetDraft("")
	return nil
}

// Messages returns a copy of the conversation in display order
func (c *Controller) Messages() []Message {
	c.mu.Lock()
	store := c.store
	c.mu.Unlock()
	return store.Snapshot()
}

// State returns the session lifecycle state
func (c *Controller) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Key returns the active conversation key
func (c *Controller) Key() ConversationKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key
}

// Ready reports whether sends would currently be transmitted
func (c *Controller) Ready() bool {
	c.mu.Lock()
	state := c.state
	transport := c.transport
	c.mu.Unlock()
	return state == SessionOpen && transport != nil && transport.Ready()
}

// LoadingHistory reports whether the history fetch is still in flight
func (c *Controller) LoadingHistory() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// HistoryErr returns the user-visible history failure, if any
func (c *Controller) HistoryErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.historyErr
}

// ConnErr returns the user-visible connection failure, if any
func (c *Controller) ConnErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connErr
}

// Updates returns a coalescing notification channel: at least one receive is
// pending after any store or status change. The UI collaborator re-reads
// Messages and scrolls to the latest on each notification.
//
// The channel is never closed: the controller outlives individual sessions
// (Close then Open reuses it), so Close signals on it rather than closing it.
// Long-lived consumers must select on their own done channel to terminate.
func (c *Controller) Updates() <-chan struct{} {
	return c.updates
}

func (c *Controller) notify() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}
