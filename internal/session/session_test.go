package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotlight/backend/pkg/logger"
)

// fakeIdentity resolves (or refuses to resolve) a fixed user id.
type fakeIdentity struct {
	id int64
	ok bool
}

func (f fakeIdentity) UserID() (int64, bool) { return f.id, f.ok }

// fakeHistory serves canned history per peer. When gate is set, History
// blocks until the gate closes or the context is cancelled, which lets tests
// order the fetch against live traffic and teardown.
type fakeHistory struct {
	mu     sync.Mutex
	byPeer map[int64][]Message
	err    error
	gate   chan struct{}
	calls  int
}

func (f *fakeHistory) History(ctx context.Context, localID, peerID int64) ([]Message, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gate
	err := f.err
	msgs := f.byPeer[peerID]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

func (f *fakeHistory) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeTransport records sends and lets tests inject inbound frames.
type fakeTransport struct {
	mu         sync.Mutex
	recv       func(Envelope)
	ready      bool
	closes     int
	sent       []Envelope
	connectErr error
}

func (f *fakeTransport) Connect(ctx context.Context, recv func(Envelope)) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.recv = recv
	f.ready = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Send(env Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ready {
		return ErrChannelNotReady
	}
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.ready = false
	f.recv = nil
	return nil
}

func (f *fakeTransport) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func (f *fakeTransport) sentFrames() []Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Envelope, len(f.sent))
	copy(out, f.sent)
	return out
}

// deliver simulates an inbound frame from the relay.
func (f *fakeTransport) deliver(env Envelope) {
	f.mu.Lock()
	recv := f.recv
	f.mu.Unlock()
	if recv != nil {
		recv(env)
	}
}

type harness struct {
	ctrl    *Controller
	history *fakeHistory

	mu         sync.Mutex
	transports []*fakeTransport
}

func (h *harness) transport(i int) *fakeTransport {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.transports[i]
}

func (h *harness) transportCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.transports)
}

var fixedNow = time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, identity Identity, history *fakeHistory) *harness {
	t.Helper()
	h := &harness{history: history}
	log := logger.New(logger.Config{Level: "error", Output: io.Discard})
	h.ctrl = NewController(Options{
		Identity: identity,
		History:  history,
		Transport: func(localID int64) LiveTransport {
			tr := &fakeTransport{}
			h.mu.Lock()
			h.transports = append(h.transports, tr)
			h.mu.Unlock()
			return tr
		},
		Logger: log,
		Clock:  func() time.Time { return fixedNow },
	})
	return h
}

func waitReady(t *testing.T, ctrl *Controller) {
	t.Helper()
	require.Eventually(t, ctrl.Ready, time.Second, 2*time.Millisecond, "channel never became ready")
}

func waitHistoryDone(t *testing.T, ctrl *Controller) {
	t.Helper()
	require.Eventually(t, func() bool { return !ctrl.LoadingHistory() },
		time.Second, 2*time.Millisecond, "history fetch never completed")
}

func serverMsg(from, to int64, content string) Message {
	return Message{SenderID: from, ReceiverID: to, Content: content,
		CreatedAt: fixedNow.Add(-time.Hour), TimeSource: TimeServer}
}

func TestOpenLoadsHistoryThenAppendsLive(t *testing.T) {
	history := &fakeHistory{byPeer: map[int64][]Message{
		2: {serverMsg(1, 2, "hey"), serverMsg(2, 1, "hi yourself")},
	}}
	h := newHarness(t, fakeIdentity{id: 1, ok: true}, history)

	require.NoError(t, h.ctrl.Open(context.Background(), 2))
	waitReady(t, h.ctrl)
	waitHistoryDone(t, h.ctrl)

	h.transport(0).deliver(Envelope{From: 2, To: 1, Content: "you there?"})

	got := h.ctrl.Messages()
	require.Len(t, got, 3)
	assert.Equal(t, "hey", got[0].Content)
	assert.Equal(t, "hi yourself", got[1].Content)
	assert.Equal(t, "you there?", got[2].Content)

	assert.Equal(t, TimeServer, got[0].TimeSource)
	assert.Equal(t, TimeClientEstimated, got[2].TimeSource)
	assert.Equal(t, fixedNow, got[2].CreatedAt)

	assert.Equal(t, SessionOpen, h.ctrl.State())
	assert.Equal(t, ConversationKey{LocalID: 1, PeerID: 2}, h.ctrl.Key())
}

func TestOpenRequiresResolvedIdentity(t *testing.T) {
	h := newHarness(t, fakeIdentity{ok: false}, &fakeHistory{})

	err := h.ctrl.Open(context.Background(), 2)
	assert.ErrorIs(t, err, ErrIdentityNotReady)
	assert.Equal(t, SessionClosed, h.ctrl.State())
	assert.Zero(t, h.transportCount(), "no transport before identity resolves")
	assert.Zero(t, h.history.callCount(), "no history fetch before identity resolves")
}

func TestOpenRejectsInvalidPeer(t *testing.T) {
	h := newHarness(t, fakeIdentity{id: 1, ok: true}, &fakeHistory{})

	assert.ErrorIs(t, h.ctrl.Open(context.Background(), 0), ErrInvalidPeer)
	assert.ErrorIs(t, h.ctrl.Open(context.Background(), -3), ErrInvalidPeer)
}

func TestOpenSamePeerTwiceIsANoOp(t *testing.T) {
	history := &fakeHistory{byPeer: map[int64][]Message{2: {serverMsg(1, 2, "a")}}}
	h := newHarness(t, fakeIdentity{id: 1, ok: true}, history)

	require.NoError(t, h.ctrl.Open(context.Background(), 2))
	waitReady(t, h.ctrl)
	require.NoError(t, h.ctrl.Open(context.Background(), 2))

	assert.Equal(t, 1, h.transportCount())
	assert.Equal(t, 1, h.history.callCount())
}

func TestOpenDifferentPeerWhileActiveFails(t *testing.T) {
	h := newHarness(t, fakeIdentity{id: 1, ok: true}, &fakeHistory{})

	require.NoError(t, h.ctrl.Open(context.Background(), 2))
	waitReady(t, h.ctrl)

	assert.ErrorIs(t, h.ctrl.Open(context.Background(), 3), ErrSessionActive)
	assert.Equal(t, ConversationKey{LocalID: 1, PeerID: 2}, h.ctrl.Key())
}

func TestFramesForOtherConversationsAreDiscarded(t *testing.T) {
	h := newHarness(t, fakeIdentity{id: 1, ok: true}, &fakeHistory{})

	require.NoError(t, h.ctrl.Open(context.Background(), 2))
	waitReady(t, h.ctrl)
	waitHistoryDone(t, h.ctrl)

	tr := h.transport(0)
	tr.deliver(Envelope{From: 3, To: 1, Content: "wrong peer"})
	tr.deliver(Envelope{From: 1, To: 4, Content: "wrong recipient"})
	tr.deliver(Envelope{From: 2, To: 1, Content: "right conversation"})
	tr.deliver(Envelope{From: 1, To: 2, Content: "echo of own send"})

	got := h.ctrl.Messages()
	require.Len(t, got, 2)
	assert.Equal(t, "right conversation", got[0].Content)
	assert.Equal(t, "echo of own send", got[1].Content)
}

func TestLiveFrameDuringHistoryFetchIsKept(t *testing.T) {
	gate := make(chan struct{})
	history := &fakeHistory{
		byPeer: map[int64][]Message{2: {serverMsg(2, 1, "older")}},
		gate:   gate,
	}
	h := newHarness(t, fakeIdentity{id: 1, ok: true}, history)

	require.NoError(t, h.ctrl.Open(context.Background(), 2))
	waitReady(t, h.ctrl)

	// Frame arrives while the fetch is still in flight
	h.transport(0).deliver(Envelope{From: 2, To: 1, Content: "racing"})
	require.Len(t, h.ctrl.Messages(), 1)

	close(gate)
	waitHistoryDone(t, h.ctrl)

	got := h.ctrl.Messages()
	require.Len(t, got, 2)
	assert.Equal(t, "older", got[0].Content, "history batch goes ahead of raced frames")
	assert.Equal(t, "racing", got[1].Content)
}

func TestCloseDiscardsLateHistoryCompletion(t *testing.T) {
	gate := make(chan struct{})
	history := &fakeHistory{
		byPeer: map[int64][]Message{2: {serverMsg(2, 1, "stale")}},
		gate:   gate,
	}
	h := newHarness(t, fakeIdentity{id: 1, ok: true}, history)

	require.NoError(t, h.ctrl.Open(context.Background(), 2))
	waitReady(t, h.ctrl)

	h.ctrl.Close()
	close(gate)

	// The completion belongs to a closed session and must not resurface
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, h.ctrl.Messages())
	assert.Equal(t, SessionClosed, h.ctrl.State())
	assert.NoError(t, h.ctrl.HistoryErr())
}

func TestCloseTearsDownSynchronously(t *testing.T) {
	h := newHarness(t, fakeIdentity{id: 1, ok: true}, &fakeHistory{})

	require.NoError(t, h.ctrl.Open(context.Background(), 2))
	waitReady(t, h.ctrl)
	h.transport(0).deliver(Envelope{From: 2, To: 1, Content: "hi"})

	h.ctrl.Close()

	assert.Equal(t, 1, h.transport(0).closeCount())
	assert.False(t, h.ctrl.Ready())
	assert.Empty(t, h.ctrl.Messages())
	assert.Empty(t, h.ctrl.Draft())
	assert.Equal(t, SessionClosed, h.ctrl.State())
}

func TestCloseIsIdempotent(t *testing.T) {
	h := newHarness(t, fakeIdentity{id: 1, ok: true}, &fakeHistory{})

	require.NoError(t, h.ctrl.Open(context.Background(), 2))
	waitReady(t, h.ctrl)

	h.ctrl.Close()
	h.ctrl.Close()
	h.ctrl.Close()

	assert.Equal(t, 1, h.transport(0).closeCount())
	assert.Equal(t, SessionClosed, h.ctrl.State())
}

func TestCloseWithoutOpenIsSafe(t *testing.T) {
	h := newHarness(t, fakeIdentity{id: 1, ok: true}, &fakeHistory{})
	h.ctrl.Close()
	assert.Equal(t, SessionClosed, h.ctrl.State())
}

func TestReopenStartsFresh(t *testing.T) {
	history := &fakeHistory{byPeer: map[int64][]Message{
		2: {serverMsg(2, 1, "from peer two")},
		3: {serverMsg(3, 1, "from peer three")},
	}}
	h := newHarness(t, fakeIdentity{id: 1, ok: true}, history)

	require.NoError(t, h.ctrl.Open(context.Background(), 2))
	waitReady(t, h.ctrl)
	waitHistoryDone(t, h.ctrl)
	h.ctrl.Close()

	require.NoError(t, h.ctrl.Open(context.Background(), 3))
	waitReady(t, h.ctrl)
	waitHistoryDone(t, h.ctrl)

	got := h.ctrl.Messages()
	require.Len(t, got, 1)
	assert.Equal(t, "from peer three", got[0].Content)
	assert.Equal(t, 2, h.transportCount(), "each session gets a fresh transport")
	assert.Equal(t, int64(3), h.ctrl.Key().PeerID)
}

func TestSendTrimsContentAndSkipsBlank(t *testing.T) {
	h := newHarness(t, fakeIdentity{id: 1, ok: true}, &fakeHistory{})

	require.NoError(t, h.ctrl.Open(context.Background(), 2))
	waitReady(t, h.ctrl)

	assert.NoError(t, h.ctrl.Send("   \t  "), "blank content is a silent no-op")
	assert.NoError(t, h.ctrl.Send("  hello  "))

	sent := h.transport(0).sentFrames()
	require.Len(t, sent, 1)
	assert.Equal(t, Envelope{From: 1, To: 2, Content: "hello"}, sent[0])
}

func TestSendWithoutOpenSession(t *testing.T) {
	h := newHarness(t, fakeIdentity{id: 1, ok: true}, &fakeHistory{})
	assert.ErrorIs(t, h.ctrl.Send("hello"), ErrChannelNotReady)
}

func TestHistoryFailureLeavesChannelUsable(t *testing.T) {
	history := &fakeHistory{err: errors.New("boom")}
	h := newHarness(t, fakeIdentity{id: 1, ok: true}, history)

	require.NoError(t, h.ctrl.Open(context.Background(), 2))
	waitReady(t, h.ctrl)
	waitHistoryDone(t, h.ctrl)

	assert.ErrorIs(t, h.ctrl.HistoryErr(), ErrHistoryUnavailable)

	// Live traffic still flows both ways
	h.transport(0).deliver(Envelope{From: 2, To: 1, Content: "still here"})
	require.Len(t, h.ctrl.Messages(), 1)
	assert.NoError(t, h.ctrl.Send("me too"))
}

func TestConnectFailureLeavesHistoryReadable(t *testing.T) {
	history := &fakeHistory{byPeer: map[int64][]Message{2: {serverMsg(2, 1, "archived")}}}
	h := &harness{history: history}
	log := logger.New(logger.Config{Level: "error", Output: io.Discard})
	h.ctrl = NewController(Options{
		Identity: fakeIdentity{id: 1, ok: true},
		History:  history,
		Transport: func(localID int64) LiveTransport {
			tr := &fakeTransport{connectErr: errors.New("dial refused")}
			h.mu.Lock()
			h.transports = append(h.transports, tr)
			h.mu.Unlock()
			return tr
		},
		Logger: log,
	})

	require.NoError(t, h.ctrl.Open(context.Background(), 2))
	waitHistoryDone(t, h.ctrl)
	require.Eventually(t, func() bool { return h.ctrl.ConnErr() != nil },
		time.Second, 2*time.Millisecond)

	assert.ErrorIs(t, h.ctrl.ConnErr(), ErrConnectionFailed)
	assert.Equal(t, SessionOpen, h.ctrl.State(), "session stays open for reading")
	require.Len(t, h.ctrl.Messages(), 1)
	assert.ErrorIs(t, h.ctrl.Send("hello"), ErrChannelNotReady)
}

func TestDraftLifecycle(t *testing.T) {
	h := newHarness(t, fakeIdentity{id: 1, ok: true}, &fakeHistory{})

	require.NoError(t, h.ctrl.Open(context.Background(), 2))
	waitReady(t, h.ctrl)

	h.ctrl.SetDraft("work in progress")
	assert.Equal(t, "work in progress", h.ctrl.Draft())

	require.NoError(t, h.ctrl.SendDraft())
	assert.Empty(t, h.ctrl.Draft(), "draft clears after a successful send")

	sent := h.transport(0).sentFrames()
	require.Len(t, sent, 1)
	assert.Equal(t, "work in progress", sent[0].Content)
}

func TestFailedSendKeepsDraft(t *testing.T) {
	h := newHarness(t, fakeIdentity{id: 1, ok: true}, &fakeHistory{})

	h.ctrl.SetDraft("unsent")
	assert.ErrorIs(t, h.ctrl.SendDraft(), ErrChannelNotReady)
	assert.Equal(t, "unsent", h.ctrl.Draft())
}

func TestUpdatesChannelStaysOpenAcrossClose(t *testing.T) {
	h := newHarness(t, fakeIdentity{id: 1, ok: true}, &fakeHistory{})

	require.NoError(t, h.ctrl.Open(context.Background(), 2))
	waitReady(t, h.ctrl)
	h.ctrl.Close()

	// Close signals on the channel; it must not close it, because the
	// controller can open another session afterwards
	select {
	case _, ok := <-h.ctrl.Updates():
		require.True(t, ok, "updates channel must stay open after Close")
	case <-time.After(time.Second):
		t.Fatal("no update notification from Close")
	}

	require.NoError(t, h.ctrl.Open(context.Background(), 3))
	waitReady(t, h.ctrl)
	h.transport(1).deliver(Envelope{From: 3, To: 1, Content: "next session"})

	select {
	case _, ok := <-h.ctrl.Updates():
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("no update notification after reopen")
	}
}

func TestUpdatesSignalCoalesces(t *testing.T) {
	h := newHarness(t, fakeIdentity{id: 1, ok: true}, &fakeHistory{})

	require.NoError(t, h.ctrl.Open(context.Background(), 2))
	waitReady(t, h.ctrl)

	tr := h.transport(0)
	tr.deliver(Envelope{From: 2, To: 1, Content: "one"})
	tr.deliver(Envelope{From: 2, To: 1, Content: "two"})

	select {
	case <-h.ctrl.Updates():
	case <-time.After(time.Second):
		t.Fatal("no update notification after message delivery")
	}
	require.Len(t, h.ctrl.Messages(), 2)
}
