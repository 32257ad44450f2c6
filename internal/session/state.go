package session

// ChannelState names the live transport's connection states explicitly, in
// place of ad hoc open/error callback flags.
type ChannelState int

const (
	ChannelIdle ChannelState = iota
	ChannelConnecting
	ChannelOpen
	ChannelClosed
	ChannelError
)

func (s ChannelState) String() string {
	switch s {
	case ChannelIdle:
		return "idle"
	case ChannelConnecting:
		return "connecting"
	case ChannelOpen:
		return "open"
	case ChannelClosed:
		return "closed"
	case ChannelError:
		return "error"
	default:
		return "unknown"
	}
}

// channelTransitions lists the permitted state changes. Close is reachable
// from every state so teardown is always safe.
var channelTransitions = map[ChannelState][]ChannelState{
	ChannelIdle:       {ChannelConnecting, ChannelClosed},
	ChannelConnecting: {ChannelOpen, ChannelError, ChannelClosed},
	ChannelOpen:       {ChannelClosed, ChannelError},
	ChannelError:      {ChannelClosed},
	ChannelClosed:     {ChannelClosed},
}

// canTransition reports whether moving from s to next is permitted
func (s ChannelState) canTransition(next ChannelState) bool {
	for _, allowed := range channelTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// SessionState is the conversation session lifecycle.
type SessionState int

const (
	SessionClosed SessionState = iota
	SessionOpening
	SessionOpen
	SessionClosing
)

func (s SessionState) String() string {
	switch s {
	case SessionClosed:
		return "closed"
	case SessionOpening:
		return "opening"
	case SessionOpen:
		return "open"
	case SessionClosing:
		return "closing"
	default:
		return "unknown"
	}
}
