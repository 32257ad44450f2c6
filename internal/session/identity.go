package session

// Identity supplies the local user's id. Resolution may be asynchronous on
// app start, so the controller treats an unresolved identity as "not ready"
// and refuses to open rather than connecting with a zero id.
type Identity interface {
	// UserID returns the local user id and whether it has resolved
	UserID() (int64, bool)
}

// StaticIdentity is a fixed, already-resolved identity. Used by the CLI
// client and tests.
type StaticIdentity int64

func (s StaticIdentity) UserID() (int64, bool) {
	return int64(s), s > 0
}
