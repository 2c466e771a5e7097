package session

// Session is the server-side record behind a refresh token. The refresh
// secret itself is never stored; only its SHA-256 hash is kept so a
// presented token can be checked and rotated atomically.
//
// Session instances are treated as immutable once persisted; rotation
// replaces the stored record rather than mutating a shared copy.
type Session struct {
	SessionID string
	UserID    string
	DeviceID  string

	RefreshHash   [32]byte
	IPHash        [32]byte
	UserAgentHash [32]byte

	CreatedAt int64
	ExpiresAt int64
}
