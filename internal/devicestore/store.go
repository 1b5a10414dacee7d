package devicestore

import "context"

// MaxVerifyAttempts bounds user-code verification attempts per session per
// RFC 8628 section 5.2
const MaxVerifyAttempts = 50

// Store defines the interface for session storage. Implementations return
// (nil, nil) for sessions that do not exist; errors are reserved for backend
// failures.
type Store interface {
	// SaveSession stores a session, indexed by both device code and
	// normalized user code
	SaveSession(ctx context.Context, sess *Session) error

	// GetSession retrieves a session by device code
	GetSession(ctx context.Context, deviceCode string) (*Session, error)

	// GetSessionByUserCode retrieves a session by user code
	GetSessionByUserCode(ctx context.Context, userCode string) (*Session, error)

	// DeleteSession removes a session and its user-code index
	DeleteSession(ctx context.Context, deviceCode string) error

	// IncrementVerifyAttempts counts one verification attempt against a
	// session and returns the running total
	IncrementVerifyAttempts(ctx context.Context, deviceCode string) (int, error)

	// CheckHealth verifies the storage backend is reachable
	CheckHealth(ctx context.Context) error
}
