package swimring

import (
	"errors"

	"github.com/swimring/swimring/internal/protoerr"
)

// Lifecycle and configuration errors, declared once so callers can use
// errors.Is.
var (
	ErrAlreadyReady          = errors.New("swimring: already ready")
	ErrNoBootstrapHosts      = errors.New("swimring: no bootstrap hosts configured")
	ErrDestroyed             = errors.New("swimring: node is destroyed")
	ErrDestroyedWhilePinging = errors.New("swimring: destroyed whilst pinging")
	ErrNotReady              = errors.New("swimring: not ready")
	ErrNoHandler             = errors.New("swimring: no forward handler registered")
)

// ProtocolErrorType and ProtocolError are aliases of the shared
// protoerr types, re-exported so callers of the facade don't need a
// second import for the common case.
type (
	ProtocolErrorType = protoerr.Type
	ProtocolError     = protoerr.Error
)

const (
	InvalidJoinSource       = protoerr.InvalidJoinSource
	InvalidJoinApp          = protoerr.InvalidJoinApp
	InvalidLeaveLocalMember = protoerr.InvalidLeaveLocalMember
	RedundantLeave          = protoerr.RedundantLeave
)
