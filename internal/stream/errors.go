package stream

import (
	"errors"
	"fmt"
)

// Session errors.
var (
	ErrSinkRejected      = errors.New("sink rejected data")
	ErrUnsupportedKind   = errors.New("unsupported stream kind")
	ErrNotInitialized    = errors.New("session not initialized")
	ErrAlreadyStarted    = errors.New("session already started")
	ErrSessionStopped    = errors.New("session stopped")
	ErrFetchTimeout      = errors.New("fetch timed out")
	ErrInvalidKeyLength  = errors.New("key payload must be 16 bytes")
	ErrEmptyMasterLadder = errors.New("master playlist has no variants")
)

// Fetch operations, used in TransportError.Op.
const (
	OpManifest = "manifest"
	OpKey      = "key"
	OpSegment  = "segment"
)

// TransportError is a failed manifest, key or segment fetch. It is fatal to
// the session.
type TransportError struct {
	Op  string
	URI string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s fetch %s: %v", e.Op, e.URI, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// CryptoError is a failed key setup for a segment.
type CryptoError struct {
	KeyURI string
	Err    error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("crypto setup for key %s: %v", e.KeyURI, e.Err)
}

func (e *CryptoError) Unwrap() error {
	return e.Err
}
