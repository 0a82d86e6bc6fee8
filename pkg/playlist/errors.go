package playlist

import (
	"errors"
	"fmt"
)

// Parse failures. They are returned wrapped in a *ParseError.
var (
	ErrMissingHeader    = errors.New("playlist: missing #EXTM3U signature")
	ErrInvalidIV        = errors.New("playlist: IV must be 0x followed by 32 hex digits")
	ErrMissingKeyURI    = errors.New("playlist: AES-128 key without URI")
	ErrInvalidAttribute = errors.New("playlist: invalid attribute value")
)

// ParseError reports the line a parse failure occurred on.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line <= 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func parseErrorf(line int, sentinel error, format string, args ...any) error {
	return &ParseError{Line: line, Err: fmt.Errorf("%w: "+format, append([]any{sentinel}, args...)...)}
}
