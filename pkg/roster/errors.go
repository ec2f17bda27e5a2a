package roster

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrHeaderNotFound is returned when no header row is found in the scan window
	ErrHeaderNotFound = errors.New("roster header not found")

	// ErrNoValidRows is returned when a header was found but no row carried a valid ID
	ErrNoValidRows = errors.New("roster has no valid rows")

	// ErrDecodeFailure is reported when neither UTF-8 nor the legacy encoding
	// produced clean text. It is a diagnostic, never fatal on its own.
	ErrDecodeFailure = errors.New("roster decode failure")
)

// ParseError describes a rejected upload. Preview holds the first lines of the
// decoded text so that an operator can see what was actually received.
type ParseError struct {
	Err     error
	Preview []string
}

func (e *ParseError) Error() string {
	if len(e.Preview) == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v; first lines: %s", e.Err, strings.Join(e.Preview, " | "))
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
