package validation

import (
	"errors"
	"strconv"
	"strings"
)

// ErrRequired is returned when a required parameter is absent or empty.
var ErrRequired = errors.New("required parameter missing")

// ErrNotInteger is returned when a parameter cannot be read as a base-10 integer.
var ErrNotInteger = errors.New("not an integer")

// ErrInvalidStationID is returned for station ids that could escape the chart directory.
var ErrInvalidStationID = errors.New("invalid station id")

// Present reports whether every value is non-empty. Values are not trimmed:
// a whitespace-only station id is passed through to the lookup as-is.
func Present(values ...string) bool {
	for _, v := range values {
		if v == "" {
			return false
		}
	}
	return true
}

// NonBlank trims each value and reports whether all of them are non-empty
// afterwards. The trimmed values are returned in order.
func NonBlank(values ...string) ([]string, bool) {
	out := make([]string, len(values))
	ok := true
	for i, v := range values {
		out[i] = strings.TrimSpace(v)
		if out[i] == "" {
			ok = false
		}
	}
	return out, ok
}

// ParseInt reads s as a base-10 integer. Surrounding whitespace and a leading
// sign are accepted; an empty string yields ErrRequired.
func ParseInt(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrRequired
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, ErrNotInteger
	}
	return n, nil
}

// StationID checks an id that will be embedded in a file name. Empty ids yield
// ErrRequired; ids containing a path separator, a parent reference or NUL
// yield ErrInvalidStationID.
func StationID(id string) error {
	if id == "" {
		return ErrRequired
	}
	if strings.ContainsAny(id, "/\\\x00") || strings.Contains(id, "..") {
		return ErrInvalidStationID
	}
	return nil
}

// Error is a parameter failure with a client-facing message. It unwraps to
// the sentinel that caused it.
type Error struct {
	Msg string
	Err error
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error { return e.Err }

// Invalid wraps cause with msg.
func Invalid(cause error, msg string) error {
	return &Error{Msg: msg, Err: cause}
}
