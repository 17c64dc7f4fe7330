package rcon

import (
	"errors"
	"net"
)

// ErrAuth is returned when the server rejects the RCON password.
var ErrAuth = errors.New("rcon: authentication failed")

// ErrClosed is returned by a Conn that has already been closed.
var ErrClosed = errors.New("rcon: connection closed")

// NetworkError wraps a dial, write or read failure. The connection that
// produced it must not be reused.
type NetworkError struct {
	Op   string
	Addr string
	Err  error
}

func (e *NetworkError) Error() string {
	return "rcon: " + e.Op + " " + e.Addr + ": " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was a deadline expiry.
func (e *NetworkError) Timeout() bool {
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// IsNetworkError reports whether err is, or wraps, a *NetworkError.
func IsNetworkError(err error) bool {
	var target *NetworkError
	return errors.As(err, &target)
}
