package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

var (
	// ErrMalformedMessage indicates a complete frame whose body did not decode.
	// The stream is still in sync, so the session may continue.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrConnectionClosed indicates use of a Conn after it was closed locally
	ErrConnectionClosed = errors.New("connection closed")
	// ErrPeerKeyMismatch indicates the server's static key differs from the pinned one
	ErrPeerKeyMismatch = errors.New("peer static key does not match pinned key")
)

// ConnError is a failure of the underlying connection. Any ConnError is fatal
// to the session that observed it.
type ConnError struct {
	Op   string // operation that caused the error
	Addr string // remote address if known
	Err  error  // underlying error
}

func (e *ConnError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("rfm %s %s: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("rfm %s: %v", e.Op, e.Err)
}

func (e *ConnError) Unwrap() error {
	return e.Err
}

func newConnError(op, addr string, err error) *ConnError {
	return &ConnError{Op: op, Addr: addr, Err: err}
}

// IsFatal reports whether err came from the connection itself, meaning the
// session can no longer exchange messages.
func IsFatal(err error) bool {
	var ce *ConnError
	return errors.As(err, &ce)
}

// IsClosed reports whether err signals an orderly or abrupt peer close rather
// than a local failure.
func IsClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, ErrConnectionClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
