package socket

import "errors"

// Error kinds. Every error a Bridge returns wraps exactly one of these,
// with the underlying cause wrapped alongside it.
var (
	// ErrConnect: the transport never reached Open (prepare, dial, TLS, handshake).
	ErrConnect = errors.New("socket: connect failed")
	// ErrProtocolViolation: an inbound frame was rejected by the Validator.
	ErrProtocolViolation = errors.New("socket: protocol violation")
	// ErrTransport: the transport failed after Open.
	ErrTransport = errors.New("socket: transport error")
	// ErrSend: a single Send could not serialize or write its frame.
	ErrSend = errors.New("socket: send failed")
	// ErrClosed: Send was called after the stream ended.
	ErrClosed = errors.New("socket: closed")
)
