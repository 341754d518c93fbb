// Package socket turns one full-duplex WebSocket into an ordered, pull-based
// stream of validated messages.
//
// A Bridge connects in the background, hands every inbound frame to a
// caller-supplied Validator, and delivers accepted messages through Next (or
// the Messages iterator) in arrival order. Outbound messages go through a
// caller-supplied Serializer and are written as text frames by Send.
//
// Lifecycle: Connecting -> Open -> Closing -> Closed. A failed connect goes
// straight to Closed with an ErrConnect terminal error. The first error a
// Bridge records is sticky; pulls return it until the transport closes, and
// io.EOF after that.
//
// The Bridge never retries and imposes no timeouts of its own: every blocking
// call takes a context.
package socket
