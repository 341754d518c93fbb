// Package relay terminates browser WebSockets and forwards each one to its own
// upstream realtime session, so provider credentials never leave the server.
//
// Every browser connection gets a ULID session id, one rtclient.Client, and a
// journal of the frames that crossed the relay in either direction.
package relay
