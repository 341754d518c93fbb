package rtclient

import "errors"

var (
	// ErrInvalidSettings: the endpoint options cannot produce a connection.
	ErrInvalidSettings = errors.New("invalid realtime client settings")

	// ErrInvalidMessageType: a frame that is not text, or whose "type" is not a
	// recognized server event.
	ErrInvalidMessageType = errors.New("invalid message type")

	// ErrInvalidJSON: a text frame that does not parse.
	ErrInvalidJSON = errors.New("invalid JSON message")
)
