package rtclient

import (
	"encoding/json"
	"fmt"

	"rtbridge/cmd/internal/socket"
	v1 "rtbridge/contracts/realtime/v1"
)

// Validate accepts only text frames carrying a JSON object whose "type" is
// one of the recognized server events. Unknown future types are rejected.
func Validate(f socket.Frame) (v1.ServerMessage, error) {
	if !f.IsText() {
		return v1.ServerMessage{}, ErrInvalidMessageType
	}

	var m v1.ServerMessage
	if err := json.Unmarshal(f.Data, &m); err != nil {
		return v1.ServerMessage{}, fmt.Errorf("%w: %w", ErrInvalidJSON, err)
	}
	if err := m.Validate(); err != nil {
		return v1.ServerMessage{}, fmt.Errorf("%w: %w", ErrInvalidMessageType, err)
	}
	return m, nil
}

// Serialize encodes a client envelope. Verbs outside the client set are refused.
func Serialize(m v1.ClientMessage) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}
