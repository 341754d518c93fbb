package rtclient

import (
	"errors"
	"strings"
	"testing"

	"rtbridge/cmd/internal/socket"
	v1 "rtbridge/contracts/realtime/v1"

	"github.com/coder/websocket"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		frame   socket.Frame
		wantErr error
		want    string
	}{
		{
			name:  "session created",
			frame: socket.Frame{Type: websocket.MessageText, Data: []byte(`{"type":"session.created","session":{}}`)},
			want:  v1.TypeSessionCreated,
		},
		{
			name:    "binary frame",
			frame:   socket.Frame{Type: websocket.MessageBinary, Data: []byte(`{"type":"session.created"}`)},
			wantErr: ErrInvalidMessageType,
		},
		{
			name:    "not json",
			frame:   socket.Frame{Type: websocket.MessageText, Data: []byte(`{"type":`)},
			wantErr: ErrInvalidJSON,
		},
		{
			name:    "unknown type",
			frame:   socket.Frame{Type: websocket.MessageText, Data: []byte(`{"type":"not_a_real_type"}`)},
			wantErr: ErrInvalidMessageType,
		},
		{
			name:    "missing type",
			frame:   socket.Frame{Type: websocket.MessageText, Data: []byte(`{"delta":"x"}`)},
			wantErr: ErrInvalidMessageType,
		},
		{
			name:    "client verb echoed back",
			frame:   socket.Frame{Type: websocket.MessageText, Data: []byte(`{"type":"session.update"}`)},
			wantErr: ErrInvalidMessageType,
		},
	}

	for _, tc := range cases {
		m, err := Validate(tc.frame)
		if tc.wantErr != nil {
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("%s: err=%v want=%v", tc.name, err, tc.wantErr)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected err: %v", tc.name, err)
		}
		if m.Type != tc.want {
			t.Fatalf("%s: type=%q want=%q", tc.name, m.Type, tc.want)
		}
	}
}

func TestValidate_KeepsOpaqueFields(t *testing.T) {
	t.Parallel()

	raw := `{"type":"response.audio.delta","delta":"AAEC","item_id":"i1"}`
	m, err := Validate(socket.Frame{Type: websocket.MessageText, Data: []byte(raw)})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if string(m.Raw) != raw {
		t.Fatalf("raw=%s", m.Raw)
	}
}

func TestSerialize(t *testing.T) {
	t.Parallel()

	m := v1.MustClientMessage(v1.InputAudioBufferCommit{}, "evt_1")
	b, err := Serialize(m)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	s := string(b)
	if !strings.Contains(s, `"type":"input_audio_buffer.commit"`) || !strings.Contains(s, `"event_id":"evt_1"`) {
		t.Fatalf("serialized=%s", s)
	}

	if _, err := Serialize(v1.ClientMessage{Type: "session.created"}); !errors.Is(err, v1.ErrUnknownType) {
		t.Fatalf("server event serialized as client verb: err=%v", err)
	}
	if _, err := Serialize(v1.ClientMessage{}); !errors.Is(err, v1.ErrMissingType) {
		t.Fatalf("empty envelope: err=%v", err)
	}
}
