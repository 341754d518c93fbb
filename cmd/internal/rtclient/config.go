package rtclient

import v1 "rtbridge/contracts/realtime/v1"

// SessionOptions are the knobs a user typically sets when starting a session.
type SessionOptions struct {
	Instructions string
	Voice        string
	// Temperature is ignored when nil.
	Temperature *float64
}

// SessionConfig returns a session.update body with server-side VAD and
// whisper-1 input transcription, plus whichever options are set.
func SessionConfig(o SessionOptions) v1.SessionConfig {
	cfg := v1.SessionConfig{
		TurnDetection:           &v1.TurnDetection{Type: v1.TurnDetectionServerVAD},
		InputAudioTranscription: &v1.InputAudioTranscription{Model: v1.TranscriptionWhisper1},
	}
	if o.Instructions != "" {
		cfg.Instructions = o.Instructions
	}
	if o.Voice != "" {
		cfg.Voice = o.Voice
	}
	if o.Temperature != nil {
		t := *o.Temperature
		cfg.Temperature = &t
	}
	return cfg
}
