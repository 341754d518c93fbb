package main

import (
	"fmt"
	"io"

	v1 "rtbridge/contracts/realtime/v1"
)

// printer renders server events as a terminal transcript.
type printer struct {
	out     io.Writer
	verbose bool

	// true while a streamed reply line is open
	midLine bool
}

func (p *printer) print(m v1.ServerMessage) error {
	if p.verbose {
		p.endLine()
		fmt.Fprintf(p.out, "· %s\n", m.Type)
	}

	switch m.Type {
	case v1.TypeSessionCreated, v1.TypeSessionUpdated:
		var ev v1.SessionEvent
		if err := m.Decode(&ev); err != nil {
			return fmt.Errorf("%s: %w", m.Type, err)
		}
		if m.Type == v1.TypeSessionCreated {
			fmt.Fprintf(p.out, "session %s\n", ev.Session.ID)
		}

	case v1.TypeResponseTextDelta, v1.TypeResponseAudioTranscriptDelta:
		var ev v1.DeltaEvent
		if err := m.Decode(&ev); err != nil {
			return fmt.Errorf("%s: %w", m.Type, err)
		}
		if !p.midLine {
			fmt.Fprint(p.out, "assistant: ")
			p.midLine = true
		}
		fmt.Fprint(p.out, ev.Delta)

	case v1.TypeResponseTextDone, v1.TypeResponseAudioTranscriptDone:
		p.endLine()

	case v1.TypeItemInputAudioTranscriptionDone:
		var ev v1.TranscriptionCompletedEvent
		if err := m.Decode(&ev); err != nil {
			return fmt.Errorf("%s: %w", m.Type, err)
		}
		p.endLine()
		fmt.Fprintf(p.out, "you: %s\n", ev.Transcript)

	case v1.TypeResponseDone:
		var ev v1.ResponseEvent
		if err := m.Decode(&ev); err != nil {
			return fmt.Errorf("%s: %w", m.Type, err)
		}
		p.endLine()
		if u := ev.Response.Usage; u != nil {
			fmt.Fprintf(p.out, "[%s, %d tokens in, %d out]\n", ev.Response.Status, u.InputTokens, u.OutputTokens)
		}

	case v1.TypeError:
		var ev v1.ErrorEvent
		if err := m.Decode(&ev); err != nil {
			return fmt.Errorf("%s: %w", m.Type, err)
		}
		p.endLine()
		fmt.Fprintf(p.out, "error %s: %s\n", errorLabel(ev.Error), ev.Error.Message)
	}
	return nil
}

func (p *printer) endLine() {
	if p.midLine {
		fmt.Fprintln(p.out)
		p.midLine = false
	}
}

func errorLabel(e v1.RealtimeError) string {
	if e.Code != "" {
		return e.Type + "/" + e.Code
	}
	return e.Type
}
