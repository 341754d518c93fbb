package relay

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Direction says which peer produced a journaled frame.
type Direction string

const (
	FromClient Direction = "client"
	FromServer Direction = "server"
)

var ErrInvalidEvent = errors.New("invalid journal event")

// Event is one frame that crossed the relay. Payloads are not kept.
type Event struct {
	SessionID string    `json:"session_id"`
	Seq       int64     `json:"seq"`
	Direction Direction `json:"direction"`
	Type      string    `json:"type"`
	EventID   string    `json:"event_id,omitempty"`
	Bytes     int       `json:"bytes"`
	At        time.Time `json:"at"`
}

func (e Event) validate() error {
	switch {
	case e.SessionID == "":
		return fmt.Errorf("%w: missing session_id", ErrInvalidEvent)
	case e.Direction != FromClient && e.Direction != FromServer:
		return fmt.Errorf("%w: direction %q", ErrInvalidEvent, e.Direction)
	case e.Type == "":
		return fmt.Errorf("%w: missing type", ErrInvalidEvent)
	}
	return nil
}

// ListInput pages a session's events by seq.
type ListInput struct {
	SessionID string
	AfterSeq  int64
	Limit     int
}

type ListResult struct {
	Events  []Event `json:"events"`
	HasMore bool    `json:"has_more"`
}

// Journal records relayed frames per session.
//
// Append assigns Seq: gap-free and strictly increasing per session, starting at 1.
// List returns events with Seq > AfterSeq in ascending order.
type Journal interface {
	Append(ctx context.Context, e Event) (Event, error)
	List(ctx context.Context, in ListInput) (ListResult, error)
}

func clampLimit(n int) int {
	if n <= 0 {
		return defaultEventsLimit
	}
	return min(n, maxEventsLimit)
}
