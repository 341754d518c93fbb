package relay

import (
	"context"
	"sort"
	"sync"
	"time"
)

const (
	memMaxEventsPerSession = 10_000
	memMaxSessions         = 1_000
)

// MemoryJournal keeps recent sessions in process. Oldest sessions are evicted
// first once memMaxSessions is reached.
type MemoryJournal struct {
	mu       sync.Mutex
	sessions map[string]*memSession
	order    []string
}

type memSession struct {
	seq    int64
	events []Event
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{sessions: make(map[string]*memSession)}
}

func (j *MemoryJournal) Append(ctx context.Context, e Event) (Event, error) {
	if err := e.validate(); err != nil {
		return Event{}, err
	}
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	s := j.sessions[e.SessionID]
	if s == nil {
		if len(j.order) >= memMaxSessions {
			delete(j.sessions, j.order[0])
			j.order = j.order[1:]
		}
		s = &memSession{}
		j.sessions[e.SessionID] = s
		j.order = append(j.order, e.SessionID)
	}

	s.seq++
	e.Seq = s.seq
	s.events = append(s.events, e)
	if len(s.events) > memMaxEventsPerSession {
		s.events = s.events[len(s.events)-memMaxEventsPerSession:]
	}
	return e, nil
}

func (j *MemoryJournal) List(ctx context.Context, in ListInput) (ListResult, error) {
	if in.SessionID == "" {
		return ListResult{}, ErrInvalidEvent
	}
	if err := ctx.Err(); err != nil {
		return ListResult{}, err
	}
	limit := clampLimit(in.Limit)

	j.mu.Lock()
	defer j.mu.Unlock()

	s := j.sessions[in.SessionID]
	if s == nil {
		return ListResult{Events: []Event{}}, nil
	}
	start := sort.Search(len(s.events), func(i int) bool { return s.events[i].Seq > in.AfterSeq })
	end := min(start+limit, len(s.events))

	out := make([]Event, end-start)
	copy(out, s.events[start:end])
	return ListResult{Events: out, HasMore: end < len(s.events)}, nil
}
