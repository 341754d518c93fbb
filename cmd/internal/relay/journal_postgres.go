package relay

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresJournal stores events in <schema>.relay_sessions and
// <schema>.relay_events. It does not own the pool.
type PostgresJournal struct {
	pool   *pgxpool.Pool
	schema string
}

type PostgresOption func(*PostgresJournal) error

// WithSchema overrides the default "rtbridge" schema.
func WithSchema(schema string) PostgresOption {
	return func(j *PostgresJournal) error {
		schema = strings.TrimSpace(schema)
		if !pgIdentRE.MatchString(schema) {
			return fmt.Errorf("relay: invalid schema identifier %q", schema)
		}
		j.schema = schema
		return nil
	}
}

func NewPostgresJournal(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresJournal, error) {
	if pool == nil {
		return nil, errors.New("relay: nil pool")
	}
	j := &PostgresJournal{pool: pool, schema: "rtbridge"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(j); err != nil {
			return nil, err
		}
	}
	return j, nil
}

// EnsureSchema creates the schema and tables if they are missing.
func (j *PostgresJournal) EnsureSchema(ctx context.Context) error {
	sessions := j.table("relay_sessions")
	events := j.table("relay_events")

	ddl := fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %s;

CREATE TABLE IF NOT EXISTS %s (
  id         TEXT PRIMARY KEY,
  next_seq   BIGINT NOT NULL DEFAULT 1,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS %s (
  session_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
  seq        BIGINT NOT NULL,
  direction  TEXT NOT NULL CHECK (direction IN ('client', 'server')),
  type       TEXT NOT NULL,
  event_id   TEXT NOT NULL DEFAULT '',
  bytes      INTEGER NOT NULL CHECK (bytes >= 0),
  at         TIMESTAMPTZ NOT NULL,

  PRIMARY KEY (session_id, seq)
);`, pgx.Identifier{j.schema}.Sanitize(), sessions, events, sessions)

	if _, err := j.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("relay: ensure schema: %w", err)
	}
	return nil
}

// Append allocates the next seq from the session row. The upsert takes a row
// lock, so concurrent appends to one session serialize without gaps.
func (j *PostgresJournal) Append(ctx context.Context, e Event) (Event, error) {
	if err := e.validate(); err != nil {
		return Event{}, err
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	tx, err := j.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return Event{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := tx.QueryRow(ctx,
		`INSERT INTO `+j.table("relay_sessions")+` AS s (id, next_seq) VALUES ($1, 2)
		 ON CONFLICT (id) DO UPDATE
		    SET next_seq = s.next_seq + 1,
		        updated_at = now()
		 RETURNING s.next_seq - 1`,
		e.SessionID,
	).Scan(&e.Seq); err != nil {
		return Event{}, fmt.Errorf("allocate seq: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+j.table("relay_events")+` (session_id, seq, direction, type, event_id, bytes, at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.SessionID, e.Seq, string(e.Direction), e.Type, e.EventID, e.Bytes, e.At,
	); err != nil {
		return Event{}, fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Event{}, err
	}
	return e, nil
}

func (j *PostgresJournal) List(ctx context.Context, in ListInput) (ListResult, error) {
	if in.SessionID == "" {
		return ListResult{}, ErrInvalidEvent
	}
	limit := clampLimit(in.Limit)

	rows, err := j.pool.Query(ctx,
		`SELECT session_id, seq, direction, type, event_id, bytes, at
		   FROM `+j.table("relay_events")+`
		  WHERE session_id = $1 AND seq > $2
		  ORDER BY seq ASC
		  LIMIT $3`,
		in.SessionID, in.AfterSeq, limit+1,
	)
	if err != nil {
		return ListResult{}, err
	}

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Event, error) {
		var (
			e   Event
			dir string
		)
		err := row.Scan(&e.SessionID, &e.Seq, &dir, &e.Type, &e.EventID, &e.Bytes, &e.At)
		e.Direction = Direction(dir)
		return e, err
	})
	if err != nil {
		return ListResult{}, err
	}

	res := ListResult{Events: events, HasMore: len(events) > limit}
	if res.HasMore {
		res.Events = events[:limit]
	}
	if res.Events == nil {
		res.Events = []Event{}
	}
	return res, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func (j *PostgresJournal) table(name string) string {
	return pgx.Identifier{j.schema, name}.Sanitize()
}
