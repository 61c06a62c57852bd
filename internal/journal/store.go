package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/zjrosen/dyncomp/internal/log"
	"github.com/zjrosen/dyncomp/internal/orchestration/events"
	"github.com/zjrosen/dyncomp/internal/pubsub"
)

// Store reads and writes the journal.
type Store struct {
	db *sql.DB

	// created counts CreationCompleted events since the last finished build.
	created int
}

// NewStore wraps db, creating the tables when missing.
func NewStore(db *sql.DB) (*Store, error) {
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Open opens the journal at path.
func Open(path string) (*Store, error) {
	db, err := NewDB(path)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record journals one session event. Events that are not session events are
// ignored. Not safe for concurrent use; Attach feeds it from one goroutine.
func (s *Store) Record(ctx context.Context, e any) error {
	ev, ok := e.(events.Event)
	if !ok {
		return nil
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", ev.Kind(), err)
	}

	var instanceID string
	at := time.Now()
	switch v := ev.(type) {
	case events.CreationCompleted:
		instanceID, at = v.ID, v.At
		s.created++
	case events.InstanceRemoved:
		instanceID, at = v.ID, v.At
	case events.InstanceRenamed:
		instanceID, at = v.To, v.At
	case events.SchemaCompleted:
		at = v.At
		if err := s.insertBuild(ctx, buildModel{
			Name:       v.Name,
			Outcome:    string(OutcomeCompleted),
			Created:    v.Created,
			Parameters: encodeParams(v.Parameters),
			FinishedAt: v.At.UnixNano(),
		}); err != nil {
			return err
		}
		s.created = 0
	case events.BuildFailed:
		instanceID, at = v.ID, v.At
		idx := int64(v.Index)
		if err := s.insertBuild(ctx, buildModel{
			Name:        v.Name,
			Outcome:     string(OutcomeFailed),
			Created:     s.created,
			FailedIndex: &idx,
			FailedID:    nullableString(v.ID),
			Error:       nullableString(v.Message),
			FinishedAt:  v.At.UnixNano(),
		}); err != nil {
			return err
		}
		s.created = 0
	}
	if at.IsZero() {
		at = time.Now()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (kind, instance_id, payload, at) VALUES (?, ?, ?, ?)`,
		string(ev.Kind()), instanceID, string(payload), at.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

func (s *Store) insertBuild(ctx context.Context, m buildModel) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO builds (name, outcome, created, parameters, failed_index, failed_id, error, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Name, m.Outcome, m.Created, m.Parameters, m.FailedIndex, m.FailedID, m.Error, m.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert build: %w", err)
	}
	return nil
}

func encodeParams(params []string) *string {
	if len(params) == 0 {
		return nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil
	}
	s := string(data)
	return &s
}

// Attach journals every event published on bus until ctx ends. The returned
// channel closes once the subscription goroutine exits.
func (s *Store) Attach(ctx context.Context, bus *pubsub.Broker[any]) <-chan struct{} {
	return bus.SubscribeFunc(ctx, func(ev pubsub.Event[any]) {
		if err := s.Record(ctx, ev.Payload); err != nil {
			log.ErrorErr(log.CatJournal, "journal write failed", err)
		}
	})
}

// RecentBuilds returns up to limit builds, newest first.
func (s *Store) RecentBuilds(ctx context.Context, limit int) ([]Build, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+buildColumns+` FROM builds ORDER BY finished_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query builds: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Build
	for rows.Next() {
		m, err := scanBuild(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan build: %w", err)
		}
		out = append(out, m.toBuild())
	}
	return out, rows.Err()
}

// EntriesFor returns the events journaled for instanceID, oldest first. An
// empty instanceID returns the latest limit events of every instance.
func (s *Store) EntriesFor(ctx context.Context, instanceID string, limit int) ([]Entry, error) {
	query := `SELECT id, kind, instance_id, payload, at FROM events WHERE instance_id = ? ORDER BY id LIMIT ?`
	args := []any{instanceID, limit}
	if instanceID == "" {
		query = `SELECT id, kind, instance_id, payload, at FROM
			(SELECT * FROM events ORDER BY id DESC LIMIT ?) ORDER BY id`
		args = []any{limit}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			payload string
			at      int64
		)
		if err := rows.Scan(&e.ID, &e.Kind, &e.InstanceID, &payload, &at); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Payload = json.RawMessage(payload)
		e.At = time.Unix(0, at)
		out = append(out, e)
	}
	return out, rows.Err()
}
