package journal

import (
	"time"

	"github.com/goccy/go-json"
)

// BuildOutcome is the final state of a journaled build.
type BuildOutcome string

const (
	OutcomeCompleted BuildOutcome = "completed"
	OutcomeFailed    BuildOutcome = "failed"
)

// Build is one finished create or build.
type Build struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Outcome     BuildOutcome `json:"outcome"`
	Created     int          `json:"created"`
	Parameters  []string     `json:"parameters,omitempty"`
	FailedIndex *int         `json:"failed_index,omitempty"`
	FailedID    string       `json:"failed_id,omitempty"`
	Error       string       `json:"error,omitempty"`
	FinishedAt  time.Time    `json:"finished_at"`
}

// Entry is one journaled event. Payload holds the event as JSON.
type Entry struct {
	ID         int64           `json:"id"`
	Kind       string          `json:"kind"`
	InstanceID string          `json:"instance_id,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	At         time.Time       `json:"at"`
}

// buildModel is the row layout of the builds table. Times are Unix nanos.
type buildModel struct {
	ID          int64
	Name        string
	Outcome     string
	Created     int
	Parameters  *string // nullable, JSON encoded
	FailedIndex *int64  // nullable
	FailedID    *string // nullable
	Error       *string // nullable
	FinishedAt  int64
}

const buildColumns = `id, name, outcome, created, parameters, failed_index, failed_id, error, finished_at`

func scanBuild(scanner interface{ Scan(...any) error }) (*buildModel, error) {
	var m buildModel
	err := scanner.Scan(&m.ID, &m.Name, &m.Outcome, &m.Created, &m.Parameters,
		&m.FailedIndex, &m.FailedID, &m.Error, &m.FinishedAt)
	return &m, err
}

func (m *buildModel) toBuild() Build {
	b := Build{
		ID:         m.ID,
		Name:       m.Name,
		Outcome:    BuildOutcome(m.Outcome),
		Created:    m.Created,
		FinishedAt: time.Unix(0, m.FinishedAt),
	}
	if m.Parameters != nil {
		_ = json.Unmarshal([]byte(*m.Parameters), &b.Parameters)
	}
	if m.FailedIndex != nil {
		idx := int(*m.FailedIndex)
		b.FailedIndex = &idx
	}
	if m.FailedID != nil {
		b.FailedID = *m.FailedID
	}
	if m.Error != nil {
		b.Error = *m.Error
	}
	return b
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
