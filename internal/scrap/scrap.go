// Package scrap defines the central entity of the credential-breach
// hunting pipeline: an immutable-after-creation description of one
// ingested artifact, plus its JSON wire form.
package scrap

import (
	"encoding/json"
	"time"
)

// State is a scrap's position in its lifecycle state machine.
type State string

const (
	// StateNew is a legacy ingest label read only by the startup reaper.
	StateNew State = "NEW"
	// StateProcessing is the initial state, set by the collector stage.
	StateProcessing State = "PROCESSING"
	// StateProcessed is terminal: chunks indexed (or none were needed).
	StateProcessed State = "PROCESSED"
	// StateNoPatternsFound is terminal: a clean scan.
	StateNoPatternsFound State = "NO_PATTERNS_FOUND"
	// StateDuplicateExists is terminal: the hash was already processed.
	StateDuplicateExists State = "DUPLICATE_EXISTS"
	// StateFailed is terminal: unrecoverable for this attempt.
	StateFailed State = "FAILED"
)

// Terminal reports whether s is a terminal state. No terminal state
// transitions to another terminal state.
func (s State) Terminal() bool {
	switch s {
	case StateProcessed, StateNoPatternsFound, StateDuplicateExists, StateFailed:
		return true
	default:
		return false
	}
}

// Scrap is one ingested artifact with content-identity given by Hash.
// Fields are mutated only through store operations; never deleted in the
// happy path.
type Scrap struct {
	ID             int64      `json:"id,omitempty"`
	Hash           string     `json:"hash,omitempty"`
	Source         string     `json:"source,omitempty"`
	Filename       string     `json:"filename,omitempty"`
	FilePath       string     `json:"file_path,omitempty"`
	State          State      `json:"state"`
	Class          *string    `json:"class,omitempty"`
	Timestamp      *time.Time `json:"timestamp,omitempty"`
	OccurrenceTime *time.Time `json:"occurrence_time,omitempty"`

	// Attachments holds paths to sibling artifacts staged alongside the
	// primary file. Carried through load/store/JSON round-trip only; no
	// processing branch reads it. Restored from the original Python
	// implementation's Scrap.attachments, which the distilled spec dropped.
	Attachments []string `json:"attachments,omitempty"`
}

// wireScrap is the JSON shape of Scrap: ISO-8601 timestamps, omitted
// fields serialised as null rather than absent, matching the scrap JSON
// embedded in bus messages.
type wireScrap struct {
	ID             int64    `json:"id"`
	Hash           *string  `json:"hash"`
	Source         *string  `json:"source"`
	Filename       *string  `json:"filename"`
	FilePath       *string  `json:"file_path"`
	State          State    `json:"state"`
	Class          *string  `json:"class"`
	Timestamp      *string  `json:"timestamp"`
	OccurrenceTime *string  `json:"occurrence_time"`
	Attachments    []string `json:"attachments"`
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func valueOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339Nano)
	return &s
}

func parseTime(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, *s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ToJSON serialises the scrap to the wire form used on the bus and in
// Postgres text columns. Omitted fields marshal as null.
func (s Scrap) ToJSON() ([]byte, error) {
	w := wireScrap{
		ID:             s.ID,
		Hash:           nilIfEmpty(s.Hash),
		Source:         nilIfEmpty(s.Source),
		Filename:       nilIfEmpty(s.Filename),
		FilePath:       nilIfEmpty(s.FilePath),
		State:          s.State,
		Class:          s.Class,
		Timestamp:      formatTime(s.Timestamp),
		OccurrenceTime: formatTime(s.OccurrenceTime),
		Attachments:    s.Attachments,
	}
	return json.Marshal(w)
}

// FromJSON rehydrates a Scrap from its wire form. FromJSON(ToJSON(s)) is
// equal to s modulo null fields.
func FromJSON(data []byte) (Scrap, error) {
	var w wireScrap
	if err := json.Unmarshal(data, &w); err != nil {
		return Scrap{}, err
	}
	ts, err := parseTime(w.Timestamp)
	if err != nil {
		return Scrap{}, err
	}
	ot, err := parseTime(w.OccurrenceTime)
	if err != nil {
		return Scrap{}, err
	}
	return Scrap{
		ID:             w.ID,
		Hash:           valueOrEmpty(w.Hash),
		Source:         valueOrEmpty(w.Source),
		Filename:       valueOrEmpty(w.Filename),
		FilePath:       valueOrEmpty(w.FilePath),
		State:          w.State,
		Class:          w.Class,
		Timestamp:      ts,
		OccurrenceTime: ot,
		Attachments:    w.Attachments,
	}, nil
}

// ElasticChunk is a bounded slice of a scrap's file content, indexed in
// the search tier and back-referenced in Postgres.
type ElasticChunk struct {
	ScrapID     int64  `json:"scrap_id"`
	ChunkNumber int    `json:"chunk_number"`
	Content     string `json:"content"`
	Title       string `json:"title"`
	Hash        string `json:"hash"`
}

// Pattern is a classifier rule: a regular expression paired with the
// class label it assigns on first match.
type Pattern struct {
	Regex string
	Class string
}
