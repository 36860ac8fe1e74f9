package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"
)

// DefaultVendorScore is used when a provider reply omits its own confidence score.
const DefaultVendorScore = 0.85

// Metadata is the generated ALT text, caption, title and keywords for one subject.
type Metadata struct {
	Alt      string   `json:"alt"`
	Caption  string   `json:"caption"`
	Title    string   `json:"title"`
	Keywords []string `json:"keywords"`
	Score    float64  `json:"score"`
}

// IsEmpty reports whether no field carries content.
func (m *Metadata) IsEmpty() bool {
	return m == nil || (strings.TrimSpace(m.Alt) == "" &&
		strings.TrimSpace(m.Caption) == "" &&
		strings.TrimSpace(m.Title) == "" &&
		len(m.Keywords) == 0)
}

// Value implements the driver.Valuer interface for database serialization.
func (m Metadata) Value() (driver.Value, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = Metadata{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan Metadata")
		}
		bytes = []byte(str)
	}
	if len(bytes) == 0 {
		*m = Metadata{}
		return nil
	}
	return json.Unmarshal(bytes, m)
}

// StateKind tags where a subject's generated metadata lives.
type StateKind string

const (
	StateNone    StateKind = "none"
	StateDraft   StateKind = "draft"
	StateApplied StateKind = "applied"
)

// MetadataState is either a draft awaiting review or metadata applied to the subject.
// Construct it with Draft or Applied; the zero value carries nothing.
type MetadataState struct {
	kind     StateKind
	metadata Metadata
}

// Draft wraps metadata that must be reviewed before it reaches the subject.
func Draft(m Metadata) MetadataState {
	return MetadataState{kind: StateDraft, metadata: m}
}

// Applied wraps metadata written directly onto the subject.
func Applied(m Metadata) MetadataState {
	return MetadataState{kind: StateApplied, metadata: m}
}

// Kind returns the state tag.
func (s MetadataState) Kind() StateKind {
	if s.kind == "" {
		return StateNone
	}
	return s.kind
}

// Metadata returns the wrapped metadata.
func (s MetadataState) Metadata() Metadata {
	return s.metadata
}

// StateOf reconstructs the metadata state stored on a subject.
func StateOf(subject *Subject) MetadataState {
	switch subject.State {
	case StateDraft:
		if subject.Draft != nil {
			return Draft(*subject.Draft)
		}
	case StateApplied:
		return Applied(Metadata{
			Alt:      subject.Alt,
			Caption:  subject.Caption,
			Title:    subject.Title,
			Keywords: subject.Keywords,
		})
	}
	return MetadataState{}
}
