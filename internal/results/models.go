package results

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when no record with the requested id exists.
	ErrNotFound = errors.New("result not found")
	// ErrUnsupportedFormat is returned by Export for unknown formats.
	ErrUnsupportedFormat = errors.New("unsupported export format")
)

// Action identifies what produced a record. Values match the on-disk format.
type Action string

const (
	ActionGenerate  Action = "generar"
	ActionCorrect   Action = "corregir"
	ActionSummarize Action = "resumir"
)

// ParseAction accepts both the stored names and their English aliases.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "generar", "generate":
		return ActionGenerate, nil
	case "corregir", "correct":
		return ActionCorrect, nil
	case "resumir", "summarize", "summarise":
		return ActionSummarize, nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// Status is the feedback state of a record.
type Status int

const (
	StatusNone Status = iota
	StatusPending
	StatusApproved
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusApproved:
		return "approved"
	case StatusRejected:
		return "rejected"
	default:
		return "none"
	}
}

// Feedback is the user's reaction to a record. Approved is nil until the
// user decides.
type Feedback struct {
	Approved *bool  `json:"aprobado,omitempty"`
	Comment  string `json:"comentario,omitempty"`
	Date     string `json:"fecha,omitempty"`
}

// Status reports the tri-state of f, plus StatusNone for empty feedback.
func (f Feedback) Status() Status {
	switch {
	case f.Approved != nil && *f.Approved:
		return StatusApproved
	case f.Approved != nil:
		return StatusRejected
	case f.Comment != "" || f.Date != "":
		return StatusPending
	default:
		return StatusNone
	}
}

// Record is one stored action result.
type Record struct {
	ID       string         `json:"id"`
	Action   Action         `json:"accion"`
	Topic    string         `json:"tema"`
	Output   string         `json:"resultado"`
	Words    int            `json:"palabras"`
	Model    string         `json:"modelo"`
	Config   map[string]any `json:"config"`
	Feedback Feedback       `json:"feedback"`
}

// Stats summarizes feedback over a month.
type Stats struct {
	Total        int     `json:"total"`
	Approved     int     `json:"aprobados"`
	Rejected     int     `json:"rechazados"`
	NoFeedback   int     `json:"sin_feedback"`
	ApprovalRate float64 `json:"tasa_aprobacion"`
}

// monthFile is the on-disk document for one month of one collection.
type monthFile struct {
	Month   string   `json:"mes"`
	Records []Record `json:"datos"`
}

type collection int

const (
	active collection = iota
	rejected
)

func (c collection) String() string {
	if c == rejected {
		return "rechazados"
	}
	return "resultados"
}
