package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// UsageEntry is one provider invocation. ResultID is empty when the
// invocation failed and nothing was saved.
type UsageEntry struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	ResultID   string    `json:"result_id,omitempty"`
	Action     string    `json:"action"`
	Provider   string    `json:"provider"`
	Model      string    `json:"model"`
	TokensUsed int       `json:"tokens_used"`
	Cost       float64   `json:"cost"`
	Failed     bool      `json:"failed"`
	Error      string    `json:"error,omitempty"`
}

// UsageSummary aggregates the entries of one provider/model pair.
type UsageSummary struct {
	Provider string  `json:"provider"`
	Model    string  `json:"model"`
	Calls    int     `json:"calls"`
	Failures int     `json:"failures"`
	Tokens   int     `json:"tokens"`
	Cost     float64 `json:"cost"`
}
