package storage

import "time"

const (
	RunStatusOK     = "ok"
	RunStatusFailed = "failed"
)

// Run is the audit trail of one agent invocation. It is written after the
// fact and never consulted to answer a request.
type Run struct {
	ID                   int64
	Request              string
	Entrypoint           string
	SubjectTaxon         string
	InteractionType      string
	QueryURL             string
	UpstreamStatus       int
	RecordCount          int
	InteractionTypeCount int
	Status               string
	Error                string
	Duration             time.Duration
	CreatedAt            time.Time
}
