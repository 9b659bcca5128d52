package agent

import (
	"context"
	"encoding/json"
)

type EventType string

const (
	EventBegin    EventType = "begin"
	EventLog      EventType = "log"
	EventArtifact EventType = "artifact"
)

// Event is one progress notification of a run. Exactly one of Summary, Text
// or Artifact is meaningful, depending on Type.
type Event struct {
	Type     EventType      `json:"type"`
	Summary  string         `json:"summary,omitempty"`
	Text     string         `json:"text,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Artifact *Artifact      `json:"artifact,omitempty"`
}

// Artifact content is a JSON document and is embedded as-is when the event
// is serialized.
type Artifact struct {
	Mimetype    string            `json:"mimetype"`
	Description string            `json:"description"`
	Content     json.RawMessage   `json:"content"`
	Metadata    map[string]string `json:"metadata"`
}

// EventSink receives the events of a run in order. A Publish error aborts
// the run.
type EventSink interface {
	Publish(ctx context.Context, event Event) error
}

type SinkFunc func(ctx context.Context, event Event) error

func (f SinkFunc) Publish(ctx context.Context, event Event) error {
	return f(ctx, event)
}
