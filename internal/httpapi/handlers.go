package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/httplog"

	"globiagent/internal/agent"
	"globiagent/internal/storage"
)

const ndjsonContentType = "application/x-ndjson"

type runRequest struct {
	Request    string `json:"request"`
	Entrypoint string `json:"entrypoint"`
}

// streamError is the terminal line of a run stream that ended without an
// artifact.
type streamError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type runResponse struct {
	ID                   int64     `json:"id"`
	Request              string    `json:"request"`
	Entrypoint           string    `json:"entrypoint"`
	SubjectTaxon         string    `json:"subject_taxon,omitempty"`
	InteractionType      string    `json:"interaction_type,omitempty"`
	QueryURL             string    `json:"query_url,omitempty"`
	UpstreamStatus       int       `json:"upstream_status,omitempty"`
	RecordCount          int       `json:"record_count"`
	InteractionTypeCount int       `json:"interaction_type_count"`
	Status               string    `json:"status"`
	Error                string    `json:"error,omitempty"`
	DurationMS           int64     `json:"duration_ms"`
	CreatedAt            time.Time `json:"created_at"`
}

func (h *handlers) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *handlers) handleCard(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.agent.Card())
}

func (h *handlers) handleInteractionTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.types.Values())
}

func (h *handlers) handleRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeError(w, http.StatusNotFound, errorCodeUnavailable, "run audit log is disabled")
		return
	}

	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxRunsLimit {
			writeMappedError(w, invalidRequestError("limit must be between 1 and "+strconv.Itoa(maxRunsLimit)))
			return
		}
		limit = n
	}

	runs, err := h.runs.ListRuns(r.Context(), limit)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	out := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunResponse(run))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleRun streams the run as newline-delimited JSON events. Errors raised
// before the first event map to a plain HTTP error; later ones end the stream
// with a single error line.
func (h *handlers) handleRun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	var req runRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeMappedError(w, err)
		return
	}
	req.Request = strings.TrimSpace(req.Request)
	if req.Request == "" {
		writeMappedError(w, invalidRequestError("request is required"))
		return
	}
	if req.Entrypoint == "" {
		req.Entrypoint = agent.EntrypointFindInteractions
	}

	sink := newStreamSink(w)
	err := h.agent.Run(r.Context(), req.Request, req.Entrypoint, sink)
	if err == nil {
		return
	}
	if !sink.started {
		writeMappedError(w, err)
		return
	}
	l := httplog.LogEntry(r.Context())
	l.Warn().Err(err).Msg("run ended with error")
	_ = sink.encode(streamError{Type: "error", Error: err.Error()})
}

type streamSink struct {
	w       http.ResponseWriter
	enc     *json.Encoder
	flusher http.Flusher
	started bool
}

func newStreamSink(w http.ResponseWriter) *streamSink {
	flusher, _ := w.(http.Flusher)
	return &streamSink{w: w, enc: json.NewEncoder(w), flusher: flusher}
}

func (s *streamSink) Publish(_ context.Context, ev agent.Event) error {
	return s.encode(ev)
}

func (s *streamSink) encode(v any) error {
	if !s.started {
		s.w.Header().Set("Content-Type", ndjsonContentType)
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	if err := s.enc.Encode(v); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

func toRunResponse(run storage.Run) runResponse {
	return runResponse{
		ID:                   run.ID,
		Request:              run.Request,
		Entrypoint:           run.Entrypoint,
		SubjectTaxon:         run.SubjectTaxon,
		InteractionType:      run.InteractionType,
		QueryURL:             run.QueryURL,
		UpstreamStatus:       run.UpstreamStatus,
		RecordCount:          run.RecordCount,
		InteractionTypeCount: run.InteractionTypeCount,
		Status:               run.Status,
		Error:                run.Error,
		DurationMS:           run.Duration.Milliseconds(),
		CreatedAt:            run.CreatedAt,
	}
}
