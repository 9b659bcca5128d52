package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"globiagent/internal/agent"
	"globiagent/internal/extractor"
	"globiagent/internal/interactiontype"
	"globiagent/internal/limiter"
	"globiagent/internal/storage"
)

type stubRunner struct {
	events []agent.Event
	err    error
	calls  int
	got    []string
}

func (s *stubRunner) Card() agent.Card {
	return agent.Card{Name: "GloBI (Global Biotic Interactions)", URL: "http://localhost:9999"}
}

func (s *stubRunner) Run(ctx context.Context, request, entrypoint string, sink agent.EventSink) error {
	s.calls++
	s.got = []string{request, entrypoint}
	if entrypoint != agent.EntrypointFindInteractions {
		return fmt.Errorf("%w: %q", agent.ErrUnknownEntrypoint, entrypoint)
	}
	for _, ev := range s.events {
		if err := sink.Publish(ctx, ev); err != nil {
			return err
		}
	}
	return s.err
}

func successEvents() []agent.Event {
	return []agent.Event{
		{Type: agent.EventBegin, Summary: "Searching GloBI"},
		{Type: agent.EventLog, Text: "Found 1 distinct interaction(s) across 1 interaction type(s)"},
		{Type: agent.EventArtifact, Artifact: &agent.Artifact{
			Mimetype:    "application/json",
			Description: `List of taxa that "Naja naja" relates to as "eatenBy" or similar`,
			Content:     []byte(`[{"interaction_type":"eatenBy"}]`),
			Metadata:    map[string]string{"source": "GloBI"},
		}},
	}
}

func newTestRouter(t *testing.T, runner Runner, mutate func(*Options)) http.Handler {
	t.Helper()
	types, err := interactiontype.New([]string{"eats", "eatenBy", "preysOn"})
	require.NoError(t, err)
	opts := Options{Agent: runner, Types: types, Logger: zerolog.Nop()}
	if mutate != nil {
		mutate(&opts)
	}
	return NewRouter(opts)
}

func postRun(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/run", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func readLines(t *testing.T, body string) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		out = append(out, line)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestHealthAndCard(t *testing.T) {
	h := newTestRouter(t, &stubRunner{}, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/agent.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var card agent.Card
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &card))
	assert.Equal(t, "GloBI (Global Biotic Interactions)", card.Name)
}

func TestInteractionTypes(t *testing.T) {
	h := newTestRouter(t, &stubRunner{}, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/interaction-types", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, []string{"eats", "eatenBy", "preysOn"}, got)
}

func TestRunStreamsEvents(t *testing.T) {
	runner := &stubRunner{events: successEvents()}
	h := newTestRouter(t, runner, nil)

	rec := postRun(t, h, `{"request":"What eats Naja naja?"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ndjsonContentType, rec.Header().Get("Content-Type"))
	assert.Equal(t, []string{"What eats Naja naja?", agent.EntrypointFindInteractions}, runner.got)

	lines := readLines(t, rec.Body.String())
	require.Len(t, lines, 3)
	assert.Equal(t, "begin", lines[0]["type"])
	assert.Equal(t, "Searching GloBI", lines[0]["summary"])
	assert.Equal(t, "log", lines[1]["type"])
	assert.Equal(t, "artifact", lines[2]["type"])

	artifact, ok := lines[2]["artifact"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []any{map[string]any{"interaction_type": "eatenBy"}}, artifact["content"],
		"artifact content must be embedded JSON")

	var last agent.Event
	raw := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.NoError(t, json.Unmarshal([]byte(raw[2]), &last))
	require.NotNil(t, last.Artifact)
	assert.JSONEq(t, `[{"interaction_type":"eatenBy"}]`, string(last.Artifact.Content))
}

func TestRunTerminalErrorAfterStreamStarted(t *testing.T) {
	runner := &stubRunner{
		events: successEvents()[:1],
		err:    fmt.Errorf("%w: attempts exhausted", extractor.ErrExtraction),
	}
	h := newTestRouter(t, runner, nil)

	rec := postRun(t, h, `{"request":"???","entrypoint":"find_interactions"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	lines := readLines(t, rec.Body.String())
	require.Len(t, lines, 2)
	assert.Equal(t, "begin", lines[0]["type"])
	assert.Equal(t, "error", lines[1]["type"])
	assert.Contains(t, lines[1]["error"], "failed to generate valid search parameters")
}

func TestRunRejectsBadRequests(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		status int
	}{
		{name: "empty body", body: ``, status: http.StatusBadRequest},
		{name: "blank request", body: `{"request":"   "}`, status: http.StatusBadRequest},
		{name: "unknown field", body: `{"request":"x","params":{}}`, status: http.StatusBadRequest},
		{name: "trailing data", body: `{"request":"x"}{}`, status: http.StatusBadRequest},
		{name: "unknown entrypoint", body: `{"request":"x","entrypoint":"find_occurrences"}`, status: http.StatusBadRequest},
		{name: "too large", body: `{"request":"` + strings.Repeat("a", 2048) + `"}`, status: http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestRouter(t, &stubRunner{events: successEvents()}, func(o *Options) {
				o.MaxRequestBodyBytes = 1024
			})
			rec := postRun(t, h, tc.body)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var resp apiErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error.Message)
		})
	}
}

func TestRunRateLimited(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	now := time.Date(2026, 2, 13, 10, 30, 0, 0, time.UTC)
	runner := &stubRunner{events: successEvents()}
	h := newTestRouter(t, runner, func(o *Options) {
		o.Limiter = limiter.NewRateLimiter(rdb, 1)
		o.Now = func() time.Time { return now }
	})

	rec := postRun(t, h, `{"request":"What eats Naja naja?"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = postRun(t, h, `{"request":"What eats Naja naja?"}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1800", rec.Header().Get("Retry-After"))
	assert.Equal(t, 1, runner.calls)

	var resp apiErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, errorCodeRateLimited, resp.Error.Code)
}

func newLimitedRouter(t *testing.T, runner Runner, trustProxy bool) http.Handler {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return newTestRouter(t, runner, func(o *Options) {
		o.Limiter = limiter.NewRateLimiter(rdb, 1)
		o.TrustProxyHeaders = trustProxy
	})
}

func postRunFrom(h http.Handler, remoteAddr, realIP string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/run", strings.NewReader(`{"request":"What eats Naja naja?"}`))
	req.RemoteAddr = remoteAddr
	req.Header.Set("X-Real-IP", realIP)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRunRateLimitIgnoresForwardedHeaders(t *testing.T) {
	runner := &stubRunner{events: successEvents()}
	h := newLimitedRouter(t, runner, false)

	codes := []int{}
	for _, ip := range []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"} {
		codes = append(codes, postRunFrom(h, "10.0.0.7:41000", ip).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)
	assert.Equal(t, 1, runner.calls)
}

func TestRunRateLimitTrustsForwardedHeadersWhenEnabled(t *testing.T) {
	runner := &stubRunner{events: successEvents()}
	h := newLimitedRouter(t, runner, true)

	assert.Equal(t, http.StatusOK, postRunFrom(h, "10.0.0.1:41000", "1.1.1.1").Code)
	assert.Equal(t, http.StatusOK, postRunFrom(h, "10.0.0.1:41001", "2.2.2.2").Code)
	assert.Equal(t, http.StatusTooManyRequests, postRunFrom(h, "10.0.0.1:41002", "1.1.1.1").Code)
	assert.Equal(t, 2, runner.calls)
}

func TestRunLimiterFailureLetsRequestThrough(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	runner := &stubRunner{events: successEvents()}
	h := newTestRouter(t, runner, func(o *Options) {
		o.Limiter = limiter.NewRateLimiter(rdb, 1)
	})

	rec := postRun(t, h, `{"request":"What eats Naja naja?"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, runner.calls)
}

func TestRunsDisabled(t *testing.T) {
	h := newTestRouter(t, &stubRunner{}, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunsListsAuditLog(t *testing.T) {
	ctx := context.Background()
	store, err := storage.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "runs.db"), true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.RecordRun(ctx, storage.Run{
		Request:         "What eats Naja naja?",
		Entrypoint:      agent.EntrypointFindInteractions,
		SubjectTaxon:    "Naja naja",
		InteractionType: "eatenBy",
		RecordCount:     4,
		Duration:        250 * time.Millisecond,
	})
	require.NoError(t, err)
	_, err = store.RecordRun(ctx, storage.Run{
		Request:    "nonsense",
		Entrypoint: agent.EntrypointFindInteractions,
		Status:     storage.RunStatusFailed,
		Error:      "failed to generate valid search parameters",
	})
	require.NoError(t, err)

	h := newTestRouter(t, &stubRunner{}, func(o *Options) { o.Runs = store })

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs?limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got []runResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "nonsense", got[0].Request)
	assert.Equal(t, storage.RunStatusFailed, got[0].Status)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs?limit=0", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
