// Package agent runs the find-interactions flow: extract search parameters,
// query GloBI once, convert the CSV answer and emit a single JSON artifact.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"globiagent/internal/globi"
	"globiagent/internal/metrics"
	"globiagent/internal/records"
	"globiagent/internal/storage"
)

const (
	ProcessSummary = "Searching GloBI"

	ArtifactMimetype = "application/json"

	MetadataDerivedFrom = "derived_from"
	MetadataSource      = "source"
)

var ErrUnknownEntrypoint = errors.New("unknown entrypoint")

type ParameterExtractor interface {
	Extract(ctx context.Context, request string) (globi.SearchParameters, error)
}

type InteractionsFetcher interface {
	QueryURL(p globi.SearchParameters) string
	FetchInteractions(ctx context.Context, p globi.SearchParameters) (globi.FetchResult, error)
}

type RunRecorder interface {
	RecordRun(ctx context.Context, r storage.Run) (int64, error)
}

type Config struct {
	Extractor ParameterExtractor
	Fetcher   InteractionsFetcher
	// Recorder is optional. Runs are not audited when it is nil.
	Recorder  RunRecorder
	PublicURL string
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
}

type Agent struct {
	extractor ParameterExtractor
	fetcher   InteractionsFetcher
	recorder  RunRecorder
	publicURL string
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

func New(cfg Config) *Agent {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.PublicURL == "" {
		cfg.PublicURL = "http://localhost:9999"
	}
	return &Agent{
		extractor: cfg.Extractor,
		fetcher:   cfg.Fetcher,
		recorder:  cfg.Recorder,
		publicURL: cfg.PublicURL,
		logger:    cfg.Logger,
		metrics:   m,
	}
}

// Run answers request through entrypoint, publishing progress to sink. On
// success the last event is the artifact. On failure the returned error is
// terminal and no artifact has been published.
func (a *Agent) Run(ctx context.Context, request, entrypoint string, sink EventSink) error {
	if entrypoint != EntrypointFindInteractions {
		return fmt.Errorf("%w: %q", ErrUnknownEntrypoint, entrypoint)
	}

	a.metrics.RunsTotal.Inc()
	start := time.Now()
	run := storage.Run{Request: request, Entrypoint: entrypoint}

	err := a.findInteractions(ctx, request, sink, &run)

	run.Duration = time.Since(start)
	log := a.logger.With().Str("entrypoint", entrypoint).Dur("duration", run.Duration).Logger()
	if err != nil {
		a.metrics.RunsFailed.Inc()
		run.Status = storage.RunStatusFailed
		run.Error = err.Error()
		log.Error().Err(err).Msg("run failed")
	} else {
		run.Status = storage.RunStatusOK
		log.Info().
			Str("subject_taxon", run.SubjectTaxon).
			Str("interaction_type", run.InteractionType).
			Int("records", run.RecordCount).
			Msg("run completed")
	}
	a.record(ctx, run)
	return err
}

func (a *Agent) findInteractions(ctx context.Context, request string, sink EventSink, run *storage.Run) error {
	if err := sink.Publish(ctx, Event{Type: EventBegin, Summary: ProcessSummary}); err != nil {
		return fmt.Errorf("publish begin: %w", err)
	}

	if err := a.logf(ctx, sink, nil, "Generating search parameters for the GloBI interactions API"); err != nil {
		return err
	}
	params, err := a.extractor.Extract(ctx, request)
	if err != nil {
		a.metrics.ExtractionFailures.Inc()
		return err
	}
	run.SubjectTaxon = params.SubjectTaxon
	run.InteractionType = params.InteractionType
	if err := a.logf(ctx, sink, params.LogData(), "Generated search parameters"); err != nil {
		return err
	}

	queryURL := a.fetcher.QueryURL(params)
	run.QueryURL = queryURL
	if err := a.logf(ctx, sink, nil, "Sending a GET request to the GloBI API at %s", queryURL); err != nil {
		return err
	}
	res, err := a.fetcher.FetchInteractions(ctx, params)
	if err != nil {
		return err
	}
	run.UpstreamStatus = res.StatusCode

	interactions, err := records.ParseCSV(res.Body)
	if err != nil {
		return fmt.Errorf("convert interactions: %w", err)
	}
	run.RecordCount = len(interactions)
	run.InteractionTypeCount = records.CountInteractionTypes(interactions)
	if err := a.logf(ctx, sink, nil, "Found %d distinct interaction(s) across %d interaction type(s)",
		run.RecordCount, run.InteractionTypeCount); err != nil {
		return err
	}

	content, err := records.Encode(interactions)
	if err != nil {
		return fmt.Errorf("encode interactions: %w", err)
	}
	artifact := &Artifact{
		Mimetype:    ArtifactMimetype,
		Description: fmt.Sprintf("List of taxa that \"%s\" relates to as \"%s\" or similar", params.SubjectTaxon, params.InteractionType),
		Content:     content,
		Metadata: map[string]string{
			MetadataDerivedFrom: res.QueryURL,
			MetadataSource:      globi.SourceName,
		},
	}
	if err := sink.Publish(ctx, Event{Type: EventArtifact, Artifact: artifact}); err != nil {
		return fmt.Errorf("publish artifact: %w", err)
	}
	a.metrics.RecordsReturned.Add(float64(len(interactions)))
	return nil
}

func (a *Agent) logf(ctx context.Context, sink EventSink, data map[string]any, format string, args ...any) error {
	ev := Event{Type: EventLog, Text: fmt.Sprintf(format, args...), Data: data}
	if err := sink.Publish(ctx, ev); err != nil {
		return fmt.Errorf("publish log: %w", err)
	}
	return nil
}

func (a *Agent) record(ctx context.Context, run storage.Run) {
	if a.recorder == nil {
		return
	}
	if _, err := a.recorder.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		a.logger.Warn().Err(err).Msg("failed to record run")
	}
}
