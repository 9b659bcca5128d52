package storage

import (
	"context"
	"fmt"
	"strings"
	"time"
)

func (s *Store) RecordRun(ctx context.Context, r Run) (int64, error) {
	if strings.TrimSpace(r.Status) == "" {
		r.Status = RunStatusOK
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	q := s.sql.Insert("runs").
		Columns(
			"request", "entrypoint", "subject_taxon", "interaction_type", "query_url",
			"upstream_status", "record_count", "interaction_type_count", "status", "error",
			"duration_ms", "created_at",
		).
		Values(
			r.Request, r.Entrypoint, r.SubjectTaxon, r.InteractionType, r.QueryURL,
			r.UpstreamStatus, r.RecordCount, r.InteractionTypeCount, r.Status, r.Error,
			r.Duration.Milliseconds(), r.CreatedAt,
		).
		Suffix("RETURNING id")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build insert run query: %w", err)
	}
	var id int64
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	q := s.sql.Select(
		"id", "request", "entrypoint", "subject_taxon", "interaction_type", "query_url",
		"upstream_status", "record_count", "interaction_type_count", "status", "error",
		"duration_ms", "created_at",
	).From("runs").
		OrderBy("id DESC").
		Limit(uint64(limit))

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list runs query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	out := make([]Run, 0)
	for rows.Next() {
		var r Run
		var durationMS int64
		if err := rows.Scan(
			&r.ID,
			&r.Request,
			&r.Entrypoint,
			&r.SubjectTaxon,
			&r.InteractionType,
			&r.QueryURL,
			&r.UpstreamStatus,
			&r.RecordCount,
			&r.InteractionTypeCount,
			&r.Status,
			&r.Error,
			&durationMS,
			&r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}
