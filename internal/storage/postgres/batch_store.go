package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/contrib-graph-crawler/internal/graph"
)

var batchColumns = []string{`"contributorId"`, "type", "status", "created_at"}

// Latest returns the newest batch entry for (subjectID, jobType) or
// graph.ErrNotFound.
func (s *Store) Latest(ctx context.Context, subjectID string, jobType graph.JobType) (graph.BatchStatus, error) {
	query, args, err := s.psql.Select(batchColumns...).
		From(s.tables.batch).
		Where(sq.And{sq.Eq{`"contributorId"`: subjectID}, sq.Eq{"type": string(jobType)}}).
		OrderBy("created_at DESC", "id DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return graph.BatchStatus{}, fmt.Errorf("build batch lookup: %w", err)
	}
	status, err := scanBatch(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return graph.BatchStatus{}, graph.ErrNotFound
		}
		return graph.BatchStatus{}, fmt.Errorf("latest batch status: %w", err)
	}
	return status, nil
}

// Record appends a batch entry. Existing rows are never updated.
func (s *Store) Record(ctx context.Context, subjectID string, status graph.Status, jobType graph.JobType) error {
	query, args, err := s.psql.Insert(s.tables.batch).
		Columns(batchColumns...).
		Values(subjectID, string(jobType), string(status), s.now()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build batch insert: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("record batch status: %w", err)
	}
	return nil
}

// History lists up to limit entries for the key, newest first.
func (s *Store) History(
	ctx context.Context,
	subjectID string,
	jobType graph.JobType,
	limit int,
) ([]graph.BatchStatus, error) {
	builder := s.psql.Select(batchColumns...).
		From(s.tables.batch).
		Where(sq.And{sq.Eq{`"contributorId"`: subjectID}, sq.Eq{"type": string(jobType)}}).
		OrderBy("created_at DESC", "id DESC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build batch history: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query batch history: %w", err)
	}
	defer rows.Close()

	var out []graph.BatchStatus
	for rows.Next() {
		status, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch history: %w", err)
		}
		out = append(out, status)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batch history: %w", err)
	}
	return out, nil
}

func scanBatch(row pgx.Row) (graph.BatchStatus, error) {
	var (
		subject   string
		jobType   string
		status    string
		createdAt time.Time
	)
	if err := row.Scan(&subject, &jobType, &status, &createdAt); err != nil {
		return graph.BatchStatus{}, err
	}
	return graph.BatchStatus{
		SubjectID: subject,
		JobType:   graph.JobType(jobType),
		Status:    graph.Status(status),
		CreatedAt: createdAt,
	}, nil
}
