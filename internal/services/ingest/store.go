package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ingestkit/docbridge/internal/models"
)

// PGStore persists jobs in Postgres. Elements are stored as a jsonb document
// alongside the job row.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) CreateJob(ctx context.Context, job Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ingest_jobs (id, source_name, status, page_count, elements, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, '[]'::jsonb, $5, $6, $7)`,
		job.ID, job.SourceName, job.Status, job.PageCount, job.Error, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *PGStore) UpdateJob(ctx context.Context, job Job) error {
	elements, err := marshalElements(job.Elements)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE ingest_jobs
		SET status = $2, elements = $3, error = $4, updated_at = $5
		WHERE id = $1`,
		job.ID, job.Status, elements, job.Error, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) GetJob(ctx context.Context, id uuid.UUID) (Job, error) {
	var job Job
	var elements []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, source_name, status, page_count, elements, error, created_at, updated_at
		FROM ingest_jobs WHERE id = $1`, id,
	).Scan(&job.ID, &job.SourceName, &job.Status, &job.PageCount, &elements, &job.Error, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, ErrNotFound
		}
		return Job{}, fmt.Errorf("get job: %w", err)
	}
	if len(elements) > 0 {
		if err := json.Unmarshal(elements, &job.Elements); err != nil {
			return Job{}, fmt.Errorf("decode job elements: %w", err)
		}
	}
	return job, nil
}

func marshalElements(elements []models.Element) ([]byte, error) {
	if elements == nil {
		elements = []models.Element{}
	}
	data, err := json.Marshal(elements)
	if err != nil {
		return nil, fmt.Errorf("encode job elements: %w", err)
	}
	return data, nil
}
