// Package ingest coordinates document ingestion jobs: page decoding, layout
// extraction, asset persistence, and job records.
package ingest

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ingestkit/docbridge/internal/cache"
	"github.com/ingestkit/docbridge/internal/imageproc"
	"github.com/ingestkit/docbridge/internal/models"
	"github.com/ingestkit/docbridge/internal/storage/blob"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// ErrNotFound is returned when a job id has no record.
var ErrNotFound = errors.New("ingest: job not found")

// ErrTooManyPages is returned when a submission exceeds the configured page cap.
var ErrTooManyPages = errors.New("ingest: too many pages")

// Job is one ingestion run over a rendered document.
type Job struct {
	ID         uuid.UUID
	SourceName string
	Status     string
	PageCount  int
	Elements   []models.Element
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Store persists job records.
type Store interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, id uuid.UUID) (Job, error)
}

// Extractor is the layout-extraction dependency; *extract.Extractor satisfies it.
type Extractor interface {
	ExtractPages(ctx context.Context, source models.SourceMetadata, pages []imageproc.Image) ([]models.Element, error)
}

// Options wire the service dependencies.
type Options struct {
	Store       Store
	Extractor   Extractor
	Assets      blob.Store
	Idempotency *cache.IdempotencyCache
	MaxPages    int
}

// Service runs ingestion jobs inline on the submitting request.
type Service struct {
	store     Store
	extractor Extractor
	assets    blob.Store
	idem      *cache.IdempotencyCache
	maxPages  int
}

func NewService(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("ingest: store required")
	}
	if opts.Extractor == nil {
		return nil, errors.New("ingest: extractor required")
	}
	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = 256
	}
	return &Service{
		store:     opts.Store,
		extractor: opts.Extractor,
		assets:    opts.Assets,
		idem:      opts.Idempotency,
		maxPages:  maxPages,
	}, nil
}

// SubmitParams describe one ingestion request. Pages are base64 PNG or JPEG
// renders in document order.
type SubmitParams struct {
	SourceName     string
	Pages          []string
	IdempotencyKey string
}

// Submit runs extraction over the submitted pages and returns the finished
// job. A repeated idempotency key returns the original job instead.
func (s *Service) Submit(ctx context.Context, params SubmitParams) (Job, error) {
	if len(params.Pages) == 0 {
		return Job{}, errors.New("ingest: at least one page required")
	}
	if len(params.Pages) > s.maxPages {
		return Job{}, fmt.Errorf("%w: %d exceeds limit %d", ErrTooManyPages, len(params.Pages), s.maxPages)
	}

	jobID := uuid.New()
	if key := strings.TrimSpace(params.IdempotencyKey); key != "" {
		// Fast path: a known key skips the reservation round trip.
		if recorded, ok := s.idem.Lookup(ctx, key); ok {
			existing, err := uuid.Parse(recorded)
			if err != nil {
				return Job{}, fmt.Errorf("ingest: corrupt idempotency record %q", recorded)
			}
			return s.store.GetJob(ctx, existing)
		}
		winner, err := s.idem.Reserve(ctx, key, jobID.String())
		if err != nil {
			return Job{}, fmt.Errorf("ingest: reserve idempotency key: %w", err)
		}
		if winner != jobID.String() {
			existing, err := uuid.Parse(winner)
			if err != nil {
				return Job{}, fmt.Errorf("ingest: corrupt idempotency record %q", winner)
			}
			return s.store.GetJob(ctx, existing)
		}
	}

	now := time.Now().UTC()
	job := Job{
		ID:         jobID,
		SourceName: params.SourceName,
		Status:     StatusProcessing,
		PageCount:  len(params.Pages),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return Job{}, fmt.Errorf("ingest: create job: %w", err)
	}

	elements, err := s.run(ctx, job, params.Pages)
	job.UpdatedAt = time.Now().UTC()
	if err != nil {
		slog.Warn("ingest job failed", "job_id", job.ID, "pages", job.PageCount, "error", err)
		job.Status = StatusFailed
		job.Error = err.Error()
	} else {
		job.Status = StatusCompleted
		job.Elements = elements
	}
	if updateErr := s.store.UpdateJob(ctx, job); updateErr != nil {
		return Job{}, fmt.Errorf("ingest: update job: %w", updateErr)
	}
	return job, nil
}

func (s *Service) run(ctx context.Context, job Job, encodedPages []string) ([]models.Element, error) {
	pages := make([]imageproc.Image, 0, len(encodedPages))
	for i, b64 := range encodedPages {
		page, err := imageproc.DecodeBase64(b64)
		if err != nil {
			return nil, fmt.Errorf("decode page %d: %w", i+1, err)
		}
		pages = append(pages, page)
	}

	source := models.SourceMetadata{
		SourceID:   job.ID.String(),
		SourceName: job.SourceName,
	}
	elements, err := s.extractor.ExtractPages(ctx, source, pages)
	if err != nil {
		return nil, err
	}
	if err := s.persistAssets(ctx, job.ID, elements); err != nil {
		return nil, err
	}
	return elements, nil
}

// persistAssets writes figure crops to the asset store and records their keys.
func (s *Service) persistAssets(ctx context.Context, jobID uuid.UUID, elements []models.Element) error {
	if s.assets == nil {
		return nil
	}
	figure := 0
	for i := range elements {
		el := &elements[i]
		if el.Type != models.ElementTypeImage || el.Image == nil || el.Image.Content == "" {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(el.Image.Content)
		if err != nil {
			return fmt.Errorf("decode figure %d: %w", figure, err)
		}
		key := fmt.Sprintf("jobs/%s/page-%d/figure-%d.png", jobID, el.Source.PageNumber, figure)
		if _, err := s.assets.Put(ctx, key, bytes.NewReader(raw), blob.PutOptions{
			ContentType: "image/png",
			Metadata:    map[string]string{"page": fmt.Sprint(el.Source.PageNumber)},
		}); err != nil {
			return fmt.Errorf("store figure %d: %w", figure, err)
		}
		el.Image.StorageKey = key
		figure++
	}
	return nil
}

// Get returns the job record for id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Job, error) {
	return s.store.GetJob(ctx, id)
}
