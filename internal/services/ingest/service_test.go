package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ingestkit/docbridge/internal/cache"
	"github.com/ingestkit/docbridge/internal/config"
	"github.com/ingestkit/docbridge/internal/imageproc"
	"github.com/ingestkit/docbridge/internal/models"
	"github.com/ingestkit/docbridge/internal/storage/blob"
)

type memStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]Job
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[uuid.UUID]Job)}
}

func (m *memStore) CreateJob(ctx context.Context, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
	return nil
}

func (m *memStore) UpdateJob(ctx context.Context, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; !ok {
		return ErrNotFound
	}
	m.jobs[job.ID] = job
	return nil
}

func (m *memStore) GetJob(ctx context.Context, id uuid.UUID) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return job, nil
}

type fixedExtractor struct {
	elements []models.Element
	err      error
	pageDims [][2]int
}

func (f *fixedExtractor) ExtractPages(ctx context.Context, source models.SourceMetadata, pages []imageproc.Image) ([]models.Element, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, p := range pages {
		f.pageDims = append(f.pageDims, [2]int{p.Width, p.Height})
	}
	out := make([]models.Element, len(f.elements))
	copy(out, f.elements)
	for i := range out {
		out[i].Source.SourceID = source.SourceID
	}
	return out, nil
}

func encodedPage(t *testing.T, w, h int) string {
	t.Helper()
	img := imageproc.Image{Pix: make([]uint8, w*h*3), Width: w, Height: h, Channels: 3}
	b64, err := img.EncodePNGBase64()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return b64
}

func newTestService(t *testing.T, store Store, extractor Extractor) (*Service, blob.Store) {
	t.Helper()
	assets, err := blob.New(context.Background(), config.AssetsConfig{
		Storage:   "local",
		MaxSizeMB: 10,
		Local:     config.AssetsLocalConfig{Directory: t.TempDir()},
	})
	if err != nil {
		t.Fatalf("asset store: %v", err)
	}

	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(server.Close)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })

	svc, err := NewService(Options{
		Store:       store,
		Extractor:   extractor,
		Assets:      assets,
		Idempotency: cache.NewIdempotencyCache(client, time.Minute),
		MaxPages:    4,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, assets
}

func TestSubmitCompletesJob(t *testing.T) {
	store := newMemStore()
	extractor := &fixedExtractor{elements: []models.Element{
		{
			Type:   models.ElementTypeText,
			Source: models.SourceMetadata{PageNumber: 1},
			Text:   &models.TextMetadata{Content: "hello"},
		},
	}}
	svc, _ := newTestService(t, store, extractor)

	job, err := svc.Submit(context.Background(), SubmitParams{
		SourceName: "report.pdf",
		Pages:      []string{encodedPage(t, 8, 10)},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.Status != StatusCompleted {
		t.Fatalf("status = %q (%s)", job.Status, job.Error)
	}
	if job.PageCount != 1 || len(job.Elements) != 1 {
		t.Fatalf("unexpected job: %+v", job)
	}
	if job.Elements[0].Source.SourceID != job.ID.String() {
		t.Fatalf("source id not threaded: %+v", job.Elements[0].Source)
	}

	stored, err := svc.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != StatusCompleted {
		t.Fatalf("stored status = %q", stored.Status)
	}
	if len(extractor.pageDims) != 1 || extractor.pageDims[0] != [2]int{8, 10} {
		t.Fatalf("extractor saw pages %v", extractor.pageDims)
	}
}

func TestSubmitPersistsFigureAssets(t *testing.T) {
	store := newMemStore()
	crop := encodedPage(t, 4, 4)
	extractor := &fixedExtractor{elements: []models.Element{
		{
			Type:   models.ElementTypeImage,
			Source: models.SourceMetadata{PageNumber: 2},
			Image:  &models.ImageMetadata{Content: crop},
		},
	}}
	svc, assets := newTestService(t, store, extractor)

	job, err := svc.Submit(context.Background(), SubmitParams{Pages: []string{encodedPage(t, 8, 8)}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	key := job.Elements[0].Image.StorageKey
	if key == "" {
		t.Fatal("figure storage key not recorded")
	}
	reader, info, err := assets.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("asset get: %v", err)
	}
	reader.Close()
	if info.ContentType != "image/png" {
		t.Fatalf("asset content type = %q", info.ContentType)
	}
}

func TestSubmitIdempotency(t *testing.T) {
	store := newMemStore()
	extractor := &fixedExtractor{}
	svc, _ := newTestService(t, store, extractor)

	first, err := svc.Submit(context.Background(), SubmitParams{
		Pages:          []string{encodedPage(t, 4, 4)},
		IdempotencyKey: "client-123",
	})
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	second, err := svc.Submit(context.Background(), SubmitParams{
		Pages:          []string{encodedPage(t, 4, 4)},
		IdempotencyKey: "client-123",
	})
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("idempotent submits returned different jobs: %s vs %s", first.ID, second.ID)
	}
	if len(store.jobs) != 1 {
		t.Fatalf("expected 1 stored job, got %d", len(store.jobs))
	}
}

func TestSubmitMarksFailure(t *testing.T) {
	store := newMemStore()
	extractor := &fixedExtractor{err: errors.New("doughnut offline")}
	svc, _ := newTestService(t, store, extractor)

	job, err := svc.Submit(context.Background(), SubmitParams{Pages: []string{encodedPage(t, 4, 4)}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.Status != StatusFailed {
		t.Fatalf("status = %q", job.Status)
	}
	if job.Error == "" {
		t.Fatal("error message not recorded")
	}
}

func TestSubmitRejectsTooManyPages(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestService(t, store, &fixedExtractor{})

	pages := make([]string, 5)
	for i := range pages {
		pages[i] = encodedPage(t, 2, 2)
	}
	if _, err := svc.Submit(context.Background(), SubmitParams{Pages: pages}); !errors.Is(err, ErrTooManyPages) {
		t.Fatalf("expected ErrTooManyPages, got %v", err)
	}
}

func TestSubmitRejectsBadPage(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestService(t, store, &fixedExtractor{})

	job, err := svc.Submit(context.Background(), SubmitParams{Pages: []string{"not base64 image data"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.Status != StatusFailed {
		t.Fatalf("status = %q", job.Status)
	}
}
