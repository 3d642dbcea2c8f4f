package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/ingestkit/docbridge/internal/imageproc"
	"github.com/ingestkit/docbridge/internal/models"
	"github.com/ingestkit/docbridge/internal/nim"
)

type scriptedInferer struct {
	transcripts []string
	batchSizes  []int
	err         error
}

func (s *scriptedInferer) InferPages(ctx context.Context, pages []imageproc.Image) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.batchSizes = append(s.batchSizes, len(pages))
	out := s.transcripts[:len(pages)]
	s.transcripts = s.transcripts[len(pages):]
	return out, nil
}

func testPage(w, h int) imageproc.Image {
	img := imageproc.Image{
		Pix:      make([]uint8, w*h*3),
		Width:    w,
		Height:   h,
		Channels: 3,
	}
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	return img
}

func TestExtractPagesTextPerPage(t *testing.T) {
	inferer := &scriptedInferer{transcripts: []string{
		`<x_10><y_10>First page title<x_500><y_40><class_Title>` +
			`<x_10><y_60>Body text.<x_500><y_100><class_Text>`,
		`<x_10><y_10>Second page.<x_500><y_40><class_Text>`,
	}}
	e, err := New(Options{Inferer: inferer, ExtractText: true, MaxBatchSize: 2})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	source := models.SourceMetadata{SourceID: "doc-1", SourceName: "report.pdf"}
	pages := []imageproc.Image{testPage(1024, 1280), testPage(1024, 1280)}
	elements, err := e.ExtractPages(context.Background(), source, pages)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(elements) != 2 {
		t.Fatalf("expected 2 text elements, got %d", len(elements))
	}
	first := elements[0]
	if first.Type != models.ElementTypeText || first.Text == nil {
		t.Fatalf("unexpected first element: %+v", first)
	}
	if first.Text.Content != "First page title\nBody text." {
		t.Fatalf("first page text = %q", first.Text.Content)
	}
	if first.Source.PageNumber != 1 || first.Source.PageCount != 2 {
		t.Fatalf("unexpected source: %+v", first.Source)
	}
	if elements[1].Source.PageNumber != 2 {
		t.Fatalf("second element page = %d", elements[1].Source.PageNumber)
	}
	if len(inferer.batchSizes) != 1 || inferer.batchSizes[0] != 2 {
		t.Fatalf("unexpected batching: %v", inferer.batchSizes)
	}
}

func TestExtractPagesDocumentDepth(t *testing.T) {
	inferer := &scriptedInferer{transcripts: []string{
		`<x_0><y_0>Page one.<x_100><y_20><class_Text>`,
		`<x_0><y_0>Page two.<x_100><y_20><class_Text>`,
	}}
	e, err := New(Options{Inferer: inferer, ExtractText: true, TextDepth: TextDepthDocument, MaxBatchSize: 1})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	pages := []imageproc.Image{testPage(1024, 1280), testPage(1024, 1280)}
	elements, err := e.ExtractPages(context.Background(), models.SourceMetadata{SourceID: "doc-2"}, pages)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(elements) != 1 {
		t.Fatalf("expected a single document element, got %d", len(elements))
	}
	if elements[0].Text.Content != "Page one.\n\nPage two." {
		t.Fatalf("document text = %q", elements[0].Text.Content)
	}
	if elements[0].Text.TextDepth != string(TextDepthDocument) {
		t.Fatalf("text depth = %q", elements[0].Text.TextDepth)
	}
	if len(inferer.batchSizes) != 2 {
		t.Fatalf("expected 2 batches, got %v", inferer.batchSizes)
	}
}

func TestExtractPagesTablesAndImages(t *testing.T) {
	inferer := &scriptedInferer{transcripts: []string{
		`<x_100><y_200>| a | b |<x_900><y_600><class_Table>` +
			`<x_100><y_700><x_500><y_1100><class_Picture>`,
	}}
	e, err := New(Options{Inferer: inferer, ExtractTables: true, ExtractImages: true})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	page := testPage(512, 640)
	elements, err := e.ExtractPages(context.Background(), models.SourceMetadata{SourceID: "doc-3"}, []imageproc.Image{page})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(elements) != 2 {
		t.Fatalf("expected 2 elements, got %d", len(elements))
	}

	table := elements[0]
	if table.Type != models.ElementTypeStructured || table.Table == nil {
		t.Fatalf("unexpected table element: %+v", table)
	}
	if table.Table.Content != "| a | b |" {
		t.Fatalf("table content = %q", table.Table.Content)
	}
	// Page is exactly half the canvas in each dimension, so canvas coords
	// halve on the way back.
	wantLoc := models.Location{X0: 50, Y0: 100, X1: 450, Y1: 300}
	if *table.Table.Location != wantLoc {
		t.Fatalf("table location = %+v, want %+v", *table.Table.Location, wantLoc)
	}

	figure := elements[1]
	if figure.Type != models.ElementTypeImage || figure.Image == nil {
		t.Fatalf("unexpected image element: %+v", figure)
	}
	if figure.Image.Content == "" {
		t.Fatal("figure crop is empty")
	}
	if figure.Image.Location.Y1 != 550 {
		t.Fatalf("figure location = %+v", *figure.Image.Location)
	}
}

func TestExtractPagesEmptyTextRecordForTableOnlyPage(t *testing.T) {
	inferer := &scriptedInferer{transcripts: []string{
		`<x_100><y_200>| a | b |<x_900><y_600><class_Table>`,
	}}
	e, err := New(Options{Inferer: inferer, ExtractText: true, ExtractTables: true})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	elements, err := e.ExtractPages(context.Background(), models.SourceMetadata{SourceID: "doc-5"}, []imageproc.Image{testPage(1024, 1280)})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(elements) != 2 {
		t.Fatalf("expected table plus empty text element, got %d", len(elements))
	}
	if elements[0].Type != models.ElementTypeStructured {
		t.Fatalf("first element = %+v", elements[0])
	}
	text := elements[1]
	if text.Type != models.ElementTypeText || text.Text == nil {
		t.Fatalf("unexpected trailing element: %+v", text)
	}
	if text.Text.Content != "" {
		t.Fatalf("text content = %q, want empty", text.Text.Content)
	}
	if text.Text.TextDepth != string(TextDepthPage) {
		t.Fatalf("text depth = %q", text.Text.TextDepth)
	}
}

func TestExtractPagesFiltersDisabledTypes(t *testing.T) {
	inferer := &scriptedInferer{transcripts: []string{
		`<x_0><y_0>Prose.<x_100><y_20><class_Text>` +
			`<x_0><y_100><x_200><y_300><class_Table>`,
	}}
	e, err := New(Options{Inferer: inferer, ExtractTables: true})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	elements, err := e.ExtractPages(context.Background(), models.SourceMetadata{SourceID: "doc-4"}, []imageproc.Image{testPage(1024, 1280)})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(elements) != 1 || elements[0].Type != models.ElementTypeStructured {
		t.Fatalf("expected only the table element, got %+v", elements)
	}
}

func TestExtractPagesInfererError(t *testing.T) {
	boom := errors.New("model offline")
	e, err := New(Options{Inferer: &scriptedInferer{err: boom}, ExtractText: true})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := e.ExtractPages(context.Background(), models.SourceMetadata{}, []imageproc.Image{testPage(10, 10)}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped inferer error, got %v", err)
	}
}

func TestExtractPagesNoPages(t *testing.T) {
	e, err := New(Options{Inferer: &scriptedInferer{}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := e.ExtractPages(context.Background(), models.SourceMetadata{}, nil); err == nil {
		t.Fatal("expected error for empty input")
	}
}

var _ PageInferer = (*scriptedInferer)(nil)

// Guard: region classes used above must stay in the class sets.
func TestClassAssumptions(t *testing.T) {
	if !nim.IsTextClass("Title") || !nim.IsTableClass("Table") || !nim.IsImageClass("Picture") {
		t.Fatal("doughnut class sets changed")
	}
}
