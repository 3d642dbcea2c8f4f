// Package extract turns doughnut layout transcripts into typed document
// elements. It works on pre-rendered page rasters; rendering itself happens
// upstream.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ingestkit/docbridge/internal/imageproc"
	"github.com/ingestkit/docbridge/internal/models"
	"github.com/ingestkit/docbridge/internal/nim"
)

// TextDepth controls how prose regions are aggregated.
type TextDepth string

const (
	// TextDepthPage emits one text element per page.
	TextDepthPage TextDepth = "page"
	// TextDepthDocument emits a single text element for the whole document.
	TextDepthDocument TextDepth = "document"
)

// PageInferer produces one doughnut transcript per padded page raster. The
// slice it returns must match the input length and order.
type PageInferer interface {
	InferPages(ctx context.Context, pages []imageproc.Image) ([]string, error)
}

// Options configure a doughnut extractor.
type Options struct {
	Inferer PageInferer

	// MaxBatchSize caps pages per inference call. Defaults to 1.
	MaxBatchSize int

	ExtractText   bool
	ExtractTables bool
	ExtractImages bool

	// TextDepth defaults to TextDepthPage.
	TextDepth TextDepth
}

// Extractor drives doughnut layout extraction over rendered pages.
type Extractor struct {
	inferer      PageInferer
	maxBatchSize int
	text         bool
	tables       bool
	images       bool
	textDepth    TextDepth
}

// New creates a doughnut extractor.
func New(opts Options) (*Extractor, error) {
	if opts.Inferer == nil {
		return nil, errors.New("extract: page inferer required")
	}
	maxBatchSize := opts.MaxBatchSize
	if maxBatchSize <= 0 {
		maxBatchSize = 1
	}
	depth := opts.TextDepth
	if depth == "" {
		depth = TextDepthPage
	}
	if depth != TextDepthPage && depth != TextDepthDocument {
		return nil, fmt.Errorf("extract: unknown text depth %q", depth)
	}
	return &Extractor{
		inferer:      opts.Inferer,
		maxBatchSize: maxBatchSize,
		text:         opts.ExtractText,
		tables:       opts.ExtractTables,
		images:       opts.ExtractImages,
		textDepth:    depth,
	}, nil
}

type paddedPage struct {
	raster     imageproc.Image
	offX, offY int
}

// ExtractPages runs layout inference over the given pages and returns the
// elements the extractor is configured to keep, ordered by page and then by
// emission order within the page.
func (e *Extractor) ExtractPages(ctx context.Context, source models.SourceMetadata, pages []imageproc.Image) ([]models.Element, error) {
	if len(pages) == 0 {
		return nil, errors.New("extract: no pages")
	}

	padded := make([]paddedPage, len(pages))
	rasters := make([]imageproc.Image, len(pages))
	for i, page := range pages {
		raster, offX, offY := imageproc.PadAndScale(page, nim.DoughnutCanvasWidth, nim.DoughnutCanvasHeight)
		padded[i] = paddedPage{raster: raster, offX: offX, offY: offY}
		rasters[i] = raster
	}

	transcripts := make([]string, 0, len(pages))
	for start := 0; start < len(rasters); start += e.maxBatchSize {
		end := start + e.maxBatchSize
		if end > len(rasters) {
			end = len(rasters)
		}
		batch, err := e.inferer.InferPages(ctx, rasters[start:end])
		if err != nil {
			return nil, fmt.Errorf("extract: infer pages %d-%d: %w", start, end-1, err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("extract: inferer returned %d transcripts for %d pages", len(batch), end-start)
		}
		transcripts = append(transcripts, batch...)
	}

	source.PageCount = len(pages)
	var elements []models.Element
	var documentText []string
	for i, transcript := range transcripts {
		pageSource := source
		pageSource.PageNumber = i + 1

		pageElements, pageText, err := e.extractPage(pages[i], padded[i], pageSource, transcript)
		if err != nil {
			return nil, fmt.Errorf("extract: page %d: %w", i+1, err)
		}
		elements = append(elements, pageElements...)

		if e.text {
			switch e.textDepth {
			case TextDepthPage:
				// A page without prose still gets its text record, with
				// empty content.
				elements = append(elements, models.Element{
					Type:   models.ElementTypeText,
					Source: pageSource,
					Text:   &models.TextMetadata{Content: pageText, TextDepth: string(TextDepthPage)},
				})
			case TextDepthDocument:
				if pageText != "" {
					documentText = append(documentText, pageText)
				}
			}
		}
	}

	if e.text && e.textDepth == TextDepthDocument && len(documentText) > 0 {
		docSource := source
		docSource.PageNumber = 1
		elements = append(elements, models.Element{
			Type:   models.ElementTypeText,
			Source: docSource,
			Text:   &models.TextMetadata{Content: strings.Join(documentText, "\n\n"), TextDepth: string(TextDepthDocument)},
		})
	}
	return elements, nil
}

func (e *Extractor) extractPage(page imageproc.Image, pad paddedPage, source models.SourceMetadata, transcript string) ([]models.Element, string, error) {
	var elements []models.Element
	var textParts []string

	for _, region := range nim.ParseDoughnut(transcript) {
		switch {
		case nim.IsTextClass(region.Class):
			if text := strings.TrimSpace(region.Text); text != "" {
				textParts = append(textParts, text)
			}
		case nim.IsTableClass(region.Class):
			if !e.tables {
				continue
			}
			loc := pageLocation(region.BBox, pad, page)
			elements = append(elements, models.Element{
				Type:   models.ElementTypeStructured,
				Source: source,
				Table:  &models.TableMetadata{Content: region.Text, Location: &loc},
			})
		case nim.IsImageClass(region.Class):
			if !e.images {
				continue
			}
			loc := pageLocation(region.BBox, pad, page)
			crop := page.Crop(loc.X0, loc.Y0, loc.X1, loc.Y1)
			content, err := crop.EncodePNGBase64()
			if err != nil {
				return nil, "", fmt.Errorf("encode figure crop: %w", err)
			}
			elements = append(elements, models.Element{
				Type:   models.ElementTypeImage,
				Source: source,
				Image:  &models.ImageMetadata{Content: content, Location: &loc},
			})
		}
	}
	return elements, strings.Join(textParts, "\n"), nil
}

// pageLocation maps a box from the padded inference canvas back onto the
// original page raster.
func pageLocation(box nim.BBox, pad paddedPage, page imageproc.Image) models.Location {
	canvas := nim.ReverseTransformBBox(box, pad.offX, pad.offY, nim.DoughnutCanvasWidth, nim.DoughnutCanvasHeight)
	scaleX := float64(page.Width) / float64(nim.DoughnutCanvasWidth)
	scaleY := float64(page.Height) / float64(nim.DoughnutCanvasHeight)
	return models.Location{
		X0: int(float64(canvas.X0) * scaleX),
		Y0: int(float64(canvas.Y0) * scaleY),
		X1: int(float64(canvas.X1) * scaleX),
		Y1: int(float64(canvas.Y1) * scaleY),
	}
}
