package nim

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ingestkit/docbridge/internal/imageproc"
)

// Doughnut layout geometry. The model emits coordinates on a fixed canvas the
// page was padded and scaled onto before inference.
const (
	DoughnutCanvasWidth  = 1024
	DoughnutCanvasHeight = 1280
)

// BBox is a pixel-space bounding box with inclusive top-left and exclusive
// bottom-right corners.
type BBox struct {
	X0, Y0, X1, Y1 int
}

// Region is one layout element recovered from a doughnut transcript: its
// bounding box on the inference canvas, the predicted class label, and the
// text span enclosed by the coordinate tags.
type Region struct {
	BBox  BBox
	Class string
	Text  string
}

// doughnutTag matches one tagged span:
// <x_#><y_#>text<x_#><y_#><class_Label>
var doughnutTag = regexp.MustCompile(`<x_(\d+)><y_(\d+)>(.*?)<x_(\d+)><y_(\d+)><class_([^>]+)>`)

// Class labels grouped by how downstream extraction treats them.
var (
	doughnutTextClasses = map[string]bool{
		"Text":           true,
		"Title":          true,
		"Section-header": true,
		"List-item":      true,
		"Caption":        true,
		"Footnote":       true,
		"Formula":        true,
		"Page-header":    true,
		"Page-footer":    true,
	}
	doughnutTableClasses = map[string]bool{"Table": true}
	doughnutImageClasses = map[string]bool{"Picture": true}
)

// IsTextClass reports whether a doughnut class label carries prose content.
func IsTextClass(class string) bool { return doughnutTextClasses[class] }

// IsTableClass reports whether a doughnut class label marks tabular content.
func IsTableClass(class string) bool { return doughnutTableClasses[class] }

// IsImageClass reports whether a doughnut class label marks figure content.
func IsImageClass(class string) bool { return doughnutImageClasses[class] }

// ParseDoughnut scans a raw doughnut transcript and returns the tagged
// regions in emission order. Spans whose tags do not form a complete
// open-text-close-class sequence are skipped; an input with no valid tags
// yields an empty slice, not an error.
func ParseDoughnut(transcript string) []Region {
	matches := doughnutTag.FindAllStringSubmatch(transcript, -1)
	regions := make([]Region, 0, len(matches))
	for _, m := range matches {
		x0, _ := strconv.Atoi(m[1])
		y0, _ := strconv.Atoi(m[2])
		x1, _ := strconv.Atoi(m[4])
		y1, _ := strconv.Atoi(m[5])
		regions = append(regions, Region{
			BBox:  BBox{X0: x0, Y0: y0, X1: x1, Y1: y1},
			Class: m[6],
			Text:  m[3],
		})
	}
	return regions
}

// DoughnutModelID is the catalog identifier of the doughnut layout model.
const DoughnutModelID = "nvidia/doughnut"

const doughnutInstruction = "Transcribe the document with layout tags: "

// Doughnut adapts page rasters for the doughnut layout model. Responses are
// raw tagged transcripts; callers run ParseDoughnut over them. Construct with
// NewDoughnut; instances are safe for concurrent use.
type Doughnut struct {
	model string
}

// DoughnutOptions configure the adapter.
type DoughnutOptions struct {
	// Model overrides the identifier embedded in text-protocol payloads.
	// Defaults to DoughnutModelID.
	Model string
}

// NewDoughnut constructs a Doughnut adapter.
func NewDoughnut(opts DoughnutOptions) *Doughnut {
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DoughnutModelID
	}
	return &Doughnut{model: model}
}

// Name identifies the adapter.
func (d *Doughnut) Name() string { return "doughnut" }

// Prepare decodes one or more base64 page rasters, preserving order.
func (d *Doughnut) Prepare(ctx context.Context, in ImageInput) (*Prepared, error) {
	encoded, err := in.Encoded()
	if err != nil {
		return nil, err
	}
	images := make([]imageproc.Image, 0, len(encoded))
	for i, b64 := range encoded {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := imageproc.DecodeBase64(b64)
		if err != nil {
			return nil, fmt.Errorf("%w: decode page %d: %v", ErrInvalidInputType, i, err)
		}
		images = append(images, img)
	}
	return &Prepared{Images: images, Encoded: encoded}, nil
}

// Format serializes prepared pages into protocol requests; batching and
// tensor layout follow the same rules as the chart adapter.
func (d *Doughnut) Format(prep *Prepared, opts FormatOptions) ([]Request, error) {
	if prep == nil {
		return nil, ErrPrecondition
	}
	switch opts.Protocol {
	case ProtocolGRPC:
		return formatTensorRequests(prep.Images, opts.MaxBatchSize)
	case ProtocolHTTP:
		params := opts.Generation.withDefaults()
		requests := make([]Request, 0, len(prep.Encoded))
		for _, chunk := range chunkStrings(prep.Encoded, opts.MaxBatchSize) {
			messages := make([]ChatMessage, 0, len(chunk))
			for _, b64 := range chunk {
				messages = append(messages, ChatMessage{
					Role:    "user",
					Content: fmt.Sprintf("%s<img src=\"data:image/png;base64,%s\" />", doughnutInstruction, b64),
				})
			}
			requests = append(requests, Request{Payload: &ChatPayload{
				Model:       d.model,
				Messages:    messages,
				MaxTokens:   params.MaxTokens,
				Stream:      false,
				Temperature: params.Temperature,
				TopP:        params.TopP,
			}})
		}
		return requests, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, opts.Protocol)
	}
}

// Parse extracts the raw transcripts, one per batch element.
func (d *Doughnut) Parse(resp Response, protocol Protocol) ([]string, error) {
	switch protocol {
	case ProtocolGRPC:
		return parseTensorResults(resp.Tensor)
	case ProtocolHTTP:
		if resp.Chat == nil || len(resp.Chat.Choices) == 0 {
			return nil, fmt.Errorf("%w: choices missing or empty", ErrMalformedResponse)
		}
		return []string{resp.Chat.Choices[0].Message.Content}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, protocol)
	}
}

// Postprocess is the identity; transcripts are parsed downstream.
func (d *Doughnut) Postprocess(results []string) []string { return results }

// ReverseTransformBBox maps a box from the padded inference canvas back onto
// the unpadded canvas coordinates. offX and offY are the padding offsets that
// were applied on each side when the page was centered, and width/height are
// the canvas dimensions the model emitted against.
func ReverseTransformBBox(box BBox, offX, offY, width, height int) BBox {
	widthRatio := float64(width-2*offX) / float64(width)
	heightRatio := float64(height-2*offY) / float64(height)
	unpad := func(v, off int, ratio float64, limit int) int {
		if ratio <= 0 {
			return 0
		}
		mapped := int(float64(v-off) / ratio)
		if mapped < 0 {
			return 0
		}
		if mapped > limit {
			return limit
		}
		return mapped
	}
	return BBox{
		X0: unpad(box.X0, offX, widthRatio, width),
		Y0: unpad(box.Y0, offY, heightRatio, height),
		X1: unpad(box.X1, offX, widthRatio, width),
		Y1: unpad(box.Y1, offY, heightRatio, height),
	}
}
