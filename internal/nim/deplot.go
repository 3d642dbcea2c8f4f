package nim

import (
	"context"
	"fmt"
	"strings"

	"github.com/ingestkit/docbridge/internal/imageproc"
)

const (
	// DeplotModelID is the catalog identifier the Deplot NIM expects in
	// text-protocol payloads.
	DeplotModelID = "google/deplot"

	deplotInstruction = "Generate the underlying data table of the figure below: "
)

// Deplot adapts chart images for the Deplot chart-to-table model over both
// wire protocols. The zero value is not usable; construct with NewDeplot.
// Instances hold no per-call state and are safe for concurrent use.
type Deplot struct {
	model string
}

// DeplotOptions configure the adapter.
type DeplotOptions struct {
	// Model overrides the model identifier embedded in text-protocol
	// payloads. Defaults to DeplotModelID.
	Model string
}

// NewDeplot constructs a Deplot adapter.
func NewDeplot(opts DeplotOptions) *Deplot {
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DeplotModelID
	}
	return &Deplot{model: model}
}

// Name identifies the adapter.
func (d *Deplot) Name() string { return "deplot" }

// Prepared is the output of Prepare: the decoded images alongside the
// original encoded strings, both in input order. Format consumes it once and
// the caller discards it afterwards.
type Prepared struct {
	Images  []imageproc.Image
	Encoded []string
}

// Prepare decodes one or more base64 images into rasters, preserving order.
func (d *Deplot) Prepare(ctx context.Context, in ImageInput) (*Prepared, error) {
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
			return nil, fmt.Errorf("%w: decode image %d: %v", ErrInvalidInputType, i, err)
		}
		images = append(images, img)
	}
	return &Prepared{Images: images, Encoded: encoded}, nil
}

// Format serializes prepared images into protocol-specific request batches,
// each holding at most opts.MaxBatchSize images.
//
// For the binary protocol every image becomes a normalized float32 batch-of-one
// and chunks are concatenated along the batch axis; all images must share
// identical (H, W, C). For the text protocol the original encoded strings are
// chunked and each chunk becomes one chat payload with one user message per
// image.
func (d *Deplot) Format(prep *Prepared, opts FormatOptions) ([]Request, error) {
	if prep == nil {
		return nil, ErrPrecondition
	}
	switch opts.Protocol {
	case ProtocolGRPC:
		return formatTensorRequests(prep.Images, opts.MaxBatchSize)
	case ProtocolHTTP:
		return d.formatPayloads(prep.Encoded, opts.MaxBatchSize, opts.Generation), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, opts.Protocol)
	}
}

func formatTensorRequests(images []imageproc.Image, maxBatchSize int) ([]Request, error) {
	if len(images) == 0 {
		return nil, ErrEmptyInput
	}
	if maxBatchSize <= 0 {
		maxBatchSize = 1
	}

	singles := make([]*Tensor, len(images))
	for i, img := range images {
		singles[i] = tensorFromImage(img)
	}
	if err := verifySameDims(singles); err != nil {
		return nil, err
	}

	requests := make([]Request, 0, (len(singles)+maxBatchSize-1)/maxBatchSize)
	for start := 0; start < len(singles); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(singles) {
			end = len(singles)
		}
		requests = append(requests, Request{Tensor: concatBatch(singles[start:end])})
	}
	return requests, nil
}

func (d *Deplot) formatPayloads(encoded []string, maxBatchSize int, params GenerationParams) []Request {
	params = params.withDefaults()
	requests := make([]Request, 0, len(encoded))
	for _, chunk := range chunkStrings(encoded, maxBatchSize) {
		messages := make([]ChatMessage, 0, len(chunk))
		for _, b64 := range chunk {
			messages = append(messages, ChatMessage{
				Role:    "user",
				Content: fmt.Sprintf("%s<img src=\"data:image/png;base64,%s\" />", deplotInstruction, b64),
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
	return requests
}

// Parse extracts the plain-text results from a protocol-specific response,
// one string per batch element, preserving order.
func (d *Deplot) Parse(resp Response, protocol Protocol) ([]string, error) {
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

// Postprocess is the identity for Deplot; the parsed strings already are the
// chart content. It exists as the extension point other adapters override.
func (d *Deplot) Postprocess(results []string) []string { return results }

// parseTensorResults decodes binary-protocol outputs into one string per
// batch element. An output may arrive as chunked bytes joined with spaces, a
// single raw byte string, or plain text.
func parseTensorResults(resp *TensorResponse) ([]string, error) {
	if resp == nil {
		return nil, fmt.Errorf("%w: missing tensor outputs", ErrMalformedResponse)
	}
	results := make([]string, 0, len(resp.Outputs))
	for _, out := range resp.Outputs {
		switch {
		case len(out.Chunks) > 0:
			parts := make([]string, len(out.Chunks))
			for i, chunk := range out.Chunks {
				parts[i] = string(chunk)
			}
			results = append(results, strings.Join(parts, " "))
		case out.Raw != nil:
			results = append(results, string(out.Raw))
		default:
			results = append(results, out.Text)
		}
	}
	return results, nil
}
