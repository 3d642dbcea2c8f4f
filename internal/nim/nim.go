package nim

import (
	"context"
	"fmt"
	"strings"
)

// Protocol selects the wire format used to reach an inference service.
type Protocol string

const (
	// ProtocolGRPC is the binary tensor protocol: batched float32 arrays in,
	// byte-string sequences out.
	ProtocolGRPC Protocol = "grpc"
	// ProtocolHTTP is the JSON chat-completions protocol: one payload per
	// batch in, a choices object out.
	ProtocolHTTP Protocol = "http"
)

// ParseProtocol normalizes a protocol string to one of the two recognized values.
func ParseProtocol(raw string) (Protocol, error) {
	switch Protocol(strings.ToLower(strings.TrimSpace(raw))) {
	case ProtocolGRPC:
		return ProtocolGRPC, nil
	case ProtocolHTTP:
		return ProtocolHTTP, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedProtocol, raw)
	}
}

// ImageInput carries the caller-supplied encoded images. Exactly one of the
// two fields is expected: Base64Image for a single image or Base64Images for
// several. The JSON keys match the wire contract of the ingestion API.
type ImageInput struct {
	Base64Image  string   `json:"base64_image,omitempty"`
	Base64Images []string `json:"base64_images,omitempty"`
}

// Encoded flattens the input into an ordered list of base64 strings.
func (in ImageInput) Encoded() ([]string, error) {
	if len(in.Base64Images) > 0 {
		return in.Base64Images, nil
	}
	if in.Base64Image != "" {
		return []string{in.Base64Image}, nil
	}
	return nil, ErrMissingInput
}

// GenerationParams tune the text-protocol sampling behavior. Zero values are
// replaced with the Deplot service defaults.
type GenerationParams struct {
	MaxTokens   int
	Temperature float64
	TopP        float64
}

const (
	defaultMaxTokens   = 500
	defaultTemperature = 0.5
	defaultTopP        = 0.9
)

func (p GenerationParams) withDefaults() GenerationParams {
	if p.MaxTokens <= 0 {
		p.MaxTokens = defaultMaxTokens
	}
	if p.Temperature <= 0 {
		p.Temperature = defaultTemperature
	}
	if p.TopP <= 0 {
		p.TopP = defaultTopP
	}
	return p
}

// ChatMessage is a single message in a text-protocol payload.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatPayload is the JSON-serializable request body for the text protocol.
type ChatPayload struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p"`
}

// ChatChoice is one completion candidate in a text-protocol response.
type ChatChoice struct {
	Index   int         `json:"index"`
	Message ChatMessage `json:"message"`
}

// ChatResponse is the decoded text-protocol reply.
type ChatResponse struct {
	Choices []ChatChoice `json:"choices"`
}

// TensorOutput is one element of a binary-protocol reply. Exactly one of the
// fields is populated: Chunks for a list-of-bytes element, Raw for a single
// byte-string, Text for an element the transport already decoded.
type TensorOutput struct {
	Chunks [][]byte
	Raw    []byte
	Text   string
}

// TensorResponse is the raw binary-protocol reply, one output per batch element.
type TensorResponse struct {
	Outputs []TensorOutput
}

// Request is a single physical inference request produced by Format. Exactly
// one field is non-nil, matching the protocol the request was formatted for.
type Request struct {
	Tensor  *Tensor
	Payload *ChatPayload
}

// Response is a raw inference reply handed to Parse. Exactly one field is
// non-nil, matching the protocol the call was made with.
type Response struct {
	Tensor *TensorResponse
	Chat   *ChatResponse
}

// ModelInterface is the four-stage adapter contract shared by the NIM model
// integrations. Implementations are stateless: every method is a pure
// function of its inputs, so a single instance may serve concurrent calls.
type ModelInterface interface {
	Name() string
	Prepare(ctx context.Context, in ImageInput) (*Prepared, error)
	Format(prep *Prepared, opts FormatOptions) ([]Request, error)
	Parse(resp Response, protocol Protocol) ([]string, error)
	Postprocess(results []string) []string
}

// FormatOptions select the wire protocol and batching behavior for Format.
type FormatOptions struct {
	Protocol     Protocol
	MaxBatchSize int
	Generation   GenerationParams
}

func chunkStrings(list []string, size int) [][]string {
	if size <= 0 {
		size = 1
	}
	chunks := make([][]string, 0, (len(list)+size-1)/size)
	for start := 0; start < len(list); start += size {
		end := start + size
		if end > len(list) {
			end = len(list)
		}
		chunks = append(chunks, list[start:end])
	}
	return chunks
}
