package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ingestkit/docbridge/internal/nim"
)

// TensorTransport carries a float32 image batch to an inference server and
// returns the raw text outputs, one per batch element.
type TensorTransport interface {
	Infer(ctx context.Context, model string, tensor *nim.Tensor) (*nim.TensorResponse, error)
}

// KServeOptions configure the KServe v2 HTTP transport.
type KServeOptions struct {
	BaseURL    string
	InputName  string
	OutputName string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// KServeTransport speaks the KServe v2 inference protocol over HTTP/JSON.
// Float tensors go out flattened row-major with their shape; BYTES outputs
// come back as strings.
type KServeTransport struct {
	baseURL    string
	inputName  string
	outputName string
	httpClient *http.Client
}

// NewKServeTransport creates a tensor transport for the given server.
func NewKServeTransport(opts KServeOptions) (*KServeTransport, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("client: base url required")
	}
	inputName := opts.InputName
	if inputName == "" {
		inputName = "input"
	}
	outputName := opts.OutputName
	if outputName == "" {
		outputName = "output"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &KServeTransport{
		baseURL:    baseURL,
		inputName:  inputName,
		outputName: outputName,
		httpClient: httpClient,
	}, nil
}

type kserveTensor struct {
	Name     string    `json:"name"`
	Datatype string    `json:"datatype"`
	Shape    []int     `json:"shape"`
	Data     []float32 `json:"data"`
}

type kserveRequest struct {
	Inputs []kserveTensor `json:"inputs"`
}

type kserveOutput struct {
	Name     string          `json:"name"`
	Datatype string          `json:"datatype"`
	Shape    []int           `json:"shape"`
	Data     json.RawMessage `json:"data"`
}

type kserveResponse struct {
	Outputs []kserveOutput `json:"outputs"`
}

// Infer posts one batch and decodes the server's BYTES output into per-item
// text results.
func (t *KServeTransport) Infer(ctx context.Context, model string, tensor *nim.Tensor) (*nim.TensorResponse, error) {
	reqPayload := kserveRequest{Inputs: []kserveTensor{{
		Name:     t.inputName,
		Datatype: "FP32",
		Shape:    tensor.Shape[:],
		Data:     tensor.Data,
	}}}
	body, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("client: marshal tensor request: %w", err)
	}

	url := fmt.Sprintf("%s/v2/models/%s/infer", t.baseURL, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("client: build tensor request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: post tensor request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("client: tensor infer status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed kserveResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("client: decode tensor response: %w", err)
	}

	var out *kserveOutput
	for i := range parsed.Outputs {
		if parsed.Outputs[i].Name == t.outputName {
			out = &parsed.Outputs[i]
			break
		}
	}
	if out == nil {
		if len(parsed.Outputs) == 0 {
			return nil, errors.New("client: tensor response has no outputs")
		}
		out = &parsed.Outputs[0]
	}

	var texts []string
	if err := json.Unmarshal(out.Data, &texts); err != nil {
		return nil, fmt.Errorf("client: decode tensor output data: %w", err)
	}

	result := &nim.TensorResponse{Outputs: make([]nim.TensorOutput, len(texts))}
	for i, text := range texts {
		result.Outputs[i] = nim.TensorOutput{Text: text}
	}
	return result, nil
}
