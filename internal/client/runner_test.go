package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ingestkit/docbridge/internal/imageproc"
	"github.com/ingestkit/docbridge/internal/nim"
)

type fakeTensorTransport struct {
	calls []*nim.Tensor
}

func (f *fakeTensorTransport) Infer(ctx context.Context, model string, tensor *nim.Tensor) (*nim.TensorResponse, error) {
	f.calls = append(f.calls, tensor)
	outputs := make([]nim.TensorOutput, tensor.Batch())
	for i := range outputs {
		outputs[i] = nim.TensorOutput{Text: fmt.Sprintf("batch%d item%d", len(f.calls), i)}
	}
	return &nim.TensorResponse{Outputs: outputs}, nil
}

func encodedSquare(t *testing.T, side int) string {
	t.Helper()
	img := imageproc.Image{
		Pix:      make([]uint8, side*side*3),
		Width:    side,
		Height:   side,
		Channels: 3,
	}
	b64, err := img.EncodePNGBase64()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return b64
}

func TestRunnerGRPCChunksAndPreservesOrder(t *testing.T) {
	b64 := encodedSquare(t, 4)
	transport := &fakeTensorTransport{}
	r, err := NewRunner(RunnerOptions{
		Model:        nim.NewDeplot(nim.DeplotOptions{}),
		Protocol:     nim.ProtocolGRPC,
		Tensors:      transport,
		MaxBatchSize: 2,
	})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	results, err := r.Run(context.Background(), nim.ImageInput{Base64Images: []string{b64, b64, b64}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(transport.calls) != 2 {
		t.Fatalf("expected 2 transport calls, got %d", len(transport.calls))
	}
	if transport.calls[0].Batch() != 2 || transport.calls[1].Batch() != 1 {
		t.Fatalf("unexpected batch sizes: %d, %d", transport.calls[0].Batch(), transport.calls[1].Batch())
	}
	want := []string{"batch1 item0", "batch1 item1", "batch2 item0"}
	if len(results) != len(want) {
		t.Fatalf("got %d results, want %d", len(results), len(want))
	}
	for i := range want {
		if results[i] != want[i] {
			t.Fatalf("result %d = %q, want %q", i, results[i], want[i])
		}
	}
}

func TestRunnerHTTPEndToEnd(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(nim.ChatResponse{Choices: []nim.ChatChoice{
			{Message: nim.ChatMessage{Content: fmt.Sprintf("table %d", calls)}},
		}})
	}))
	defer srv.Close()

	chat, err := NewChatClient(ChatOptions{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new chat client: %v", err)
	}
	r, err := NewRunner(RunnerOptions{
		Model:        nim.NewDeplot(nim.DeplotOptions{}),
		Protocol:     nim.ProtocolHTTP,
		Chat:         chat,
		MaxBatchSize: 1,
	})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	b64 := encodedSquare(t, 2)
	results, err := r.Run(context.Background(), nim.ImageInput{Base64Images: []string{b64, b64}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 requests, got %d", calls)
	}
	if len(results) != 2 || results[0] != "table 1" || results[1] != "table 2" {
		t.Fatalf("unexpected results %v", results)
	}
}

func TestNewRunnerWiring(t *testing.T) {
	deplot := nim.NewDeplot(nim.DeplotOptions{})
	if _, err := NewRunner(RunnerOptions{Protocol: nim.ProtocolHTTP}); err == nil {
		t.Fatal("expected error for missing model")
	}
	if _, err := NewRunner(RunnerOptions{Model: deplot, Protocol: nim.ProtocolHTTP}); err == nil {
		t.Fatal("expected error for missing chat client")
	}
	if _, err := NewRunner(RunnerOptions{Model: deplot, Protocol: nim.ProtocolGRPC}); err == nil {
		t.Fatal("expected error for missing tensor transport")
	}
	if _, err := NewRunner(RunnerOptions{Model: deplot, Protocol: nim.Protocol("smoke-signal")}); err == nil {
		t.Fatal("expected error for unknown protocol")
	}
}
