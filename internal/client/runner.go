package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/ingestkit/docbridge/internal/nim"
)

// RunnerOptions wire a model adapter to its transports. Chat serves the text
// protocol and Tensors serves the binary protocol; only the one matching the
// configured protocol is required.
type RunnerOptions struct {
	Model    nim.ModelInterface
	Protocol nim.Protocol
	Chat     *ChatClient
	Tensors  TensorTransport

	// MaxBatchSize caps images per request. Zero means no chunking beyond
	// one request for the whole input.
	MaxBatchSize int
	Generation   nim.GenerationParams
}

// Runner drives a model adapter through its full cycle: prepare the input,
// format protocol requests, send each batch in order, parse the replies, and
// postprocess the concatenated results.
type Runner struct {
	model        nim.ModelInterface
	protocol     nim.Protocol
	chat         *ChatClient
	tensors      TensorTransport
	maxBatchSize int
	generation   nim.GenerationParams
}

// NewRunner validates the transport wiring for the chosen protocol.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Model == nil {
		return nil, errors.New("client: model adapter required")
	}
	switch opts.Protocol {
	case nim.ProtocolGRPC:
		if opts.Tensors == nil {
			return nil, errors.New("client: tensor transport required for grpc protocol")
		}
	case nim.ProtocolHTTP:
		if opts.Chat == nil {
			return nil, errors.New("client: chat client required for http protocol")
		}
	default:
		return nil, fmt.Errorf("%w: %q", nim.ErrUnsupportedProtocol, opts.Protocol)
	}
	maxBatchSize := opts.MaxBatchSize
	if maxBatchSize <= 0 {
		maxBatchSize = 1
	}
	return &Runner{
		model:        opts.Model,
		protocol:     opts.Protocol,
		chat:         opts.Chat,
		tensors:      opts.Tensors,
		maxBatchSize: maxBatchSize,
		generation:   opts.Generation,
	}, nil
}

// Run infers over the given images and returns one result string per input
// image, in input order.
func (r *Runner) Run(ctx context.Context, in nim.ImageInput) ([]string, error) {
	prep, err := r.model.Prepare(ctx, in)
	if err != nil {
		return nil, err
	}
	requests, err := r.model.Format(prep, nim.FormatOptions{
		Protocol:     r.protocol,
		MaxBatchSize: r.maxBatchSize,
		Generation:   r.generation,
	})
	if err != nil {
		return nil, err
	}

	var results []string
	for i, req := range requests {
		resp, err := r.send(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", i, err)
		}
		parsed, err := r.model.Parse(resp, r.protocol)
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", i, err)
		}
		results = append(results, parsed...)
	}
	return r.model.Postprocess(results), nil
}

func (r *Runner) send(ctx context.Context, req nim.Request) (nim.Response, error) {
	switch {
	case req.Tensor != nil:
		tensorResp, err := r.tensors.Infer(ctx, r.model.Name(), req.Tensor)
		if err != nil {
			return nim.Response{}, err
		}
		return nim.Response{Tensor: tensorResp}, nil
	case req.Payload != nil:
		chatResp, err := r.chat.Infer(ctx, req.Payload)
		if err != nil {
			return nim.Response{}, err
		}
		return nim.Response{Chat: chatResp}, nil
	default:
		return nim.Response{}, errors.New("client: request carries no body")
	}
}
