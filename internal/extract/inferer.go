package extract

import (
	"context"
	"fmt"

	"github.com/ingestkit/docbridge/internal/imageproc"
	"github.com/ingestkit/docbridge/internal/nim"
)

// ModelRunner drives a model adapter over a set of encoded images; the
// inference client's runner satisfies it.
type ModelRunner interface {
	Run(ctx context.Context, in nim.ImageInput) ([]string, error)
}

// RunnerInferer adapts a ModelRunner to the PageInferer contract by encoding
// page rasters back to PNG before submission.
type RunnerInferer struct {
	runner ModelRunner
}

func NewRunnerInferer(runner ModelRunner) *RunnerInferer {
	return &RunnerInferer{runner: runner}
}

func (r *RunnerInferer) InferPages(ctx context.Context, pages []imageproc.Image) ([]string, error) {
	encoded := make([]string, len(pages))
	for i, page := range pages {
		b64, err := page.EncodePNGBase64()
		if err != nil {
			return nil, fmt.Errorf("encode page %d: %w", i, err)
		}
		encoded[i] = b64
	}
	return r.runner.Run(ctx, nim.ImageInput{Base64Images: encoded})
}
