package nim

import (
	"fmt"

	"github.com/ingestkit/docbridge/internal/imageproc"
)

// Tensor is a batched image array of shape (B, H, W, C) with pixel values
// normalized to [0, 1] as float32, the request form of the binary protocol.
type Tensor struct {
	Data  []float32
	Shape [4]int
}

// Batch returns the batch dimension B.
func (t *Tensor) Batch() int { return t.Shape[0] }

// Dims returns the per-image dimensions (H, W, C).
func (t *Tensor) Dims() [3]int { return [3]int{t.Shape[1], t.Shape[2], t.Shape[3]} }

// tensorFromImage promotes a single (H, W, C) image to a batch-of-one tensor,
// casting to float32 and scaling by 1/255.
func tensorFromImage(img imageproc.Image) *Tensor {
	data := make([]float32, len(img.Pix))
	for i, p := range img.Pix {
		data[i] = float32(p) / 255.0
	}
	return &Tensor{
		Data:  data,
		Shape: [4]int{1, img.Height, img.Width, img.Channels},
	}
}

// concatBatch concatenates batch-of-one tensors along the batch axis. All
// inputs must share identical (H, W, C); callers verify that beforehand.
func concatBatch(chunk []*Tensor) *Tensor {
	if len(chunk) == 1 {
		return chunk[0]
	}
	total := 0
	batch := 0
	for _, t := range chunk {
		total += len(t.Data)
		batch += t.Batch()
	}
	out := &Tensor{
		Data:  make([]float32, 0, total),
		Shape: [4]int{batch, chunk[0].Shape[1], chunk[0].Shape[2], chunk[0].Shape[3]},
	}
	for _, t := range chunk {
		out.Data = append(out.Data, t.Data...)
	}
	return out
}

func verifySameDims(tensors []*Tensor) error {
	if len(tensors) == 0 {
		return nil
	}
	first := tensors[0].Dims()
	for _, t := range tensors[1:] {
		if t.Dims() != first {
			return fmt.Errorf("%w: found %v and %v", ErrShapeMismatch, first, t.Dims())
		}
	}
	return nil
}
