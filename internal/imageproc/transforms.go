// Package imageproc holds the raster transforms shared by the inference
// adapters and the layout extractor: base64 decode/encode, padding and
// scaling to a model's render target, and region cropping.
package imageproc

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	"image/png"
	"strings"

	xdraw "golang.org/x/image/draw"
)

// Image is an interleaved (H, W, C) uint8 raster. Channels is 3 (RGB) for
// everything the decoders produce.
type Image struct {
	Pix      []uint8
	Height   int
	Width    int
	Channels int
}

// Dims returns the (H, W, C) tuple.
func (m Image) Dims() [3]int { return [3]int{m.Height, m.Width, m.Channels} }

// DecodeBase64 decodes a base64-encoded PNG or JPEG into an RGB raster.
// A leading data-URI prefix is tolerated and stripped.
func DecodeBase64(encoded string) (Image, error) {
	trimmed := strings.TrimSpace(encoded)
	if idx := strings.Index(trimmed, ","); idx >= 0 && strings.HasPrefix(trimmed, "data:") {
		trimmed = trimmed[idx+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return Image{}, fmt.Errorf("decode base64 image: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return Image{}, fmt.Errorf("decode image bytes: %w", err)
	}
	return FromStdImage(img), nil
}

// FromStdImage flattens a standard library image into an RGB raster.
func FromStdImage(img image.Image) Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := Image{
		Pix:      make([]uint8, h*w*3),
		Height:   h,
		Width:    w,
		Channels: 3,
	}
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			out.Pix[i] = uint8(r >> 8)
			out.Pix[i+1] = uint8(g >> 8)
			out.Pix[i+2] = uint8(b >> 8)
			i += 3
		}
	}
	return out
}

// ToStdImage converts an RGB raster back into an *image.RGBA.
func (m Image) ToStdImage() *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, m.Width, m.Height))
	i := 0
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			out.SetRGBA(x, y, color.RGBA{R: m.Pix[i], G: m.Pix[i+1], B: m.Pix[i+2], A: 0xff})
			i += 3
		}
	}
	return out
}

// EncodePNGBase64 re-encodes a raster as a base64 PNG string.
func (m Image) EncodePNGBase64() (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, m.ToStdImage()); err != nil {
		return "", fmt.Errorf("encode png: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Crop returns the sub-raster bounded by (x0, y0, x1, y1), clamped to the
// image extent. An empty intersection yields a zero-size image.
func (m Image) Crop(x0, y0, x1, y1 int) Image {
	x0 = clamp(x0, 0, m.Width)
	x1 = clamp(x1, 0, m.Width)
	y0 = clamp(y0, 0, m.Height)
	y1 = clamp(y1, 0, m.Height)
	if x1 <= x0 || y1 <= y0 {
		return Image{Channels: m.Channels}
	}
	w := x1 - x0
	h := y1 - y0
	out := Image{
		Pix:      make([]uint8, h*w*m.Channels),
		Height:   h,
		Width:    w,
		Channels: m.Channels,
	}
	for y := 0; y < h; y++ {
		srcStart := ((y0+y)*m.Width + x0) * m.Channels
		copy(out.Pix[y*w*m.Channels:(y+1)*w*m.Channels], m.Pix[srcStart:srcStart+w*m.Channels])
	}
	return out
}

// PadAndScale fits the raster into a (targetW, targetH) canvas, preserving
// aspect ratio and centering on a white background. It returns the padded
// raster together with the (x, y) offset of the scaled content, which callers
// need to map model coordinates back to the native page space.
func PadAndScale(m Image, targetW, targetH int) (Image, int, int) {
	if m.Width == 0 || m.Height == 0 {
		return m, 0, 0
	}
	scale := minFloat(float64(targetW)/float64(m.Width), float64(targetH)/float64(m.Height))
	scaledW := int(float64(m.Width) * scale)
	scaledH := int(float64(m.Height) * scale)
	if scaledW <= 0 {
		scaledW = 1
	}
	if scaledH <= 0 {
		scaledH = 1
	}
	offsetX := (targetW - scaledW) / 2
	offsetY := (targetH - scaledH) / 2

	canvas := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	dst := image.Rect(offsetX, offsetY, offsetX+scaledW, offsetY+scaledH)
	src := m.ToStdImage()
	xdraw.CatmullRom.Scale(canvas, dst, src, src.Bounds(), xdraw.Over, nil)

	return FromStdImage(canvas), offsetX, offsetY
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
