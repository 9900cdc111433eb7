package network

import (
	"context"
	"image"
	"image/color"

	"github.com/hal2001/data-science-bowl-2018/masks"
	"github.com/hal2001/data-science-bowl-2018/tensor"
	"github.com/pkg/errors"
)

// InferenceConfig controls how probability maps become instances.
type InferenceConfig struct {
	Threshold float32 // foreground probability cut-off
	MinArea   int     // components smaller than this are dropped
}

// DefaultInferenceConfig returns the thresholds used by every variant.
func DefaultInferenceConfig() InferenceConfig {
	return InferenceConfig{
		Threshold: 0.5,
		MinArea:   10,
	}
}

// Infer predicts probabilities for images [N,C,H,W] and splits each
// foreground map into 4-connected instances.
func Infer(ctx context.Context, p Predictor, images *tensor.Tensor, cfg InferenceConfig) ([][]*image.Gray, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(images.Shape) != 4 {
		return nil, errors.Errorf("inference: expected NCHW images, got %v", images.Shape)
	}
	probs, err := p.Predict(ctx, images)
	if err != nil {
		return nil, errors.Wrap(err, "inference")
	}
	if len(probs.Shape) != 4 || probs.Shape[0] != images.Shape[0] || probs.Shape[1] != 1 {
		return nil, errors.Errorf("inference: unexpected prediction shape %v", probs.Shape)
	}
	h, w := probs.Shape[2], probs.Shape[3]
	out := make([][]*image.Gray, probs.Shape[0])
	for i := range out {
		out[i] = masks.Label(probs.Index(i).Data, w, h, cfg.Threshold, cfg.MinArea)
	}
	return out, nil
}

// ResizeInstances scales every instance to exactly w x h with
// nearest-neighbour sampling. Instances that vanish are dropped.
func ResizeInstances(instances []*image.Gray, h, w int) []*image.Gray {
	out := make([]*image.Gray, 0, len(instances))
	for _, m := range instances {
		r := masks.Resize(m, w, h)
		if masks.Area(r) > 0 {
			out = append(out, r)
		}
	}
	return out
}

// Palette used for instance overlays.
var palette = []color.RGBA{
	{230, 25, 75, 255}, {60, 180, 75, 255}, {255, 225, 25, 255}, {0, 130, 200, 255},
	{245, 130, 48, 255}, {145, 30, 180, 255}, {70, 240, 240, 255}, {240, 50, 230, 255},
	{210, 245, 60, 255}, {250, 190, 190, 255}, {0, 128, 128, 255}, {170, 110, 40, 255},
}

var outlineColor = color.RGBA{255, 255, 255, 255}

// ToRGBA converts a [C,H,W] image with values in [0,1] to an RGBA image.
// Single-channel images are rendered as gray.
func ToRGBA(img *tensor.Tensor) (*image.RGBA, error) {
	if len(img.Shape) != 3 || (img.Shape[0] != 1 && img.Shape[0] != 3) {
		return nil, errors.Errorf("visualize: expected [C,H,W] image with 1 or 3 channels, got %v", img.Shape)
	}
	c, h, w := img.Shape[0], img.Shape[1], img.Shape[2]
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var px [3]uint8
			for k := 0; k < 3; k++ {
				ch := k
				if c == 1 {
					ch = 0
				}
				px[k] = toByte(img.Data[(ch*h+y)*w+x])
			}
			out.SetRGBA(x, y, color.RGBA{px[0], px[1], px[2], 255})
		}
	}
	return out, nil
}

func toByte(v float32) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return 255
	}
	return uint8(v*255 + 0.5)
}

// Visualize blends instances over the image in distinct colors and draws
// ground-truth outlines when gt is given. Masks of a different size than
// the image are rescaled first.
func Visualize(img *tensor.Tensor, gt, instances []*image.Gray) (*image.RGBA, error) {
	out, err := ToRGBA(img)
	if err != nil {
		return nil, err
	}
	b := out.Bounds()
	for i, m := range instances {
		m = fit(m, b)
		c := palette[i%len(palette)]
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				if m.GrayAt(x, y).Y == 0 {
					continue
				}
				p := out.RGBAAt(x, y)
				out.SetRGBA(x, y, color.RGBA{blend(p.R, c.R), blend(p.G, c.G), blend(p.B, c.B), 255})
			}
		}
	}
	for _, m := range gt {
		m = fit(m, b)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				if onEdge(m, x, y) {
					out.SetRGBA(x, y, outlineColor)
				}
			}
		}
	}
	return out, nil
}

func fit(m *image.Gray, b image.Rectangle) *image.Gray {
	if m.Bounds().Size() == b.Size() {
		return m
	}
	return masks.Resize(m, b.Dx(), b.Dy())
}

func blend(a, b uint8) uint8 {
	return uint8((uint16(a) + uint16(b)) / 2)
}

// onEdge reports whether (x, y) is set and touches an unset 4-neighbour or
// the border.
func onEdge(m *image.Gray, x, y int) bool {
	if m.GrayAt(x, y).Y == 0 {
		return false
	}
	b := m.Bounds()
	for _, d := range [4]image.Point{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
		q := image.Pt(x+d.X, y+d.Y)
		if !q.In(b) || m.GrayAt(q.X, q.Y).Y == 0 {
			return true
		}
	}
	return false
}
