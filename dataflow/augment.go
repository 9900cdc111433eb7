package dataflow

import (
	"image"
	"math/rand"

	"golang.org/x/image/draw"
)

// Augment controls the random transforms applied to training samples.
type Augment struct {
	MinCropScale float64 // smallest crop side as a fraction of the image side
	FlipH        bool
	FlipV        bool
}

// DefaultAugment returns the training augmentation.
func DefaultAugment() Augment {
	return Augment{MinCropScale: 0.6, FlipH: true, FlipV: true}
}

// transform is one draw of the augmentation for a sample.
type transform struct {
	crop         image.Rectangle
	flipH, flipV bool
}

func (a Augment) draw(rng *rand.Rand, b image.Rectangle) transform {
	t := transform{crop: b}
	if a.MinCropScale > 0 && a.MinCropScale < 1 {
		s := a.MinCropScale + rng.Float64()*(1-a.MinCropScale)
		w := max(1, int(float64(b.Dx())*s))
		h := max(1, int(float64(b.Dy())*s))
		x := b.Min.X + rng.Intn(b.Dx()-w+1)
		y := b.Min.Y + rng.Intn(b.Dy()-h+1)
		t.crop = image.Rect(x, y, x+w, y+h)
	}
	t.flipH = a.FlipH && rng.Intn(2) == 1
	t.flipV = a.FlipV && rng.Intn(2) == 1
	return t
}

// imageToCHW scales the sr part of src to w x h and writes it to dst as
// normalized CHW planes with the given number of channels.
func imageToCHW(src image.Image, sr image.Rectangle, w, h, channels int, dst []float32) {
	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(rgba, rgba.Bounds(), src, sr, draw.Src, nil)
	hw := w * h
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := rgba.Pix[y*rgba.Stride+4*x:]
			for c := 0; c < channels; c++ {
				dst[c*hw+y*w+x] = float32(p[c]) / 255
			}
		}
	}
}

// maskToPlane scales the sr part of m to w x h and writes it to dst as a
// {0,1} plane.
func maskToPlane(m *image.Gray, sr image.Rectangle, w, h int, dst []float32) {
	g := image.NewGray(image.Rect(0, 0, w, h))
	draw.NearestNeighbor.Scale(g, g.Bounds(), m, sr, draw.Src, nil)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if g.Pix[y*g.Stride+x] != 0 {
				dst[y*w+x] = 1
			} else {
				dst[y*w+x] = 0
			}
		}
	}
}

// flip mirrors every w x h plane of data in place.
func flip(data []float32, w, h int, horizontal, vertical bool) {
	hw := w * h
	for off := 0; off+hw <= len(data); off += hw {
		plane := data[off : off+hw]
		if horizontal {
			for y := 0; y < h; y++ {
				row := plane[y*w : (y+1)*w]
				for i, j := 0, w-1; i < j; i, j = i+1, j-1 {
					row[i], row[j] = row[j], row[i]
				}
			}
		}
		if vertical {
			for i, j := 0, h-1; i < j; i, j = i+1, j-1 {
				for x := 0; x < w; x++ {
					plane[i*w+x], plane[j*w+x] = plane[j*w+x], plane[i*w+x]
				}
			}
		}
	}
}
