// Package masks holds helpers for binary instance masks. A mask is an
// *image.Gray anchored at the origin where any non-zero pixel is set.
package masks

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// On is the pixel value written for set pixels.
const On = 255

// New returns an empty w x h mask.
func New(w, h int) *image.Gray {
	return image.NewGray(image.Rect(0, 0, w, h))
}

// FromImage binarizes a decoded mask image. Any pixel with non-zero
// luminance is set.
func FromImage(img image.Image) *image.Gray {
	b := img.Bounds()
	m := New(b.Dx(), b.Dy())
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			g := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			if g.Y > 0 {
				m.Pix[y*m.Stride+x] = On
			}
		}
	}
	return m
}

// Area returns the number of set pixels.
func Area(m *image.Gray) int {
	n := 0
	for _, v := range m.Pix {
		if v != 0 {
			n++
		}
	}
	return n
}

// Bounds returns the tight bounding box of the set pixels, or the empty
// rectangle when no pixel is set.
func Bounds(m *image.Gray) image.Rectangle {
	w, h := m.Rect.Dx(), m.Rect.Dy()
	minX, minY, maxX, maxY := w, h, -1, -1
	for y := 0; y < h; y++ {
		row := m.Pix[y*m.Stride : y*m.Stride+w]
		for x, v := range row {
			if v == 0 {
				continue
			}
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			maxY = y
		}
	}
	if maxX < 0 {
		return image.Rectangle{}
	}
	return image.Rect(minX, minY, maxX+1, maxY+1)
}

// Union merges masks into a single w x h foreground mask. Masks of a
// different size are resized first.
func Union(ms []*image.Gray, w, h int) *image.Gray {
	u := New(w, h)
	for _, m := range ms {
		if m.Rect.Dx() != w || m.Rect.Dy() != h {
			m = Resize(m, w, h)
		}
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				if m.Pix[y*m.Stride+x] != 0 {
					u.Pix[y*u.Stride+x] = On
				}
			}
		}
	}
	return u
}

// Resize scales m to exactly w x h with nearest-neighbour sampling so the
// result stays binary.
func Resize(m *image.Gray, w, h int) *image.Gray {
	dst := New(w, h)
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), m, m.Bounds(), draw.Src, nil)
	return dst
}

// Label thresholds a w x h probability map and splits the foreground into
// 4-connected components. Components smaller than minArea are dropped.
func Label(prob []float32, w, h int, threshold float32, minArea int) []*image.Gray {
	labels := make([]int32, w*h)
	var out []*image.Gray
	var stack []int
	next := int32(0)
	for start := range prob {
		if prob[start] <= threshold || labels[start] != 0 {
			continue
		}
		next++
		labels[start] = next
		stack = append(stack[:0], start)
		component := []int{start}
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := p%w, p/w
			for _, q := range [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}} {
				if q[0] < 0 || q[0] >= w || q[1] < 0 || q[1] >= h {
					continue
				}
				i := q[1]*w + q[0]
				if labels[i] != 0 || prob[i] <= threshold {
					continue
				}
				labels[i] = next
				stack = append(stack, i)
				component = append(component, i)
			}
		}
		if len(component) < minArea {
			continue
		}
		m := New(w, h)
		for _, p := range component {
			m.Pix[(p/w)*m.Stride+p%w] = On
		}
		out = append(out, m)
	}
	return out
}
