package masks

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func square(w, h int, r image.Rectangle) *image.Gray {
	m := New(w, h)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			m.SetGray(x, y, color.Gray{Y: On})
		}
	}
	return m
}

func TestAreaAndBounds(t *testing.T) {
	m := square(10, 8, image.Rect(2, 3, 5, 7))
	assert.Equal(t, 12, Area(m))
	assert.Equal(t, image.Rect(2, 3, 5, 7), Bounds(m))
	assert.True(t, Bounds(New(4, 4)).Empty())
}

func TestFromImageBinarizes(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 3, 1))
	src.Set(1, 0, color.RGBA{R: 10, G: 10, B: 10, A: 255})
	m := FromImage(src)
	assert.Equal(t, []uint8{0, On, 0}, m.Pix)
}

func TestResizeExactSize(t *testing.T) {
	m := square(16, 16, image.Rect(0, 0, 8, 8))
	for _, size := range [][2]int{{7, 13}, {32, 5}, {16, 16}, {1, 1}} {
		r := Resize(m, size[0], size[1])
		assert.Equal(t, size[0], r.Rect.Dx())
		assert.Equal(t, size[1], r.Rect.Dy())
		for _, v := range r.Pix {
			assert.True(t, v == 0 || v == On)
		}
	}

	up := Resize(m, 32, 32)
	assert.Equal(t, 4*Area(m), Area(up))
}

func TestUnionResizesMembers(t *testing.T) {
	a := square(4, 4, image.Rect(0, 0, 2, 2))
	b := square(8, 8, image.Rect(4, 4, 8, 8))
	u := Union([]*image.Gray{a, b}, 4, 4)
	assert.Equal(t, 8, Area(u))
}

func TestLabelSplitsComponents(t *testing.T) {
	w, h := 6, 4
	prob := make([]float32, w*h)
	set := func(x, y int) { prob[y*w+x] = 0.9 }
	// component A: 2x2 block
	set(0, 0)
	set(1, 0)
	set(0, 1)
	set(1, 1)
	// component B: diagonal neighbours are not 4-connected
	set(4, 2)
	set(5, 3)
	// below threshold
	prob[3*w+0] = 0.5

	got := Label(prob, w, h, 0.5, 1)
	require.Len(t, got, 3)
	assert.Equal(t, 4, Area(got[0]))

	got = Label(prob, w, h, 0.5, 2)
	require.Len(t, got, 1)
	assert.Equal(t, image.Rect(0, 0, 2, 2), Bounds(got[0]))
}
