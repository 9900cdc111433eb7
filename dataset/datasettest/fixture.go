// Package datasettest writes small synthetic nuclei datasets for tests.
package datasettest

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// Layout describes a synthetic dataset. Every train image carries two
// square nuclei; test images carry one.
type Layout struct {
	Train  int
	Test   int
	Width  int
	Height int
}

// ID returns the sample id used for the i-th sample of a split.
func ID(split string, i int) string {
	return fmt.Sprintf("%s%03d", split, i)
}

// Write creates the layout under root and returns root.
func Write(t testing.TB, root string, l Layout) string {
	t.Helper()
	for i := 0; i < l.Train; i++ {
		id := ID("train", i)
		dir := filepath.Join(root, "stage1_train", id)
		writePNG(t, filepath.Join(dir, "images", id+".png"), nuclei(l.Width, l.Height, i, true))
		writePNG(t, filepath.Join(dir, "masks", "a.png"), Square(l.Width, l.Height, 1, 1, l.Width/3))
		writePNG(t, filepath.Join(dir, "masks", "b.png"), Square(l.Width, l.Height, l.Width/2, l.Height/2, l.Width/3))
	}
	for i := 0; i < l.Test; i++ {
		id := ID("test", i)
		writePNG(t, filepath.Join(root, "stage1_test", id, "images", id+".png"), nuclei(l.Width, l.Height, i, false))
	}
	return root
}

// Square returns a w x h mask with a set side x side square at (x0, y0).
func Square(w, h, x0, y0, side int) *image.Gray {
	m := image.NewGray(image.Rect(0, 0, w, h))
	for y := y0; y < y0+side && y < h; y++ {
		for x := x0; x < x0+side && x < w; x++ {
			m.SetGray(x, y, color.Gray{Y: 255})
		}
	}
	return m
}

func nuclei(w, h, seed int, two bool) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{uint8(seed), 0, 0, 255})
		}
	}
	paint := func(m *image.Gray) {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				if m.GrayAt(x, y).Y != 0 {
					img.SetRGBA(x, y, color.RGBA{220, 220, 220, 255})
				}
			}
		}
	}
	paint(Square(w, h, 1, 1, w/3))
	if two {
		paint(Square(w, h, w/2, h/2, w/3))
	}
	return img
}

func writePNG(t testing.TB, path string, img image.Image) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}
