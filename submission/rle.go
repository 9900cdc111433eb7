package submission

import (
	"image"
	"strconv"
	"strings"

	"github.com/hal2001/data-science-bowl-2018/masks"
	"github.com/pkg/errors"
)

// EncodeRLE run-length encodes a mask in the leaderboard format: pixels are
// numbered top to bottom, then left to right, starting at 1, and each run is
// written as "start length".
func EncodeRLE(m *image.Gray) string {
	b := m.Bounds()
	h := b.Dy()
	var parts []string
	start, run := 0, 0
	for x := 0; x < b.Dx(); x++ {
		for y := 0; y < h; y++ {
			pos := x*h + y + 1
			if m.GrayAt(b.Min.X+x, b.Min.Y+y).Y != 0 {
				if run == 0 {
					start = pos
				}
				run++
				continue
			}
			if run > 0 {
				parts = append(parts, strconv.Itoa(start), strconv.Itoa(run))
				run = 0
			}
		}
	}
	if run > 0 {
		parts = append(parts, strconv.Itoa(start), strconv.Itoa(run))
	}
	return strings.Join(parts, " ")
}

// DecodeRLE is the inverse of EncodeRLE for a w x h image.
func DecodeRLE(s string, w, h int) (*image.Gray, error) {
	m := masks.New(w, h)
	fields := strings.Fields(s)
	if len(fields)%2 != 0 {
		return nil, errors.Errorf("rle: odd number of values (%d)", len(fields))
	}
	for i := 0; i < len(fields); i += 2 {
		start, err := strconv.Atoi(fields[i])
		if err != nil {
			return nil, errors.Wrap(err, "rle start")
		}
		n, err := strconv.Atoi(fields[i+1])
		if err != nil {
			return nil, errors.Wrap(err, "rle length")
		}
		if start < 1 || n < 1 || start-1+n > w*h {
			return nil, errors.Errorf("rle: run %d+%d outside %dx%d", start, n, w, h)
		}
		for p := start - 1; p < start-1+n; p++ {
			x, y := p/h, p%h
			m.Pix[y*m.Stride+x] = masks.On
		}
	}
	return m, nil
}
