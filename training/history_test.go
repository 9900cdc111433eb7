package training

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/plot/vg"
)

func TestHistoryRecords(t *testing.T) {
	h := NewHistory()
	h.AddTrain(0, 0.7)
	h.AddTrain(1, 0.5)
	h.AddValid(1, 0.6)

	assert.Equal(t, []Point{{0, 0.7}, {1, 0.5}}, h.Train())
	assert.Equal(t, []Point{{1, 0.6}}, h.Valid())

	// returned slices are copies
	h.Train()[0].Loss = 9
	assert.Equal(t, 0.7, h.Train()[0].Loss)
}

func TestHistoryWriteSVG(t *testing.T) {
	h := NewHistory()
	for e, l := range []float64{0.9, 0.6, 0.4} {
		h.AddTrain(e, l)
		h.AddValid(e, l+0.1)
	}
	var buf bytes.Buffer
	require.NoError(t, h.WriteSVG(&buf, 4*vg.Inch, 3*vg.Inch))
	assert.Contains(t, buf.String(), "<svg")

	path := filepath.Join(t.TempDir(), "loss.svg")
	require.NoError(t, h.Save(path))
	assert.FileExists(t, path)

	// an empty history still renders
	buf.Reset()
	require.NoError(t, NewHistory().WriteSVG(&buf, 4*vg.Inch, 3*vg.Inch))
}
