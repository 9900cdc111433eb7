package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hal2001/data-science-bowl-2018/dataset/datasettest"
	"github.com/hal2001/data-science-bowl-2018/masks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenIndexesSamples(t *testing.T) {
	root := datasettest.Write(t, t.TempDir(), datasettest.Layout{Train: 3, Test: 2, Width: 12, Height: 9})

	d, err := Open(root)
	require.NoError(t, err)
	require.Len(t, d.Train, 3)
	require.Len(t, d.Test, 2)
	assert.Equal(t, "train000", d.Train[0].ID)
	assert.Len(t, d.Train[0].MaskPaths, 2)
	assert.Empty(t, d.Test[1].MaskPaths)
	assert.Equal(t, filepath.Join(root, "stage1_test", "test001", "images", "test001.png"), d.Test[1].ImagePath)
}

func TestOpenWithoutTestSet(t *testing.T) {
	root := datasettest.Write(t, t.TempDir(), datasettest.Layout{Train: 1, Width: 6, Height: 6})
	d, err := Open(root)
	require.NoError(t, err)
	assert.Empty(t, d.Test)
}

func TestOpenErrors(t *testing.T) {
	_, err := Open(t.TempDir())
	assert.Error(t, err)

	root := datasettest.Write(t, t.TempDir(), datasettest.Layout{Train: 1, Width: 6, Height: 6})
	require.NoError(t, os.RemoveAll(filepath.Join(root, "stage1_train", "train000", "masks")))
	_, err = Open(root)
	assert.Error(t, err)
}

func TestSplit(t *testing.T) {
	d := &CellImageData{}
	for i := 0; i < 10; i++ {
		d.Train = append(d.Train, Sample{ID: datasettest.ID("s", i)})
	}

	train, valid, err := d.Split(0.2, 7)
	require.NoError(t, err)
	assert.Len(t, train, 8)
	assert.Len(t, valid, 2)

	seen := map[string]bool{}
	for _, s := range append(append([]Sample(nil), train...), valid...) {
		seen[s.ID] = true
	}
	assert.Len(t, seen, 10)

	again, _, err := d.Split(0.2, 7)
	require.NoError(t, err)
	assert.Equal(t, train, again)

	small := &CellImageData{Train: d.Train[:2]}
	train, valid, err = small.Split(0.1, 1)
	require.NoError(t, err)
	assert.Len(t, train, 1)
	assert.Len(t, valid, 1)

	_, _, err = d.Split(1, 1)
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	root := datasettest.Write(t, t.TempDir(), datasettest.Layout{Train: 1, Test: 1, Width: 12, Height: 9})
	d, err := Open(root)
	require.NoError(t, err)

	dec, err := Load(d.Train[0])
	require.NoError(t, err)
	assert.Equal(t, 9, dec.Height)
	assert.Equal(t, 12, dec.Width)
	require.Len(t, dec.Masks, 2)
	assert.Equal(t, 16, masks.Area(dec.Masks[0]))

	dec, err = Load(d.Test[0])
	require.NoError(t, err)
	assert.Empty(t, dec.Masks)

	_, err = Load(Sample{ID: "x", ImagePath: filepath.Join(root, "missing.png")})
	assert.Error(t, err)
}
