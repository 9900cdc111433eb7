package submission

import (
	"encoding/csv"
	"encoding/json"
	"image"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/hal2001/data-science-bowl-2018/dataset/datasettest"
	"github.com/hal2001/data-science-bowl-2018/masks"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeRLEColumnMajor(t *testing.T) {
	m := masks.New(3, 2)
	m.Pix[1*m.Stride+0] = masks.On // x=0 y=1 -> 2
	m.Pix[0*m.Stride+1] = masks.On // x=1 y=0 -> 3
	m.Pix[1*m.Stride+1] = masks.On // x=1 y=1 -> 4
	m.Pix[1*m.Stride+2] = masks.On // x=2 y=1 -> 6
	assert.Equal(t, "2 3 6 1", EncodeRLE(m))
	assert.Equal(t, "", EncodeRLE(masks.New(3, 2)))
}

func TestRLERoundTrip(t *testing.T) {
	for _, m := range []*image.Gray{
		datasettest.Square(7, 5, 1, 1, 3),
		datasettest.Square(7, 5, 5, 3, 4),
		datasettest.Square(4, 4, 0, 0, 4),
	} {
		b := m.Bounds()
		got, err := DecodeRLE(EncodeRLE(m), b.Dx(), b.Dy())
		require.NoError(t, err)
		assert.Equal(t, m.Pix, got.Pix)
	}

	_, err := DecodeRLE("1", 2, 2)
	assert.Error(t, err)
	_, err = DecodeRLE("4 2", 2, 2)
	assert.Error(t, err)
	_, err = DecodeRLE("a 1", 2, 2)
	assert.Error(t, err)
}

func TestSubmissionSave(t *testing.T) {
	base := t.TempDir()
	s, err := New(base, "run1")
	require.NoError(t, err)

	require.NoError(t, s.SaveImage("img1", image.NewRGBA(image.Rect(0, 0, 4, 4))))
	_, err = os.Stat(filepath.Join(base, "run1", "images", "img1.png"))
	require.NoError(t, err)

	s.AddResult("img1", []*image.Gray{
		datasettest.Square(4, 4, 0, 0, 2),
		datasettest.Square(4, 4, 2, 2, 2),
	})
	s.AddResult("img2", nil)
	s.AddResult("img3", []*image.Gray{masks.New(4, 4)})

	m, err := s.Save()
	require.NoError(t, err)
	assert.Equal(t, 3, m.Images)
	assert.Equal(t, 2, m.Instances)
	assert.Equal(t, 2, m.Empty)
	assert.NotEmpty(t, m.RunID)

	f, err := os.Open(filepath.Join(base, "run1", "submission_run1.csv"))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"ImageId", "EncodedPixels"},
		{"img1", "1 2 5 2"},
		{"img1", "11 2 15 2"},
		{"img2", ""},
		{"img3", ""},
	}, rows)

	data, err := os.ReadFile(filepath.Join(base, "run1", "manifest.json"))
	require.NoError(t, err)
	var got Manifest
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, m.RunID, got.RunID)
	assert.Equal(t, "submission_run1.csv", got.CSV)
}

func TestAddResultReplaces(t *testing.T) {
	s, err := New(t.TempDir(), "r")
	require.NoError(t, err)
	s.AddResult("a", nil)
	s.AddResult("a", []*image.Gray{datasettest.Square(2, 2, 0, 0, 1)})
	m, err := s.Save()
	require.NoError(t, err)
	assert.Equal(t, 1, m.Images)
	assert.Equal(t, 1, m.Instances)

	_, err = New(t.TempDir(), "")
	assert.Error(t, err)
}

type failingCloser struct {
	bytes int
}

func (c *failingCloser) Write(p []byte) (int, error) {
	c.bytes += len(p)
	return len(p), nil
}

func (c *failingCloser) Close() error { return errors.New("disk full") }

func TestSaveReportsCloseError(t *testing.T) {
	s, err := New(t.TempDir(), "r")
	require.NoError(t, err)
	out := &failingCloser{}
	s.create = func(string) (io.WriteCloser, error) { return out, nil }
	s.AddResult("a", []*image.Gray{datasettest.Square(2, 2, 0, 0, 1)})

	_, err = s.Save()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Contains(t, err.Error(), "submission_r.csv")
	assert.Positive(t, out.bytes)

	_, err = os.Stat(filepath.Join(s.Dir(), "manifest.json"))
	assert.True(t, os.IsNotExist(err))
}
