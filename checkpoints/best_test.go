package checkpoints

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stepSource struct {
	step  int
	calls int
}

func (s *stepSource) Checkpoint() (*Checkpoint, error) {
	s.calls++
	s.step++
	return &Checkpoint{TrainingState: TrainingState{Step: s.step, Epoch: s.step}}, nil
}

type failingSource struct{}

func (failingSource) Checkpoint() (*Checkpoint, error) {
	return nil, errors.New("boom")
}

func TestBestSaverKeepsOnlyImprovements(t *testing.T) {
	dir := t.TempDir()
	s, err := NewBestSaver(dir, 100, false)
	require.NoError(t, err)
	src := &stepSource{}

	for _, tc := range []struct {
		value float64
		saved bool
	}{
		{5, true},
		{3, true},
		{4, false},
		{3, false},
		{math.NaN(), false},
		{2, true},
	} {
		saved, err := s.Handle(tc.value, src)
		require.NoError(t, err)
		assert.Equal(t, tc.saved, saved, "value %v", tc.value)
	}
	assert.Equal(t, 3, src.calls)

	best, ok := s.Best()
	assert.True(t, ok)
	assert.Equal(t, 2.0, best)

	path, err := GetBestCheckpoint(dir, false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "model-3.ckpt"), path)

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2.0, c.TrainingState.Metric)

	path, err = GetBestCheckpoint(dir, true)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "model-1.ckpt"), path)
}

func TestBestSaverMaximize(t *testing.T) {
	s, err := NewBestSaver(t.TempDir(), 10, true)
	require.NoError(t, err)
	src := &stepSource{}
	for _, v := range []float64{0.1, 0.05, 0.3} {
		_, err := s.Handle(v, src)
		require.NoError(t, err)
	}
	assert.Len(t, s.Records(), 2)
	path, err := GetBestCheckpoint(s.Dir(), true)
	require.NoError(t, err)
	assert.Equal(t, "model-2.ckpt", filepath.Base(path))
}

func TestBestSaverEvictsOldest(t *testing.T) {
	dir := t.TempDir()
	s, err := NewBestSaver(dir, 2, false)
	require.NoError(t, err)
	src := &stepSource{}
	for _, v := range []float64{4, 3, 2, 1} {
		saved, err := s.Handle(v, src)
		require.NoError(t, err)
		require.True(t, saved)
	}

	records := s.Records()
	require.Len(t, records, 2)
	assert.Equal(t, 2.0, records[0].Value)
	assert.Equal(t, 1.0, records[1].Value)

	files, err := filepath.Glob(filepath.Join(dir, "model-*.ckpt"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(dir, "model-3.ckpt"),
		filepath.Join(dir, "model-4.ckpt"),
	}, files)
}

func TestBestSaverResumesFromIndex(t *testing.T) {
	dir := t.TempDir()
	s, err := NewBestSaver(dir, 5, false)
	require.NoError(t, err)
	src := &stepSource{}
	_, err = s.Handle(1.5, src)
	require.NoError(t, err)

	again, err := NewBestSaver(dir, 5, false)
	require.NoError(t, err)
	saved, err := again.Handle(2, src)
	require.NoError(t, err)
	assert.False(t, saved)

	_, err = NewBestSaver(dir, 5, true)
	assert.Error(t, err)
}

func TestBestSaverJSONFormat(t *testing.T) {
	dir := t.TempDir()
	s, err := NewBestSaver(dir, 5, false)
	require.NoError(t, err)
	s.SetFormat(FormatJSON)
	_, err = s.Handle(1, &stepSource{})
	require.NoError(t, err)

	path, err := GetBestCheckpoint(dir, false)
	require.NoError(t, err)
	assert.Equal(t, ".json", filepath.Ext(path))
	_, err = Load(path)
	assert.NoError(t, err)
}

func TestBestSaverErrors(t *testing.T) {
	_, err := NewBestSaver(t.TempDir(), 0, false)
	assert.Error(t, err)

	s, err := NewBestSaver(t.TempDir(), 1, false)
	require.NoError(t, err)
	_, err = s.Handle(1, failingSource{})
	assert.Error(t, err)
	_, ok := s.Best()
	assert.False(t, ok)
}

func TestGetBestCheckpointEmpty(t *testing.T) {
	dir := t.TempDir()
	_, err := GetBestCheckpoint(dir, false)
	assert.True(t, errors.Is(err, ErrNoCheckpoint))

	require.NoError(t, os.WriteFile(filepath.Join(dir, IndexFile), []byte(`{"records":[]}`), 0644))
	_, err = GetBestCheckpoint(dir, false)
	assert.True(t, errors.Is(err, ErrNoCheckpoint))
}
