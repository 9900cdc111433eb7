package checkpoints

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hal2001/data-science-bowl-2018/logging"
	"github.com/pkg/errors"
)

// ErrNoCheckpoint is returned when a directory holds no recorded checkpoint.
var ErrNoCheckpoint = errors.New("no checkpoint recorded")

// IndexFile is the name of the retention index kept next to the checkpoints.
const IndexFile = "best_checkpoints.json"

// Record describes one kept checkpoint file.
type Record struct {
	Path      string    `json:"path"`
	Value     float64   `json:"value"`
	Epoch     int       `json:"epoch"`
	Step      int       `json:"step"`
	CreatedAt time.Time `json:"created_at"`
}

type index struct {
	Maximize bool     `json:"maximize"`
	Records  []Record `json:"records"`
}

// BestSaver keeps checkpoints that improve on a tracked metric. Records are
// kept in insertion order; once more than numToKeep exist the oldest is
// evicted and its file removed.
type BestSaver struct {
	mu        sync.Mutex
	dir       string
	numToKeep int
	maximize  bool
	saver     *CheckpointSaver
	records   []Record
	best      float64
	hasBest   bool
	logger    logging.Logger
}

// NewBestSaver creates dir if needed and resumes from an existing index.
func NewBestSaver(dir string, numToKeep int, maximize bool) (*BestSaver, error) {
	if numToKeep <= 0 {
		return nil, errors.Errorf("numToKeep must be positive: %d", numToKeep)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create checkpoint dir %s", dir)
	}
	s := &BestSaver{
		dir:       dir,
		numToKeep: numToKeep,
		maximize:  maximize,
		saver:     NewCheckpointSaver(FormatProto),
		logger:    logging.New("checkpoints"),
	}
	idx, err := readIndex(dir)
	switch {
	case errors.Is(err, ErrNoCheckpoint):
	case err != nil:
		return nil, err
	default:
		if idx.Maximize != maximize {
			return nil, errors.Errorf("index in %s was written with maximize=%v", dir, idx.Maximize)
		}
		s.records = idx.Records
		for _, r := range s.records {
			if !s.hasBest || s.improves(r.Value) {
				s.best, s.hasBest = r.Value, true
			}
		}
	}
	return s, nil
}

// SetFormat selects the file format of subsequently written checkpoints.
func (s *BestSaver) SetFormat(format CheckpointFormat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saver = NewCheckpointSaver(format)
}

// Dir returns the checkpoint directory.
func (s *BestSaver) Dir() string { return s.dir }

// Best returns the best value recorded so far.
func (s *BestSaver) Best() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.best, s.hasBest
}

// Records returns a copy of the kept records, oldest first.
func (s *BestSaver) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...)
}

func (s *BestSaver) improves(v float64) bool {
	if s.maximize {
		return v > s.best
	}
	return v < s.best
}

// Handle snapshots src if value strictly improves on the best so far.
// NaN never improves. It reports whether a checkpoint was written.
func (s *BestSaver) Handle(value float64, src Source) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if math.IsNaN(value) {
		s.logger.Warn("metric is NaN, checkpoint skipped")
		return false, nil
	}
	if s.hasBest && !s.improves(value) {
		s.logger.Debug("no improvement", "value", value, "best", s.best)
		return false, nil
	}

	ckpt, err := src.Checkpoint()
	if err != nil {
		return false, errors.Wrap(err, "snapshot")
	}
	ckpt.TrainingState.Metric = value
	path := filepath.Join(s.dir, fmt.Sprintf("model-%d%s", ckpt.TrainingState.Step, s.saver.Format().Ext()))
	if err := s.saver.SaveCheckpoint(ckpt, path); err != nil {
		return false, err
	}

	kept := s.records[:0]
	for _, r := range s.records {
		if r.Path != path {
			kept = append(kept, r)
		}
	}
	s.records = append(kept, Record{
		Path:      path,
		Value:     value,
		Epoch:     ckpt.TrainingState.Epoch,
		Step:      ckpt.TrainingState.Step,
		CreatedAt: ckpt.Metadata.CreatedAt,
	})
	for len(s.records) > s.numToKeep {
		old := s.records[0]
		s.records = s.records[1:]
		if err := os.Remove(old.Path); err != nil && !os.IsNotExist(err) {
			return false, errors.Wrapf(err, "failed to evict %s", old.Path)
		}
		s.logger.Debug("evicted checkpoint", "path", old.Path)
	}
	if err := writeIndex(s.dir, index{Maximize: s.maximize, Records: s.records}); err != nil {
		return false, err
	}
	s.best, s.hasBest = value, true
	s.logger.Info("saved checkpoint", "path", path, "value", value)
	return true, nil
}

// GetBestCheckpoint returns the path of the recorded checkpoint with the
// largest value when selectMaximum is set, the smallest otherwise. Ties go
// to the most recent record.
func GetBestCheckpoint(dir string, selectMaximum bool) (string, error) {
	idx, err := readIndex(dir)
	if err != nil {
		return "", err
	}
	best := -1
	for i, r := range idx.Records {
		if best < 0 {
			best = i
			continue
		}
		if selectMaximum && r.Value >= idx.Records[best].Value ||
			!selectMaximum && r.Value <= idx.Records[best].Value {
			best = i
		}
	}
	return idx.Records[best].Path, nil
}

func readIndex(dir string) (*index, error) {
	data, err := os.ReadFile(filepath.Join(dir, IndexFile))
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrNoCheckpoint, "in %s", dir)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read checkpoint index")
	}
	var idx index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", IndexFile)
	}
	if len(idx.Records) == 0 {
		return nil, errors.Wrapf(ErrNoCheckpoint, "in %s", dir)
	}
	return &idx, nil
}

func writeIndex(dir string, idx index) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode checkpoint index")
	}
	return writeFileAtomic(filepath.Join(dir, IndexFile), data)
}
