// Package submission collects test-set predictions and writes the
// leaderboard CSV together with visualizations and a run manifest.
package submission

import (
	"encoding/csv"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hal2001/data-science-bowl-2018/logging"
	"github.com/pkg/errors"
)

// Manifest describes a written submission.
type Manifest struct {
	RunID     string    `json:"run_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	Images    int       `json:"images"`
	Instances int       `json:"instances"`
	Empty     int       `json:"empty_images"`
	CSV       string    `json:"csv"`
}

// KaggleSubmission accumulates results for one run under <base>/<name>.
type KaggleSubmission struct {
	mu      sync.Mutex
	dir     string
	name    string
	runID   string
	order   []string
	results map[string][]*image.Gray
	create  func(path string) (io.WriteCloser, error)
	logger  logging.Logger
}

// New creates the run directory.
func New(basePath, name string) (*KaggleSubmission, error) {
	if name == "" {
		return nil, errors.New("submission name is empty")
	}
	dir := filepath.Join(basePath, name)
	if err := os.MkdirAll(filepath.Join(dir, "images"), 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create submission dir")
	}
	return &KaggleSubmission{
		dir:     dir,
		name:    name,
		runID:   uuid.NewString(),
		results: make(map[string][]*image.Gray),
		create:  func(path string) (io.WriteCloser, error) { return os.Create(path) },
		logger:  logging.New("submission"),
	}, nil
}

// Dir returns <base>/<name>.
func (s *KaggleSubmission) Dir() string { return s.dir }

// CSVPath returns the path Save writes the leaderboard file to.
func (s *KaggleSubmission) CSVPath() string {
	return filepath.Join(s.dir, "submission_"+s.name+".csv")
}

// SaveImage writes a visualization to images/<id>.png.
func (s *KaggleSubmission) SaveImage(id string, img image.Image) error {
	path := filepath.Join(s.dir, "images", id+".png")
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return errors.Wrapf(err, "failed to encode %s", path)
	}
	return errors.Wrapf(f.Close(), "failed to close %s", path)
}

// AddResult records the instances of one test image at its original
// resolution. Adding the same id again replaces the earlier result.
func (s *KaggleSubmission) AddResult(id string, instances []*image.Gray) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.results[id]; !ok {
		s.order = append(s.order, id)
	}
	s.results[id] = instances
}

// Save writes the CSV and the manifest. Images without instances get one
// row with empty pixels so every test id appears.
func (s *KaggleSubmission) Save() (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.CSVPath()
	f, err := s.create(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create submission csv")
	}
	m := &Manifest{
		RunID:     s.runID,
		Name:      s.name,
		CreatedAt: time.Now().UTC(),
		Images:    len(s.order),
		CSV:       filepath.Base(path),
	}
	if err := s.writeCSV(f, m); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, errors.Wrapf(err, "failed to close %s", path)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encode manifest")
	}
	if err := os.WriteFile(filepath.Join(s.dir, "manifest.json"), data, 0644); err != nil {
		return nil, errors.Wrap(err, "write manifest")
	}
	s.logger.Info("submission saved", "path", path, "images", m.Images, "instances", m.Instances)
	return m, nil
}

// writeCSV writes the header and one row per instance, filling the counts in m.
func (s *KaggleSubmission) writeCSV(out io.Writer, m *Manifest) error {
	w := csv.NewWriter(out)
	if err := w.Write([]string{"ImageId", "EncodedPixels"}); err != nil {
		return errors.Wrap(err, "write header")
	}
	for _, id := range s.order {
		rows := 0
		for _, inst := range s.results[id] {
			rle := EncodeRLE(inst)
			if rle == "" {
				continue
			}
			if err := w.Write([]string{id, rle}); err != nil {
				return errors.Wrapf(err, "write %s", id)
			}
			rows++
		}
		if rows == 0 {
			if err := w.Write([]string{id, ""}); err != nil {
				return errors.Wrapf(err, "write %s", id)
			}
			m.Empty++
		}
		m.Instances += rows
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errors.Wrap(err, "flush submission csv")
	}
	return nil
}
