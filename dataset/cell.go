// Package dataset reads the Data Science Bowl 2018 nuclei image layout:
//
//	<root>/stage1_train/<id>/images/<id>.png
//	<root>/stage1_train/<id>/masks/*.png   one binary mask per nucleus
//	<root>/stage1_test/<id>/images/<id>.png
package dataset

import (
	"image"
	_ "image/png"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"

	"github.com/hal2001/data-science-bowl-2018/logging"
	"github.com/hal2001/data-science-bowl-2018/masks"
	"github.com/pkg/errors"
)

const (
	TrainDir = "stage1_train"
	TestDir  = "stage1_test"
)

// Sample points at the files of one image. Nothing is decoded until Load.
type Sample struct {
	ID        string
	ImagePath string
	MaskPaths []string // empty for test samples
}

// Decoded is a loaded sample at original resolution.
type Decoded struct {
	ID     string
	Image  image.Image
	Masks  []*image.Gray
	Height int
	Width  int
}

// CellImageData indexes the train and test samples under a root directory.
type CellImageData struct {
	Root  string
	Train []Sample
	Test  []Sample
}

// Open scans root. The train set must be non-empty; a missing test set is
// logged and left empty.
func Open(root string) (*CellImageData, error) {
	logger := logging.New("dataset")
	train, err := scan(filepath.Join(root, TrainDir), true)
	if err != nil {
		return nil, err
	}
	if len(train) == 0 {
		return nil, errors.Errorf("no training samples under %s", filepath.Join(root, TrainDir))
	}
	test, err := scan(filepath.Join(root, TestDir), false)
	if os.IsNotExist(errors.Cause(err)) {
		logger.Warn("test set not found", "dir", filepath.Join(root, TestDir))
		test, err = nil, nil
	}
	if err != nil {
		return nil, err
	}
	logger.Info("dataset indexed", "root", root, "train", len(train), "test", len(test))
	return &CellImageData{Root: root, Train: train, Test: test}, nil
}

func scan(dir string, withMasks bool) ([]Sample, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s", dir)
	}
	var out []Sample
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id := e.Name()
		s := Sample{
			ID:        id,
			ImagePath: filepath.Join(dir, id, "images", id+".png"),
		}
		if _, err := os.Stat(s.ImagePath); err != nil {
			return nil, errors.Wrapf(err, "sample %s", id)
		}
		if withMasks {
			s.MaskPaths, err = filepath.Glob(filepath.Join(dir, id, "masks", "*.png"))
			if err != nil {
				return nil, errors.Wrapf(err, "sample %s", id)
			}
			if len(s.MaskPaths) == 0 {
				return nil, errors.Errorf("sample %s has no masks", id)
			}
			sort.Strings(s.MaskPaths)
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Split partitions the training samples into train and validation sets
// after a seeded shuffle. At least one sample lands on each side when
// validRatio is positive and there are two or more samples.
func (d *CellImageData) Split(validRatio float64, seed int64) (train, valid []Sample, err error) {
	if validRatio < 0 || validRatio >= 1 {
		return nil, nil, errors.Errorf("valid ratio must be in [0, 1): %g", validRatio)
	}
	shuffled := append([]Sample(nil), d.Train...)
	rand.New(rand.NewSource(seed)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	n := int(math.Round(float64(len(shuffled)) * validRatio))
	if validRatio > 0 && len(shuffled) > 1 {
		n = max(1, min(n, len(shuffled)-1))
	}
	return shuffled[n:], shuffled[:n], nil
}

// Load decodes the image and, for train samples, every instance mask.
func Load(s Sample) (*Decoded, error) {
	img, err := decodeFile(s.ImagePath)
	if err != nil {
		return nil, errors.Wrapf(err, "sample %s", s.ID)
	}
	b := img.Bounds()
	d := &Decoded{ID: s.ID, Image: img, Height: b.Dy(), Width: b.Dx()}
	for _, p := range s.MaskPaths {
		m, err := decodeFile(p)
		if err != nil {
			return nil, errors.Wrapf(err, "sample %s", s.ID)
		}
		if m.Bounds().Size() != b.Size() {
			return nil, errors.Errorf("sample %s: mask %s is %v, image is %v", s.ID, filepath.Base(p), m.Bounds().Size(), b.Size())
		}
		d.Masks = append(d.Masks, masks.FromImage(m))
	}
	return d, nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return img, nil
}
