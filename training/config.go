package training

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
)

// Config holds the hyperparameters of one training run.
type Config struct {
	Model         string  `json:"model"`
	Epoch         int     `json:"epoch"`
	BatchSize     int     `json:"batch_size"`
	LearningRate  float64 `json:"learning_rate"`
	ValidInterval int     `json:"valid_interval"` // validate every n epochs
	Tag           string  `json:"tag,omitempty"`  // run name prefix; a timestamp when empty

	// Number of train, valid-full and test images shown on the display.
	ShowTrain int `json:"show_train"`
	ShowValid int `json:"show_valid"`
	ShowTest  int `json:"show_test"`
}

// DefaultConfig returns the defaults of the command line.
func DefaultConfig() Config {
	return Config{
		Epoch:         30,
		BatchSize:     32,
		LearningRate:  0.01,
		ValidInterval: 1,
	}
}

// Validate checks the configuration. The model name itself is resolved by
// the network registry.
func (c Config) Validate() error {
	if c.Model == "" {
		return errors.New("model name is required")
	}
	if c.Epoch <= 0 {
		return errors.Errorf("epoch must be positive: %d", c.Epoch)
	}
	if c.BatchSize <= 0 {
		return errors.Errorf("batch size must be positive: %d", c.BatchSize)
	}
	if c.LearningRate <= 0 {
		return errors.Errorf("learning rate must be positive: %g", c.LearningRate)
	}
	if c.ValidInterval <= 0 || c.ValidInterval > c.Epoch {
		return errors.Errorf("valid interval must be in [1, %d]: %d", c.Epoch, c.ValidInterval)
	}
	if c.ShowTrain < 0 || c.ShowValid < 0 || c.ShowTest < 0 {
		return errors.New("show counts must not be negative")
	}
	return nil
}

// Shows reports whether any image is to be displayed.
func (c Config) Shows() bool {
	return c.ShowTrain > 0 || c.ShowValid > 0 || c.ShowTest > 0
}

// RunName derives the directory key of a run. Collisions are not detected.
func (c Config) RunName(now time.Time) string {
	prefix := c.Tag
	if prefix == "" {
		prefix = now.Format("060102T1504")
	}
	return fmt.Sprintf("%s_%s_lr=%.3f_epoch=%d_bs=%d", prefix, c.Model, c.LearningRate, c.Epoch, c.BatchSize)
}

// Paths locates the inputs and outputs of a run. They come from the
// environment rather than flags.
type Paths struct {
	DataDir    string // DSB_DATA_DIR
	BasePath   string // DSB_BASEPATH
	ViewerAddr string // DSB_VIEWER_ADDR
	LogLevel   string // DSB_LOG_LEVEL
}

// LoadPaths reads Paths from the environment, falling back to defaults.
func LoadPaths() Paths {
	return Paths{
		DataDir:    getenv("DSB_DATA_DIR", "./data"),
		BasePath:   getenv("DSB_BASEPATH", "./submissions"),
		ViewerAddr: getenv("DSB_VIEWER_ADDR", "localhost:8090"),
		LogLevel:   getenv("DSB_LOG_LEVEL", "debug"),
	}
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}
