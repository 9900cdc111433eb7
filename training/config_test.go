package training

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 30, cfg.Epoch)
	assert.Equal(t, 32, cfg.BatchSize)
	assert.Equal(t, 0.01, cfg.LearningRate)
	assert.Equal(t, 1, cfg.ValidInterval)
	assert.False(t, cfg.Shows())

	// the model is the one required setting
	assert.Error(t, cfg.Validate())
	cfg.Model = "basic"
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"epoch":          func(c *Config) { c.Epoch = 0 },
		"batch size":     func(c *Config) { c.BatchSize = -1 },
		"learning rate":  func(c *Config) { c.LearningRate = 0 },
		"interval zero":  func(c *Config) { c.ValidInterval = 0 },
		"interval large": func(c *Config) { c.ValidInterval = 31 },
		"show":           func(c *Config) { c.ShowTest = -1 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Model = "basic"
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestRunName(t *testing.T) {
	now := time.Date(2018, 4, 9, 7, 5, 0, 0, time.UTC)
	cfg := DefaultConfig()
	cfg.Model = "simple_unet"
	assert.Equal(t, "180409T0705_simple_unet_lr=0.010_epoch=30_bs=32", cfg.RunName(now))

	cfg.Tag = "exp1"
	cfg.LearningRate = 0.0005
	cfg.Epoch = 2
	cfg.BatchSize = 4
	assert.Equal(t, "exp1_simple_unet_lr=0.001_epoch=2_bs=4", cfg.RunName(now))
}

func TestLoadPaths(t *testing.T) {
	t.Setenv("DSB_DATA_DIR", "")
	t.Setenv("DSB_BASEPATH", "/tmp/out")
	t.Setenv("DSB_VIEWER_ADDR", "")
	t.Setenv("DSB_LOG_LEVEL", "info")

	p := LoadPaths()
	assert.Equal(t, "./data", p.DataDir)
	assert.Equal(t, "/tmp/out", p.BasePath)
	assert.Equal(t, "localhost:8090", p.ViewerAddr)
	assert.Equal(t, "info", p.LogLevel)
}
