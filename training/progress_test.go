package training

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProgressBarLine(t *testing.T) {
	var buf bytes.Buffer
	pb := NewProgressBar(&buf, "epoch 0", 4)
	start := pb.startTime
	pb.now = func() time.Time { return start.Add(2 * time.Second) }

	pb.Update(2, map[string]float64{"loss": 0.25, "lr": 0.01})
	line := buf.String()
	assert.True(t, strings.HasPrefix(line, "\repoch 0:  50%|"))
	assert.Contains(t, line, "| 2/4 [00:02<00:02, 1.00batch/s, loss=0.2500, lr=0.0100]")

	pb.Finish()
	assert.Contains(t, buf.String(), "100%|"+strings.Repeat("#", 40)+"| 4/4")
	assert.True(t, strings.HasSuffix(buf.String(), "\n"))
}

func TestProgressBarNilWriter(t *testing.T) {
	pb := NewProgressBar(nil, "epoch 0", 0)
	pb.Update(1, nil)
	pb.Finish()
	assert.Contains(t, pb.line(), "1/0")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "01:05", formatDuration(65*time.Second))
	assert.Equal(t, "00:00", formatDuration(-time.Second))
}
