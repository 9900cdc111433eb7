package training

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"
)

// ProgressBar draws a single-line progress indicator for an epoch.
type ProgressBar struct {
	w           io.Writer
	description string
	total       int
	current     int
	startTime   time.Time
	width       int
	metrics     map[string]float64
	now         func() time.Time
}

// NewProgressBar creates a progress bar over total steps. A nil writer
// disables drawing.
func NewProgressBar(w io.Writer, description string, total int) *ProgressBar {
	return &ProgressBar{
		w:           w,
		description: description,
		total:       total,
		startTime:   time.Now(),
		width:       40,
		metrics:     make(map[string]float64),
		now:         time.Now,
	}
}

// Update advances the bar to step and replaces the shown metrics.
func (pb *ProgressBar) Update(step int, metrics map[string]float64) {
	pb.current = step
	pb.metrics = metrics
	pb.render()
}

// Finish completes the bar and ends the line.
func (pb *ProgressBar) Finish() {
	if pb.total > 0 {
		pb.current = pb.total
	}
	pb.render()
	if pb.w != nil {
		fmt.Fprintln(pb.w)
	}
}

func (pb *ProgressBar) render() {
	if pb.w == nil {
		return
	}
	fmt.Fprint(pb.w, pb.line())
}

func (pb *ProgressBar) line() string {
	var percentage float64
	if pb.total > 0 {
		percentage = min(float64(pb.current)/float64(pb.total), 1)
	}
	filled := int(percentage * float64(pb.width))
	bar := strings.Repeat("#", filled) + strings.Repeat(" ", pb.width-filled)

	elapsed := pb.now().Sub(pb.startTime)
	var eta time.Duration
	if percentage > 0 {
		eta = time.Duration(float64(elapsed)/percentage) - elapsed
	}

	line := fmt.Sprintf("\r%s: %3.0f%%|%s| %d/%d [%s<%s",
		pb.description, percentage*100, bar, pb.current, pb.total,
		formatDuration(elapsed), formatDuration(eta))
	if secs := elapsed.Seconds(); pb.current > 0 && secs > 0 {
		line += fmt.Sprintf(", %.2fbatch/s", float64(pb.current)/secs)
	}
	for _, k := range slices.Sorted(maps.Keys(pb.metrics)) {
		line += fmt.Sprintf(", %s=%.4f", k, pb.metrics[k])
	}
	return line + "]"
}

// formatDuration formats d as MM:SS.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%02d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
