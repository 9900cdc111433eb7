// Package metric scores instance segmentations the way the Data Science
// Bowl 2018 leaderboard does: IoU matching at a range of thresholds.
package metric

import (
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/hal2001/data-science-bowl-2018/masks"
	"github.com/pkg/errors"
)

// Thresholds returns start, start+step, ... for values below stop, like
// numpy.arange. Values are rounded to 1e-9 to keep 0.55 from becoming
// 0.5500000001.
func Thresholds(start, stop, step float64) []float64 {
	if step <= 0 || stop <= start {
		return nil
	}
	n := int(math.Ceil((stop - start) / step))
	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		v := math.Round((start+float64(i)*step)*1e9) / 1e9
		if v >= stop {
			break
		}
		out = append(out, v)
	}
	return out
}

// DefaultThresholds are the leaderboard thresholds 0.50, 0.55, ..., 0.95.
func DefaultThresholds() []float64 {
	return Thresholds(0.5, 1.0, 0.05)
}

type shape struct {
	m    *image.Gray
	box  image.Rectangle
	area int
}

func describe(ms []*image.Gray) []shape {
	out := make([]shape, len(ms))
	for i, m := range ms {
		out[i] = shape{m: m, box: masks.Bounds(m).Add(m.Rect.Min), area: masks.Area(m)}
	}
	return out
}

// IoU returns intersection over union of two masks. Pixels outside a mask's
// bounds count as unset. Two empty masks have IoU 0.
func IoU(a, b *image.Gray) float64 {
	s := describe([]*image.Gray{a, b})
	return iou(s[0], s[1])
}

func iou(a, b shape) float64 {
	r := a.box.Intersect(b.box)
	if r.Empty() {
		return 0
	}
	inter := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if a.m.GrayAt(x, y).Y != 0 && b.m.GrayAt(x, y).Y != 0 {
				inter++
			}
		}
	}
	union := a.area + b.area - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Matrix returns IoU for every (prediction, ground truth) pair. Pairs whose
// bounding boxes do not overlap are 0 without a pixel scan.
func Matrix(preds, gts []*image.Gray) [][]float64 {
	ps, gs := describe(preds), describe(gts)
	out := make([][]float64, len(ps))
	for i, p := range ps {
		out[i] = make([]float64, len(gs))
		for j, g := range gs {
			out[i][j] = iou(p, g)
		}
	}
	return out
}

// MultipleMetric counts true positives, false positives and false negatives
// for each threshold. A prediction and a ground-truth object match when
// their IoU is strictly above the threshold; each object matches at most
// once.
func MultipleMetric(thresholds []float64, preds, gts []*image.Gray) (tp, fp, fn []int) {
	ious := Matrix(preds, gts)
	tp = make([]int, len(thresholds))
	fp = make([]int, len(thresholds))
	fn = make([]int, len(thresholds))
	for k, t := range thresholds {
		seen := make([]bool, len(gts))
		matches := 0
		for i := range preds {
			for j := range gts {
				if seen[j] || ious[i][j] <= t {
					continue
				}
				seen[j] = true
				matches++
				break
			}
		}
		tp[k] = matches
		fp[k] = len(preds) - matches
		fn[k] = len(gts) - matches
	}
	return tp, fp, fn
}

// Counts accumulates per-threshold counts over many images.
type Counts struct {
	Thresholds []float64
	TP, FP, FN []int
}

// NewCounts returns zeroed counts for thresholds.
func NewCounts(thresholds []float64) *Counts {
	return &Counts{
		Thresholds: append([]float64(nil), thresholds...),
		TP:         make([]int, len(thresholds)),
		FP:         make([]int, len(thresholds)),
		FN:         make([]int, len(thresholds)),
	}
}

// Add adds one image's counts element-wise.
func (c *Counts) Add(tp, fp, fn []int) error {
	n := len(c.Thresholds)
	if len(tp) != n || len(fp) != n || len(fn) != n {
		return errors.Errorf("metric: expected %d counts, got %d/%d/%d", n, len(tp), len(fp), len(fn))
	}
	for k := 0; k < n; k++ {
		c.TP[k] += tp[k]
		c.FP[k] += fp[k]
		c.FN[k] += fn[k]
	}
	return nil
}

// PerThreshold returns tp/(tp+fp+fn) per threshold; a zero denominator
// gives 0.
func (c *Counts) PerThreshold() []float64 {
	out := make([]float64, len(c.Thresholds))
	for k := range out {
		if d := c.TP[k] + c.FP[k] + c.FN[k]; d > 0 {
			out[k] = float64(c.TP[k]) / float64(d)
		}
	}
	return out
}

// Score is the mean of PerThreshold.
func (c *Counts) Score() float64 {
	ps := c.PerThreshold()
	if len(ps) == 0 {
		return 0
	}
	var sum float64
	for _, p := range ps {
		sum += p
	}
	return sum / float64(len(ps))
}

func (c *Counts) String() string {
	var b strings.Builder
	for k, t := range c.Thresholds {
		if k > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%.2f:%d/%d/%d", t, c.TP[k], c.FP[k], c.FN[k])
	}
	return b.String()
}
