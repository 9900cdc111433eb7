package training

import (
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// Point is one recorded loss value.
type Point struct {
	Epoch int
	Loss  float64
}

// History records the training and validation loss of a run.
type History struct {
	mu    sync.Mutex
	train []Point
	valid []Point
}

func NewHistory() *History {
	return &History{}
}

// AddTrain records the last training loss of an epoch.
func (h *History) AddTrain(epoch int, loss float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.train = append(h.train, Point{epoch, loss})
}

// AddValid records the mean validation loss of an epoch.
func (h *History) AddValid(epoch int, loss float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.valid = append(h.valid, Point{epoch, loss})
}

// Train returns the recorded training losses.
func (h *History) Train() []Point {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Point(nil), h.train...)
}

// Valid returns the recorded validation losses.
func (h *History) Valid() []Point {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Point(nil), h.valid...)
}

func (h *History) plot() (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "loss"
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "loss"
	p.Legend.Top = true
	p.Add(plotter.NewGrid())

	for i, s := range []struct {
		name string
		pts  []Point
	}{{"train", h.Train()}, {"valid", h.Valid()}} {
		if len(s.pts) == 0 {
			continue
		}
		xys := make(plotter.XYs, len(s.pts))
		for j, pt := range s.pts {
			xys[j].X, xys[j].Y = float64(pt.Epoch+1), pt.Loss
		}
		l, err := plotter.NewLine(xys)
		if err != nil {
			return nil, errors.Wrapf(err, "%s loss line", s.name)
		}
		l.Width = 2
		l.Color = plotutil.Color(i)
		p.Add(l)
		p.Legend.Add(s.name, l)
	}
	return p, nil
}

// WriteSVG renders the loss curves as SVG.
func (h *History) WriteSVG(w io.Writer, width, height vg.Length) error {
	p, err := h.plot()
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(width, height, "svg")
	if err != nil {
		return errors.Wrap(err, "render loss plot")
	}
	_, err = wt.WriteTo(w)
	return errors.Wrap(err, "write loss plot")
}

// Save writes the loss curves to an SVG file.
func (h *History) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	if err := h.WriteSVG(f, 6*vg.Inch, 4*vg.Inch); err != nil {
		f.Close()
		return err
	}
	return errors.Wrapf(f.Close(), "close %s", path)
}
