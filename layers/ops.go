package layers

import (
	"github.com/hal2001/data-science-bowl-2018/tensor"
	"github.com/pkg/errors"
)

// ReLULayer applies max(0, x).
type ReLULayer struct {
	name string
	mask []bool
}

func NewReLU(name string) *ReLULayer {
	return &ReLULayer{name: name}
}

func (l *ReLULayer) Spec() LayerSpec {
	return LayerSpec{Type: ReLU, Name: l.name}
}

func (l *ReLULayer) Params() []*Param { return nil }

func (l *ReLULayer) Forward(x *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	out := tensor.New(x.Shape...)
	if cap(l.mask) < x.Size() {
		l.mask = make([]bool, x.Size())
	}
	l.mask = l.mask[:x.Size()]
	for i, v := range x.Data {
		if v > 0 {
			out.Data[i] = v
			l.mask[i] = true
		} else {
			l.mask[i] = false
		}
	}
	return out, nil
}

func (l *ReLULayer) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if gradOut.Size() != len(l.mask) {
		return nil, errors.Errorf("relu %s: gradient size %d does not match forward size %d", l.name, gradOut.Size(), len(l.mask))
	}
	dx := tensor.New(gradOut.Shape...)
	for i, g := range gradOut.Data {
		if l.mask[i] {
			dx.Data[i] = g
		}
	}
	return dx, nil
}

// MaxPool2DLayer is a 2x2, stride-2 max pool. Odd trailing rows and
// columns are dropped.
type MaxPool2DLayer struct {
	name    string
	inShape []int
	argmax  []int
}

func NewMaxPool2D(name string) *MaxPool2DLayer {
	return &MaxPool2DLayer{name: name}
}

func (l *MaxPool2DLayer) Spec() LayerSpec {
	return LayerSpec{Type: MaxPool2D, Name: l.name, Parameters: map[string]interface{}{"scale": 2}}
}

func (l *MaxPool2DLayer) Params() []*Param { return nil }

func (l *MaxPool2DLayer) Forward(x *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	if err := checkRank4("maxpool2d", x); err != nil {
		return nil, err
	}
	n, c, h, w := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	oh, ow := h/2, w/2
	if oh == 0 || ow == 0 {
		return nil, errors.Errorf("maxpool2d %s: input %dx%d too small", l.name, h, w)
	}
	out := tensor.New(n, c, oh, ow)
	l.inShape = x.Shape
	l.argmax = make([]int, out.Size())
	o := 0
	for i := 0; i < n*c; i++ {
		base := i * h * w
		for y := 0; y < oh; y++ {
			for xx := 0; xx < ow; xx++ {
				corner := base + 2*y*w + 2*xx
				best := corner
				for _, off := range [3]int{1, w, w + 1} {
					if x.Data[corner+off] > x.Data[best] {
						best = corner + off
					}
				}
				out.Data[o] = x.Data[best]
				l.argmax[o] = best
				o++
			}
		}
	}
	return out, nil
}

func (l *MaxPool2DLayer) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if gradOut.Size() != len(l.argmax) {
		return nil, errors.Errorf("maxpool2d %s: gradient size mismatch", l.name)
	}
	dx := tensor.New(l.inShape...)
	for o, g := range gradOut.Data {
		dx.Data[l.argmax[o]] += g
	}
	return dx, nil
}

// Upsample2DLayer doubles the spatial size with nearest-neighbour copies.
type Upsample2DLayer struct {
	name string
}

func NewUpsample2D(name string) *Upsample2DLayer {
	return &Upsample2DLayer{name: name}
}

func (l *Upsample2DLayer) Spec() LayerSpec {
	return LayerSpec{Type: Upsample2D, Name: l.name, Parameters: map[string]interface{}{"scale": 2}}
}

func (l *Upsample2DLayer) Params() []*Param { return nil }

func (l *Upsample2DLayer) Forward(x *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	if err := checkRank4("upsample2d", x); err != nil {
		return nil, err
	}
	n, c, h, w := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	out := tensor.New(n, c, 2*h, 2*w)
	for i := 0; i < n*c; i++ {
		src := x.Data[i*h*w : (i+1)*h*w]
		dst := out.Data[i*4*h*w : (i+1)*4*h*w]
		for y := 0; y < 2*h; y++ {
			for xx := 0; xx < 2*w; xx++ {
				dst[y*2*w+xx] = src[(y/2)*w+xx/2]
			}
		}
	}
	return out, nil
}

func (l *Upsample2DLayer) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkRank4("upsample2d", gradOut); err != nil {
		return nil, err
	}
	n, c, h2, w2 := gradOut.Shape[0], gradOut.Shape[1], gradOut.Shape[2], gradOut.Shape[3]
	h, w := h2/2, w2/2
	dx := tensor.New(n, c, h, w)
	for i := 0; i < n*c; i++ {
		src := gradOut.Data[i*h2*w2 : (i+1)*h2*w2]
		dst := dx.Data[i*h*w : (i+1)*h*w]
		for y := 0; y < h2; y++ {
			for xx := 0; xx < w2; xx++ {
				dst[(y/2)*w+xx/2] += src[y*w2+xx]
			}
		}
	}
	return dx, nil
}

// ConcatChannels joins two NCHW tensors along the channel axis.
func ConcatChannels(a, b *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkRank4("concat", a); err != nil {
		return nil, err
	}
	if err := checkRank4("concat", b); err != nil {
		return nil, err
	}
	if a.Shape[0] != b.Shape[0] || a.Shape[2] != b.Shape[2] || a.Shape[3] != b.Shape[3] {
		return nil, errors.Errorf("concat: incompatible shapes %v and %v", a.Shape, b.Shape)
	}
	n, ca, cb := a.Shape[0], a.Shape[1], b.Shape[1]
	hw := a.Shape[2] * a.Shape[3]
	out := tensor.New(n, ca+cb, a.Shape[2], a.Shape[3])
	for i := 0; i < n; i++ {
		dst := out.Index(i).Data
		copy(dst, a.Data[i*ca*hw:(i+1)*ca*hw])
		copy(dst[ca*hw:], b.Data[i*cb*hw:(i+1)*cb*hw])
	}
	return out, nil
}

// SplitChannels is the inverse of ConcatChannels: it splits g after the
// first ca channels.
func SplitChannels(g *tensor.Tensor, ca int) (*tensor.Tensor, *tensor.Tensor, error) {
	if err := checkRank4("split", g); err != nil {
		return nil, nil, err
	}
	n, c, h, w := g.Shape[0], g.Shape[1], g.Shape[2], g.Shape[3]
	if ca <= 0 || ca >= c {
		return nil, nil, errors.Errorf("split: cannot split %d channels at %d", c, ca)
	}
	cb := c - ca
	hw := h * w
	a := tensor.New(n, ca, h, w)
	b := tensor.New(n, cb, h, w)
	for i := 0; i < n; i++ {
		src := g.Index(i).Data
		copy(a.Data[i*ca*hw:], src[:ca*hw])
		copy(b.Data[i*cb*hw:], src[ca*hw:])
	}
	return a, b, nil
}

// ConcatSpec describes a channel concatenation for model summaries.
func ConcatSpec(name string) LayerSpec {
	return LayerSpec{Type: Concat, Name: name}
}
