package layers

import (
	"math"
	"math/rand"

	"github.com/hal2001/data-science-bowl-2018/tensor"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Conv2DLayer is a stride-1, same-padded 2-D convolution. Each sample is
// lowered with im2col and multiplied with the weight matrix through BLAS.
type Conv2DLayer struct {
	name    string
	in, out int
	kernel  int
	padding int

	weight *Param // [out, in, k, k]
	bias   *Param // [out]

	input *tensor.Tensor
	cols  []float32
	dcols []float32
}

// NewConv2D creates a convolution with He-normal weights and zero bias.
func NewConv2D(name string, in, out, kernel int, rng *rand.Rand) *Conv2DLayer {
	l := &Conv2DLayer{
		name:    name,
		in:      in,
		out:     out,
		kernel:  kernel,
		padding: kernel / 2,
		weight:  newParam(name, "weight", out, in, kernel, kernel),
		bias:    newParam(name, "bias", out),
	}
	std := math.Sqrt(2.0 / float64(in*kernel*kernel))
	for i := range l.weight.Value.Data {
		l.weight.Value.Data[i] = float32(rng.NormFloat64() * std)
	}
	return l
}

func (l *Conv2DLayer) Spec() LayerSpec {
	return LayerSpec{
		Type: Conv2D,
		Name: l.name,
		Parameters: map[string]interface{}{
			"input_channels":  l.in,
			"output_channels": l.out,
			"kernel_size":     l.kernel,
			"stride":          1,
			"padding":         l.padding,
			"use_bias":        true,
		},
		ParameterShapes: [][]int{l.weight.Value.Shape, l.bias.Value.Shape},
		ParameterCount:  int64(l.weight.Value.Size() + l.bias.Value.Size()),
	}
}

func (l *Conv2DLayer) Params() []*Param {
	return []*Param{l.weight, l.bias}
}

func (l *Conv2DLayer) weightMatrix() blas32.General {
	kk := l.in * l.kernel * l.kernel
	return blas32.General{Rows: l.out, Cols: kk, Stride: kk, Data: l.weight.Value.Data}
}

func (l *Conv2DLayer) Forward(x *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	if err := checkRank4("conv2d", x); err != nil {
		return nil, err
	}
	n, c, h, w := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	if c != l.in {
		return nil, errors.Errorf("conv2d %s: expected %d input channels, got %d", l.name, l.in, c)
	}
	hw := h * w
	kk := l.in * l.kernel * l.kernel
	l.cols = grow(l.cols, kk*hw)
	out := tensor.New(n, l.out, h, w)
	wm := l.weightMatrix()
	for i := 0; i < n; i++ {
		l.im2col(x.Index(i).Data, h, w, l.cols)
		dst := out.Index(i).Data
		blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, wm,
			blas32.General{Rows: kk, Cols: hw, Stride: hw, Data: l.cols}, 0,
			blas32.General{Rows: l.out, Cols: hw, Stride: hw, Data: dst})
		for f := 0; f < l.out; f++ {
			b := l.bias.Value.Data[f]
			row := dst[f*hw : (f+1)*hw]
			for j := range row {
				row[j] += b
			}
		}
	}
	l.input = x
	return out, nil
}

func (l *Conv2DLayer) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if l.input == nil {
		return nil, errors.Errorf("conv2d %s: backward called before forward", l.name)
	}
	x := l.input
	n, h, w := x.Shape[0], x.Shape[2], x.Shape[3]
	if gradOut.Shape[0] != n || gradOut.Shape[1] != l.out || gradOut.Shape[2] != h || gradOut.Shape[3] != w {
		return nil, errors.Errorf("conv2d %s: gradient shape %v does not match output", l.name, gradOut.Shape)
	}
	hw := h * w
	kk := l.in * l.kernel * l.kernel
	l.cols = grow(l.cols, kk*hw)
	l.dcols = grow(l.dcols, kk*hw)
	dx := tensor.New(x.Shape...)
	wm := l.weightMatrix()
	dw := blas32.General{Rows: l.out, Cols: kk, Stride: kk, Data: l.weight.Grad.Data}
	for i := 0; i < n; i++ {
		g := gradOut.Index(i).Data
		gm := blas32.General{Rows: l.out, Cols: hw, Stride: hw, Data: g}
		l.im2col(x.Index(i).Data, h, w, l.cols)
		blas32.Gemm(blas.NoTrans, blas.Trans, 1, gm,
			blas32.General{Rows: kk, Cols: hw, Stride: hw, Data: l.cols}, 1, dw)
		for f := 0; f < l.out; f++ {
			var s float32
			for _, v := range g[f*hw : (f+1)*hw] {
				s += v
			}
			l.bias.Grad.Data[f] += s
		}
		dc := blas32.General{Rows: kk, Cols: hw, Stride: hw, Data: l.dcols}
		blas32.Gemm(blas.Trans, blas.NoTrans, 1, wm, gm, 0, dc)
		l.col2im(l.dcols, h, w, dx.Index(i).Data)
	}
	return dx, nil
}

// im2col lays out every k x k patch of a CHW image as a column of cols,
// which has shape [C*k*k, H*W].
func (l *Conv2DLayer) im2col(img []float32, h, w int, cols []float32) {
	k, p := l.kernel, l.padding
	hw := h * w
	for c := 0; c < l.in; c++ {
		plane := img[c*hw : (c+1)*hw]
		for ki := 0; ki < k; ki++ {
			for kj := 0; kj < k; kj++ {
				row := cols[((c*k+ki)*k+kj)*hw:]
				for y := 0; y < h; y++ {
					iy := y + ki - p
					for x := 0; x < w; x++ {
						ix := x + kj - p
						if iy < 0 || iy >= h || ix < 0 || ix >= w {
							row[y*w+x] = 0
						} else {
							row[y*w+x] = plane[iy*w+ix]
						}
					}
				}
			}
		}
	}
}

// col2im is the adjoint of im2col: it scatters column gradients back onto
// the image, accumulating overlapping patches.
func (l *Conv2DLayer) col2im(cols []float32, h, w int, img []float32) {
	k, p := l.kernel, l.padding
	hw := h * w
	for c := 0; c < l.in; c++ {
		plane := img[c*hw : (c+1)*hw]
		for ki := 0; ki < k; ki++ {
			for kj := 0; kj < k; kj++ {
				row := cols[((c*k+ki)*k+kj)*hw:]
				for y := 0; y < h; y++ {
					iy := y + ki - p
					if iy < 0 || iy >= h {
						continue
					}
					for x := 0; x < w; x++ {
						ix := x + kj - p
						if ix < 0 || ix >= w {
							continue
						}
						plane[iy*w+ix] += row[y*w+x]
					}
				}
			}
		}
	}
}

func grow(buf []float32, n int) []float32 {
	if cap(buf) < n {
		return make([]float32, n)
	}
	return buf[:n]
}
