package layers

import (
	"math"
	"math/rand"
	"testing"

	"github.com/hal2001/data-science-bowl-2018/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomTensor(rng *rand.Rand, shape ...int) *tensor.Tensor {
	t := tensor.New(shape...)
	for i := range t.Data {
		t.Data[i] = float32(rng.NormFloat64())
	}
	return t
}

func dot(a, b *tensor.Tensor) float64 {
	var s float64
	for i := range a.Data {
		s += float64(a.Data[i]) * float64(b.Data[i])
	}
	return s
}

func TestConv2DGradientsMatchFiniteDifferences(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	conv := NewConv2D("conv", 2, 3, 3, rng)
	x := randomTensor(rng, 2, 2, 5, 4)

	out, err := conv.Forward(x, true)
	require.NoError(t, err)
	require.Equal(t, []int{2, 3, 5, 4}, out.Shape)

	// loss = <out, r>, so dL/dout = r
	r := randomTensor(rng, out.Shape...)
	dx, err := conv.Backward(r)
	require.NoError(t, err)

	loss := func() float64 {
		o, err := conv.Forward(x, false)
		require.NoError(t, err)
		return dot(o, r)
	}

	const eps = 1e-2
	check := func(name string, data []float32, grad []float32, idx int) {
		orig := data[idx]
		data[idx] = orig + eps
		plus := loss()
		data[idx] = orig - eps
		minus := loss()
		data[idx] = orig
		numeric := (plus - minus) / (2 * eps)
		assert.InDelta(t, numeric, float64(grad[idx]), 1e-2*math.Max(1, math.Abs(numeric)), "%s[%d]", name, idx)
	}

	for _, idx := range []int{0, 7, 19, len(x.Data) - 1} {
		check("input", x.Data, dx.Data, idx)
	}
	w := conv.Params()[0]
	for _, idx := range []int{0, 5, 26, len(w.Value.Data) - 1} {
		check("weight", w.Value.Data, w.Grad.Data, idx)
	}
	b := conv.Params()[1]
	for idx := range b.Value.Data {
		check("bias", b.Value.Data, b.Grad.Data, idx)
	}
}

func TestConv2DRejectsWrongChannels(t *testing.T) {
	conv := NewConv2D("conv", 3, 4, 3, rand.New(rand.NewSource(1)))
	_, err := conv.Forward(tensor.New(1, 2, 4, 4), true)
	assert.Error(t, err)

	_, err = NewConv2D("c", 1, 1, 1, rand.New(rand.NewSource(1))).Backward(tensor.New(1, 1, 2, 2))
	assert.Error(t, err)
}

func TestReLU(t *testing.T) {
	x, _ := tensor.FromSlice([]float32{-1, 2, 0, 3}, 1, 1, 2, 2)
	relu := NewReLU("relu")
	out, err := relu.Forward(x, true)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 2, 0, 3}, out.Data)

	g, _ := tensor.FromSlice([]float32{1, 1, 1, 1}, 1, 1, 2, 2)
	dx, err := relu.Backward(g)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 0, 1}, dx.Data)
}

func TestMaxPool2D(t *testing.T) {
	x, _ := tensor.FromSlice([]float32{
		1, 5, 2, 0,
		3, 4, 8, 1,
		0, 0, 1, 1,
		9, 0, 1, 2,
	}, 1, 1, 4, 4)
	pool := NewMaxPool2D("pool")
	out, err := pool.Forward(x, true)
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 8, 9, 2}, out.Data)

	g, _ := tensor.FromSlice([]float32{1, 2, 3, 4}, 1, 1, 2, 2)
	dx, err := pool.Backward(g)
	require.NoError(t, err)
	assert.Equal(t, []float32{
		0, 1, 0, 0,
		0, 0, 2, 0,
		0, 0, 0, 0,
		3, 0, 0, 4,
	}, dx.Data)
}

func TestUpsample2D(t *testing.T) {
	x, _ := tensor.FromSlice([]float32{1, 2, 3, 4}, 1, 1, 2, 2)
	up := NewUpsample2D("up")
	out, err := up.Forward(x, true)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 4, 4}, out.Shape)
	assert.Equal(t, float32(4), out.At4(0, 0, 3, 3))
	assert.Equal(t, float32(2), out.At4(0, 0, 1, 3))

	g := tensor.New(1, 1, 4, 4)
	for i := range g.Data {
		g.Data[i] = 1
	}
	dx, err := up.Backward(g)
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 4, 4, 4}, dx.Data)
}

func TestConcatSplitRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	a := randomTensor(rng, 2, 1, 3, 3)
	b := randomTensor(rng, 2, 2, 3, 3)
	c, err := ConcatChannels(a, b)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 3, 3}, c.Shape)

	ga, gb, err := SplitChannels(c, 1)
	require.NoError(t, err)
	assert.Equal(t, a.Data, ga.Data)
	assert.Equal(t, b.Data, gb.Data)

	_, err = ConcatChannels(a, tensor.New(2, 1, 4, 3))
	assert.Error(t, err)
}

func TestSigmoidBCE(t *testing.T) {
	logits := tensor.New(1, 1, 1, 2)
	targets, _ := tensor.FromSlice([]float32{0, 1}, 1, 1, 1, 2)
	loss, grad, err := SigmoidBCE(logits, targets)
	require.NoError(t, err)
	assert.InDelta(t, math.Ln2, loss, 1e-9)
	assert.InDelta(t, 0.25, grad.Data[0], 1e-6)
	assert.InDelta(t, -0.25, grad.Data[1], 1e-6)

	big, _ := tensor.FromSlice([]float32{80, -80}, 1, 1, 1, 2)
	loss, _, err = SigmoidBCE(big, targets)
	require.NoError(t, err)
	assert.False(t, math.IsInf(loss, 0) || math.IsNaN(loss))

	_, _, err = SigmoidBCE(logits, tensor.New(1, 1, 2, 1))
	assert.Error(t, err)
}

func TestModelSpecSummary(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	conv := NewConv2D("enc1", 3, 8, 3, rng)
	spec := NewModelSpec("Net", []int{1, 3, 8, 8}, []int{1, 1, 8, 8}, conv.Spec(), NewReLU("relu1").Spec())
	assert.Equal(t, int64(3*8*9+8), spec.TotalParameters)

	s := spec.Summary()
	assert.Contains(t, s, "(enc1): Conv2d(3, 8, kernel_size=(3, 3), padding=(1, 1))")
	assert.Contains(t, s, "(relu1): ReLU()")
	assert.Equal(t, "1,234,567", formatParameterCount(1234567))
}
