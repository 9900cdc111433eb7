package layers

import (
	"math"

	"github.com/hal2001/data-science-bowl-2018/tensor"
	"github.com/pkg/errors"
)

// SigmoidBCE computes the mean binary cross-entropy between sigmoid(logits)
// and targets in {0, 1}, and the gradient with respect to the logits.
// The log-sum-exp form keeps large logits finite.
func SigmoidBCE(logits, targets *tensor.Tensor) (float64, *tensor.Tensor, error) {
	if !logits.SameShape(targets) {
		return 0, nil, errors.Errorf("bce: logits %v and targets %v differ in shape", logits.Shape, targets.Shape)
	}
	n := float64(logits.Size())
	if n == 0 {
		return 0, nil, errors.New("bce: empty input")
	}
	grad := tensor.New(logits.Shape...)
	var sum float64
	for i, z32 := range logits.Data {
		z, y := float64(z32), float64(targets.Data[i])
		sum += math.Max(z, 0) - z*y + math.Log1p(math.Exp(-math.Abs(z)))
		grad.Data[i] = float32((sigmoid(z) - y) / n)
	}
	return sum / n, grad, nil
}

// Sigmoid maps logits to probabilities.
func Sigmoid(logits *tensor.Tensor) *tensor.Tensor {
	out := tensor.New(logits.Shape...)
	for i, z := range logits.Data {
		out.Data[i] = float32(sigmoid(float64(z)))
	}
	return out
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}
