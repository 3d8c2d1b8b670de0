package cpu

import (
	"math"

	"github.com/23skdu/longbow-bodkin/internal/tensor"
)

// SiLU computes x * sigmoid(x) elementwise into an F32 tensor.
func SiLU(x tensor.View) (*tensor.Tensor, error) {
	out := tensor.Empty(x.Shape(), tensor.F32)
	dst := out.Floats()
	for i := range dst {
		v := x.At(i)
		dst[i] = v / (1.0 + float32(math.Exp(float64(-v))))
	}
	return out, nil
}

const geluCoeff = 0.7978845608028654 // sqrt(2/pi)

// GELU computes the Gaussian error linear unit elementwise. The
// default is the tanh approximation; exact selects the erf form.
func GELU(x tensor.View, exact bool) (*tensor.Tensor, error) {
	out := tensor.Empty(x.Shape(), tensor.F32)
	dst := out.Floats()
	for i := range dst {
		v := float64(x.At(i))
		if exact {
			dst[i] = float32(0.5 * v * (1.0 + math.Erf(v/math.Sqrt2)))
		} else {
			inner := geluCoeff * (v + 0.044715*v*v*v)
			dst[i] = float32(0.5 * v * (1.0 + math.Tanh(inner)))
		}
	}
	return out, nil
}
