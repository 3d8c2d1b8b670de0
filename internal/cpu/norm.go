package cpu

import (
	"math"
	"time"

	"github.com/23skdu/longbow-bodkin/internal/metrics"
	"github.com/23skdu/longbow-bodkin/internal/tensor"
)

// DefaultEps is the RMSNorm epsilon used when a model config does not
// supply one.
const DefaultEps float32 = 1e-5

// RMSNorm normalizes each row of x by its root mean square over the
// last dim and scales by gain. Output is F32 with x's shape.
func RMSNorm(x, gain tensor.View, eps float32) (*tensor.Tensor, error) {
	defer metrics.ObserveKernel("rmsnorm", time.Now())

	if x.Rank() == 0 {
		return nil, shapeErr("rmsnorm", "scalar input")
	}
	d := x.Dim(x.Rank() - 1)
	if gain.Rank() != 1 || gain.Dim(0) != d {
		return nil, shapeErr("rmsnorm", "gain shape %v, want [%d]", gain.Shape(), d)
	}

	rows := x.Numel() / d
	out := tensor.Empty(x.Shape(), tensor.F32)
	dst := out.Floats()

	parallelFor(rows, func(lo, hi int) {
		for row := lo; row < hi; row++ {
			off := row * d
			var sum float32
			for i := 0; i < d; i++ {
				v := x.At(off + i)
				sum += v * v
			}
			inv := float32(1.0 / math.Sqrt(float64(sum/float32(d))+float64(eps)))
			for i := 0; i < d; i++ {
				dst[off+i] = x.At(off+i) * inv * gain.At(i)
			}
		}
	})
	return out, nil
}

// Softmax applies a numerically stable softmax over the last axis.
// Each row has its max subtracted before exponentiation, so any finite
// row produces a valid distribution.
func Softmax(x tensor.View) (*tensor.Tensor, error) {
	defer metrics.ObserveKernel("softmax", time.Now())

	if x.Rank() == 0 || x.Numel() == 0 {
		return nil, shapeErr("softmax", "empty input %v", x.Shape())
	}
	d := x.Dim(x.Rank() - 1)
	rows := x.Numel() / d

	out := tensor.Empty(x.Shape(), tensor.F32)
	dst := out.Floats()

	for row := 0; row < rows; row++ {
		off := row * d
		max := x.At(off)
		for i := 1; i < d; i++ {
			if v := x.At(off + i); v > max {
				max = v
			}
		}
		var sum float32
		for i := 0; i < d; i++ {
			e := float32(math.Exp(float64(x.At(off+i) - max)))
			dst[off+i] = e
			sum += e
		}
		if sum > 0 {
			inv := 1.0 / sum
			for i := 0; i < d; i++ {
				dst[off+i] *= inv
			}
		}
	}
	return out, nil
}
