package cpu

import (
	"runtime"
	"sync"
	"time"

	"github.com/23skdu/longbow-bodkin/internal/metrics"
	"github.com/23skdu/longbow-bodkin/internal/tensor"
)

// parallelFor splits [0, n) into NumCPU chunks and runs fn on each.
// Chunks write disjoint output regions, so no synchronization beyond
// the final wait is needed.
func parallelFor(n int, fn func(lo, hi int)) {
	workers := runtime.NumCPU()
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		fn(0, n)
		return
	}
	chunk := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for lo := 0; lo < n; lo += chunk {
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			fn(lo, hi)
		}(lo, hi)
	}
	wg.Wait()
}

// floatsOrNil returns the zero-copy F32 slice for fast-path loops, or
// nil when the view needs per-element dtype conversion.
func floatsOrNil(v tensor.View) []float32 {
	if v.Dtype() == tensor.F32 {
		return v.Floats()
	}
	return nil
}

// Linear computes y = x @ W^T + bias with F32 accumulation. x is
// [D_in] or [N, D_in]; W is stored out-dim first as [D_out, D_in];
// bias, when present, is [D_out]. x and W may carry different storage
// dtypes independently; every element is converted to F32 on load.
func Linear(x, w tensor.View, bias *tensor.View) (*tensor.Tensor, error) {
	defer metrics.ObserveKernel("linear", time.Now())

	var n, din int
	switch x.Rank() {
	case 1:
		n, din = 1, x.Dim(0)
	case 2:
		n, din = x.Dim(0), x.Dim(1)
	default:
		return nil, shapeErr("linear", "x must be rank 1 or 2, got shape %v", x.Shape())
	}
	if w.Rank() != 2 || w.Dim(1) != din {
		return nil, shapeErr("linear", "weight shape %v incompatible with input %v", w.Shape(), x.Shape())
	}
	dout := w.Dim(0)
	if bias != nil && (bias.Rank() != 1 || bias.Dim(0) != dout) {
		return nil, shapeErr("linear", "bias shape %v, want [%d]", bias.Shape(), dout)
	}

	outShape := []int{dout}
	if x.Rank() == 2 {
		outShape = []int{n, dout}
	}
	out := tensor.Empty(outShape, tensor.F32)
	dst := out.Floats()

	xf := floatsOrNil(x)
	wf := floatsOrNil(w)

	for row := 0; row < n; row++ {
		xoff := row * din
		ooff := row * dout
		parallelFor(dout, func(lo, hi int) {
			for o := lo; o < hi; o++ {
				woff := o * din
				var sum float32
				if xf != nil && wf != nil {
					xr := xf[xoff : xoff+din]
					wr := wf[woff : woff+din]
					for k := range xr {
						sum += xr[k] * wr[k]
					}
				} else {
					for k := 0; k < din; k++ {
						sum += x.At(xoff+k) * w.At(woff+k)
					}
				}
				if bias != nil {
					sum += bias.At(o)
				}
				dst[ooff+o] = sum
			}
		})
	}
	return out, nil
}

// MatMul computes A @ B into an F32 [M, N] tensor. A is [M, K]; B is
// [K, N], or [N, K] when transposeB is set.
func MatMul(a, b tensor.View, transposeB bool) (*tensor.Tensor, error) {
	defer metrics.ObserveKernel("matmul", time.Now())

	if a.Rank() != 2 || b.Rank() != 2 {
		return nil, shapeErr("matmul", "operands must be rank 2, got %v x %v", a.Shape(), b.Shape())
	}
	m, k := a.Dim(0), a.Dim(1)
	var n int
	if transposeB {
		if b.Dim(1) != k {
			return nil, shapeErr("matmul", "inner dims %d != %d (transposed B %v)", k, b.Dim(1), b.Shape())
		}
		n = b.Dim(0)
	} else {
		if b.Dim(0) != k {
			return nil, shapeErr("matmul", "inner dims %d != %d (B %v)", k, b.Dim(0), b.Shape())
		}
		n = b.Dim(1)
	}

	out := tensor.Empty([]int{m, n}, tensor.F32)
	dst := out.Floats()

	parallelFor(m, func(lo, hi int) {
		for row := lo; row < hi; row++ {
			for col := 0; col < n; col++ {
				var sum float32
				for i := 0; i < k; i++ {
					av := a.At(row*k + i)
					var bv float32
					if transposeB {
						bv = b.At(col*k + i)
					} else {
						bv = b.At(i*n + col)
					}
					sum += av * bv
				}
				dst[row*n+col] = sum
			}
		}
	})
	return out, nil
}

// Mul is the elementwise product; shapes must match exactly.
func Mul(a, b tensor.View) (*tensor.Tensor, error) {
	if !sameShape(a.Shape(), b.Shape()) {
		return nil, shapeErr("mul", "shape mismatch %v vs %v", a.Shape(), b.Shape())
	}
	out := tensor.Empty(a.Shape(), tensor.F32)
	dst := out.Floats()
	for i := range dst {
		dst[i] = a.At(i) * b.At(i)
	}
	return out, nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
