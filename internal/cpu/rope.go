package cpu

import (
	"math"

	"github.com/23skdu/longbow-bodkin/internal/tensor"
)

// RopeTable precomputes the rotation table for one position: an
// interleaved [cos, sin] pair per rotary pair index, derived from
// theta_i = ropeTheta^(-2i / rotaryDim). Q and K share the table
// since both sit at the same position during decode.
func RopeTable(pos int64, rotaryDim int, ropeTheta float32) ([]float32, error) {
	if rotaryDim <= 0 || rotaryDim%2 != 0 {
		return nil, shapeErr("rope", "rotary_dim %d must be positive and even", rotaryDim)
	}
	pairs := rotaryDim / 2
	table := make([]float32, 2*pairs)
	for i := 0; i < pairs; i++ {
		theta := math.Pow(float64(ropeTheta), -2.0*float64(i)/float64(rotaryDim))
		angle := float64(pos) * theta
		table[2*i] = float32(math.Cos(angle))
		table[2*i+1] = float32(math.Sin(angle))
	}
	return table, nil
}

// ApplyRope rotates the first rotaryDim entries of every head row of q
// and k in place, treating them as consecutive (x, y) pairs. Entries
// past rotaryDim are left untouched. Both views must be F32 [H, head_dim]
// (H may differ between q and k under GQA).
func ApplyRope(q, k tensor.View, table []float32, rotaryDim int) error {
	if len(table) != rotaryDim {
		return shapeErr("rope", "table holds %d values, want %d", len(table), rotaryDim)
	}
	for _, v := range []tensor.View{q, k} {
		if v.Dtype() != tensor.F32 {
			return shapeErr("rope", "operand dtype %s, want F32", v.Dtype())
		}
		if v.Rank() != 2 || v.Dim(1) < rotaryDim {
			return shapeErr("rope", "operand shape %v incompatible with rotary_dim %d", v.Shape(), rotaryDim)
		}
	}

	rotate := func(v tensor.View) {
		f := v.Floats()
		heads, headDim := v.Dim(0), v.Dim(1)
		for h := 0; h < heads; h++ {
			base := h * headDim
			for i := 0; i+1 < rotaryDim; i += 2 {
				c, s := table[i], table[i+1]
				x0 := f[base+i]
				y0 := f[base+i+1]
				f[base+i] = x0*c - y0*s
				f[base+i+1] = x0*s + y0*c
			}
		}
	}
	rotate(q)
	rotate(k)
	return nil
}
