package cpu

import (
	"math"
	"math/rand"
	"testing"

	"github.com/23skdu/longbow-bodkin/internal/tensor"
)

func TestRMSNormReference(t *testing.T) {
	x := tensor.FromFloats([]float32{1, 2, 3, 4}, 1, 4)
	gain := tensor.FromFloats([]float32{1, 1, 1, 1}, 4)

	out, err := RMSNorm(x.View, gain.View, 0)
	if err != nil {
		t.Fatalf("RMSNorm: %v", err)
	}

	rms := float32(math.Sqrt(30.0 / 4.0))
	for i, v := range []float32{1, 2, 3, 4} {
		want := v / rms
		if got := out.Floats()[i]; math.Abs(float64(got-want)) > 1e-6 {
			t.Errorf("out[%d] = %f, want %f", i, got, want)
		}
	}
}

func TestRMSNormUnitOutput(t *testing.T) {
	// gamma = 1 and eps = 0 give unit-RMS output
	r := rand.New(rand.NewSource(11))
	d := 64
	xv := randFloats(r, d)
	x := tensor.FromFloats(xv, d)
	gain := tensor.FromFloats(ones(d), d)

	out, err := RMSNorm(x.View, gain.View, 0)
	if err != nil {
		t.Fatal(err)
	}
	var sum float64
	for _, v := range out.Floats() {
		sum += float64(v) * float64(v)
	}
	rms := math.Sqrt(sum / float64(d))
	if math.Abs(rms-1.0) > 1e-5 {
		t.Errorf("output RMS = %f, want 1", rms)
	}
}

func TestRMSNormScaleInvariance(t *testing.T) {
	r := rand.New(rand.NewSource(12))
	d := 32
	xv := randFloats(r, d)
	scaled := make([]float32, d)
	for i, v := range xv {
		scaled[i] = v * 37.5
	}
	gain := tensor.FromFloats(randFloats(r, d), d)

	a, err := RMSNorm(tensor.FromFloats(xv, d).View, gain.View, 0)
	if err != nil {
		t.Fatal(err)
	}
	b, err := RMSNorm(tensor.FromFloats(scaled, d).View, gain.View, 0)
	if err != nil {
		t.Fatal(err)
	}
	for i := range a.Floats() {
		if math.Abs(float64(a.Floats()[i]-b.Floats()[i])) > 1e-4 {
			t.Errorf("scale changed result at %d: %f vs %f", i, a.Floats()[i], b.Floats()[i])
		}
	}
}

func TestRMSNormGainShapeError(t *testing.T) {
	x := tensor.FromFloats(make([]float32, 8), 2, 4)
	gain := tensor.FromFloats(make([]float32, 3), 3)
	if _, err := RMSNorm(x.View, gain.View, 1e-5); err == nil {
		t.Error("expected gain shape error")
	}
}

func TestSoftmaxDistribution(t *testing.T) {
	r := rand.New(rand.NewSource(21))
	x := tensor.FromFloats(randFloats(r, 12), 3, 4)

	out, err := Softmax(x.View)
	if err != nil {
		t.Fatalf("Softmax: %v", err)
	}
	f := out.Floats()
	for row := 0; row < 3; row++ {
		var sum float64
		for i := 0; i < 4; i++ {
			v := f[row*4+i]
			if v < 0 {
				t.Errorf("negative probability %f", v)
			}
			sum += float64(v)
		}
		if math.Abs(sum-1.0) > 1e-5 {
			t.Errorf("row %d sums to %f", row, sum)
		}
	}
}

func TestSoftmaxShiftInvariance(t *testing.T) {
	xv := []float32{0.5, -1.5, 2.0, 0.0}
	shifted := make([]float32, len(xv))
	for i, v := range xv {
		shifted[i] = v + 123.0
	}

	a, err := Softmax(tensor.FromFloats(xv, 4).View)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Softmax(tensor.FromFloats(shifted, 4).View)
	if err != nil {
		t.Fatal(err)
	}
	for i := range a.Floats() {
		if math.Abs(float64(a.Floats()[i]-b.Floats()[i])) > 1e-6 {
			t.Errorf("shift changed softmax at %d", i)
		}
	}
}

func TestSoftmaxStability(t *testing.T) {
	x := tensor.FromFloats([]float32{0, 1000, -1000}, 3)
	out, err := Softmax(x.View)
	if err != nil {
		t.Fatalf("Softmax: %v", err)
	}
	f := out.Floats()
	want := []float32{0, 1, 0}
	for i, w := range want {
		if f[i] != f[i] {
			t.Fatalf("NaN at %d", i)
		}
		if math.Abs(float64(f[i]-w)) > 1e-30 {
			t.Errorf("out[%d] = %g, want %g", i, f[i], w)
		}
	}
}

func ones(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = 1
	}
	return out
}
