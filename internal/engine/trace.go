package engine

import "math"

// ActivationStats summarizes one activation tensor observed during a
// decode step. Used by the capture tooling to localize numerical
// drift to a layer.
type ActivationStats struct {
	Name  string
	Layer int
	Pos   int64
	Min   float32
	Max   float32
	Mean  float32
	RMS   float32
	NaNs  int
	Infs  int
}

// Tracer accumulates activation statistics across decode steps. It is
// inert unless enabled, so the decode hot path pays one branch.
type Tracer struct {
	enabled bool
	stats   []ActivationStats
}

func NewTracer() *Tracer {
	return &Tracer{enabled: true}
}

func (t *Tracer) Collect(name string, layer int, pos int64, vals []float32) {
	if t == nil || !t.enabled || len(vals) == 0 {
		return
	}
	s := ActivationStats{Name: name, Layer: layer, Pos: pos}
	s.Min = vals[0]
	s.Max = vals[0]
	var sum, sumSq float64
	for _, v := range vals {
		if v != v {
			s.NaNs++
			continue
		}
		if math.IsInf(float64(v), 0) {
			s.Infs++
			continue
		}
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
		sum += float64(v)
		sumSq += float64(v) * float64(v)
	}
	n := float64(len(vals))
	s.Mean = float32(sum / n)
	s.RMS = float32(math.Sqrt(sumSq / n))
	t.stats = append(t.stats, s)
}

func (t *Tracer) Stats() []ActivationStats {
	if t == nil {
		return nil
	}
	return t.stats
}

func (t *Tracer) Reset() {
	if t != nil {
		t.stats = t.stats[:0]
	}
}
