package engine

import (
	"math"

	"github.com/23skdu/longbow-bodkin/internal/config"
	"github.com/23skdu/longbow-bodkin/internal/cpu"
	"github.com/23skdu/longbow-bodkin/internal/tensor"
)

// AttentionForward runs one layer's grouped-query self-attention for
// the token at pos. x is the pre-normed hidden state [d_model]. The
// layer's K and V rows are appended to the cache at pos, then scores
// are taken against cache positions 0..pos, so no causal mask is
// needed: later slots are simply never read.
func AttentionForward(x tensor.View, w AttentionWeights, cfg *config.Config, cache *KVCache, layer int, pos int64) (*tensor.Tensor, error) {
	heads := cfg.Heads
	kvHeads := cfg.KVHeads
	headDim := cfg.HeadDim

	if x.Numel() != cfg.Dim {
		return nil, &cpu.ShapeError{Kernel: "attention", Detail: "input size mismatch"}
	}
	if w.Wq.Rank() != 2 || w.Wq.Dim(0) != heads*headDim || w.Wq.Dim(1) != cfg.Dim {
		return nil, &cpu.ShapeError{Kernel: "attention", Detail: "Wq shape mismatch"}
	}
	for _, kv := range []tensor.View{w.Wk, w.Wv} {
		if kv.Rank() != 2 || kv.Dim(0) != kvHeads*headDim || kv.Dim(1) != cfg.Dim {
			return nil, &cpu.ShapeError{Kernel: "attention", Detail: "Wk/Wv shape mismatch"}
		}
	}
	if w.Wo.Rank() != 2 || w.Wo.Dim(0) != cfg.Dim || w.Wo.Dim(1) != heads*headDim {
		return nil, &cpu.ShapeError{Kernel: "attention", Detail: "Wo shape mismatch"}
	}

	// Project to q/k/v, F32 regardless of weight dtype
	q, err := cpu.Linear(x, w.Wq, w.Bq)
	if err != nil {
		return nil, err
	}
	k, err := cpu.Linear(x, w.Wk, w.Bk)
	if err != nil {
		return nil, err
	}
	v, err := cpu.Linear(x, w.Wv, w.Bv)
	if err != nil {
		return nil, err
	}

	// Per-head views over the projection buffers
	qh, err := tensor.NewView(q.Bytes(), tensor.F32, []int{heads, headDim})
	if err != nil {
		return nil, err
	}
	kh, err := tensor.NewView(k.Bytes(), tensor.F32, []int{kvHeads, headDim})
	if err != nil {
		return nil, err
	}
	vh, err := tensor.NewView(v.Bytes(), tensor.F32, []int{kvHeads, headDim})
	if err != nil {
		return nil, err
	}

	// Rotate q and k for this position; v is not rotated
	rotary := cfg.RotaryDim()
	table, err := cpu.RopeTable(pos, rotary, cfg.RopeTheta)
	if err != nil {
		return nil, err
	}
	if err := cpu.ApplyRope(qh, kh, table, rotary); err != nil {
		return nil, err
	}

	if err := cache.Append(layer, pos, kh, vh); err != nil {
		return nil, err
	}

	// Scaled dot-product against cached keys, grouped-query mapping:
	// consecutive groups of gqa query heads share one KV head.
	kView := cache.KView()
	vView := cache.VView()
	gqa := cfg.GQAGroup()
	seqLen := int(pos) + 1
	scale := float32(1.0 / math.Sqrt(float64(headDim)))

	scores := tensor.Empty([]int{heads, seqLen}, tensor.F32)
	sf := scores.Floats()
	qf := qh.Floats()
	for h := 0; h < heads; h++ {
		kvh := h / gqa
		qrow := qf[h*headDim : (h+1)*headDim]
		for t := 0; t < seqLen; t++ {
			off := cache.Offset(layer, int64(t), kvh, 0)
			var dot float32
			for d := 0; d < headDim; d++ {
				dot += qrow[d] * kView.At(off+d)
			}
			sf[h*seqLen+t] = dot * scale
		}
	}

	attn, err := cpu.Softmax(scores.View)
	if err != nil {
		return nil, err
	}
	af := attn.Floats()

	// Weighted sum over cached values
	ctx := tensor.Empty([]int{heads, headDim}, tensor.F32)
	cf := ctx.Floats()
	for h := 0; h < heads; h++ {
		kvh := h / gqa
		crow := cf[h*headDim : (h+1)*headDim]
		for t := 0; t < seqLen; t++ {
			a := af[h*seqLen+t]
			off := cache.Offset(layer, int64(t), kvh, 0)
			for d := 0; d < headDim; d++ {
				crow[d] += a * vView.At(off+d)
			}
		}
	}

	// Flatten heads and project back to d_model
	ctxFlat, err := tensor.NewView(ctx.Bytes(), tensor.F32, []int{heads * headDim})
	if err != nil {
		return nil, err
	}
	return cpu.Linear(ctxFlat, w.Wo, w.Bo)
}
