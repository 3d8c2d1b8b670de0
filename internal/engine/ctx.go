package engine

import (
	"fmt"
	"time"

	"github.com/23skdu/longbow-bodkin/internal/config"
	"github.com/23skdu/longbow-bodkin/internal/cpu"
	"github.com/23skdu/longbow-bodkin/internal/logger"
	"github.com/23skdu/longbow-bodkin/internal/metrics"
	"github.com/23skdu/longbow-bodkin/internal/tensor"
)

// Ctx is a single-request decode context: immutable weights plus one
// KV cache. It is not safe for concurrent use; distinct contexts may
// share the same ModelWeights since the mapping is read-only.
type Ctx struct {
	cfg    config.Config
	w      *ModelWeights
	cache  *KVCache
	tracer *Tracer
}

// NewCtx validates the config, derives head dims, and preallocates the
// KV cache for maxSeqLen positions (cfg.SeqLen when zero).
func NewCtx(cfg config.Config, w *ModelWeights, maxSeqLen int) (*Ctx, error) {
	cfg.Derive()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if len(w.Layers) != cfg.Layers {
		return nil, fmt.Errorf("weights carry %d layers, config says %d", len(w.Layers), cfg.Layers)
	}
	if maxSeqLen <= 0 {
		maxSeqLen = cfg.SeqLen
	}

	cache, err := NewKVCache(KVCacheConfig{
		Layers:    cfg.Layers,
		MaxSeqLen: maxSeqLen,
		KVHeads:   cfg.KVHeads,
		HeadDim:   cfg.HeadDim,
	})
	if err != nil {
		return nil, err
	}

	return &Ctx{cfg: cfg, w: w, cache: cache}, nil
}

// Config returns the derived, validated config the context runs with.
func (c *Ctx) Config() config.Config { return c.cfg }

// Cache exposes the context's KV cache; tests read it back directly.
func (c *Ctx) Cache() *KVCache { return c.cache }

// EnableTrace turns on activation statistics collection.
func (c *Ctx) EnableTrace() *Tracer {
	c.tracer = NewTracer()
	return c.tracer
}

// ForwardDecode produces next-token logits for tokenID at pos.
// Positions must increase across calls within a generation run;
// repeating a position overwrites its cache slot in every layer, which
// prompt reprocessing uses. Any error leaves the cache as-is and the
// context must be treated as terminal.
func (c *Ctx) ForwardDecode(tokenID int32, pos int64) ([]float32, error) {
	start := time.Now()

	if tokenID < 0 || int(tokenID) >= c.cfg.VocabSize {
		return nil, &OutOfRangeError{What: "token id", Index: int64(tokenID), Limit: int64(c.cfg.VocabSize)}
	}
	if pos < 0 || pos >= int64(c.cache.Config().MaxSeqLen) {
		return nil, &OutOfRangeError{What: "position", Index: pos, Limit: int64(c.cache.Config().MaxSeqLen)}
	}

	// Embedding lookup, converting the stored dtype to F32
	x := tensor.Empty([]int{c.cfg.Dim}, tensor.F32)
	xf := x.Floats()
	row := int(tokenID) * c.cfg.Dim
	for d := 0; d < c.cfg.Dim; d++ {
		xf[d] = c.w.TokenEmb.At(row + d)
	}

	for l := range c.w.Layers {
		lw := &c.w.Layers[l]

		normed := x.View
		if lw.InputNorm != nil {
			n, err := cpu.RMSNorm(x.View, *lw.InputNorm, c.cfg.Eps)
			if err != nil {
				return nil, fmt.Errorf("layer %d input norm: %w", l, err)
			}
			normed = n.View
		}

		attnOut, err := AttentionForward(normed, lw.Attn, &c.cfg, c.cache, l, pos)
		if err != nil {
			return nil, fmt.Errorf("layer %d attention: %w", l, err)
		}
		af := attnOut.Floats()
		for i := range xf {
			xf[i] += af[i]
		}
		c.tracer.Collect("attn_out", l, pos, xf)

		normed = x.View
		if lw.PostAttnNorm != nil {
			n, err := cpu.RMSNorm(x.View, *lw.PostAttnNorm, c.cfg.Eps)
			if err != nil {
				return nil, fmt.Errorf("layer %d ffn norm: %w", l, err)
			}
			normed = n.View
		}

		mlpOut, err := MLPForward(normed, lw.MLP, &c.cfg)
		if err != nil {
			return nil, fmt.Errorf("layer %d mlp: %w", l, err)
		}
		mf := mlpOut.Floats()
		for i := range xf {
			xf[i] += mf[i]
		}
		c.tracer.Collect("ffn_out", l, pos, xf)
	}

	final, err := cpu.RMSNorm(x.View, c.w.FinalNorm, c.cfg.Eps)
	if err != nil {
		return nil, fmt.Errorf("final norm: %w", err)
	}

	logits, err := cpu.Linear(final.View, c.w.LMHead, nil)
	if err != nil {
		return nil, fmt.Errorf("lm head: %w", err)
	}

	out := logits.Floats()
	nans := 0
	for _, v := range out {
		if v != v {
			nans++
		}
	}
	if nans > 0 {
		metrics.LogitNaNCount.Add(float64(nans))
		logger.Log.Warn("NaN logits", "count", nans, "pos", pos)
	}
	c.tracer.Collect("logits", -1, pos, out)

	metrics.RecordDecode(time.Since(start))
	return out, nil
}

// Generate prefills the prompt token ids then greedily decodes up to
// maxNew tokens. Callers supply and receive integer ids; tokenization
// lives outside the engine.
func (c *Ctx) Generate(prompt []int32, maxNew int) ([]int32, error) {
	if len(prompt) == 0 {
		return nil, fmt.Errorf("empty prompt")
	}

	var logits []float32
	var err error
	pos := int64(0)
	for _, t := range prompt {
		if logits, err = c.ForwardDecode(t, pos); err != nil {
			return nil, err
		}
		pos++
	}

	maxSeq := int64(c.cache.Config().MaxSeqLen)
	out := make([]int32, 0, maxNew)
	for i := 0; i < maxNew; i++ {
		next := Argmax(logits)
		out = append(out, next)
		if pos >= maxSeq {
			break
		}
		if logits, err = c.ForwardDecode(next, pos); err != nil {
			return out, err
		}
		pos++
	}
	return out, nil
}

// Argmax returns the index of the largest logit.
func Argmax(logits []float32) int32 {
	best := 0
	for i := 1; i < len(logits); i++ {
		if logits[i] > logits[best] {
			best = i
		}
	}
	return int32(best)
}
