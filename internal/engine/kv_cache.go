package engine

import (
	"encoding/binary"

	"github.com/23skdu/longbow-bodkin/internal/logger"
	"github.com/23skdu/longbow-bodkin/internal/metrics"
	"github.com/23skdu/longbow-bodkin/internal/tensor"
)

// KVCacheConfig sizes the preallocated store. Storage is always F16;
// conversions to and from F32 happen at the Append/read boundary.
type KVCacheConfig struct {
	Layers    int
	MaxSeqLen int
	KVHeads   int
	HeadDim   int
}

// KVCache holds past K and V projections in two contiguous F16 buffers
// of shape [layers, max_seq_len, kv_heads, head_dim]. The full budget
// is committed at construction; nothing grows afterwards.
type KVCache struct {
	cfg KVCacheConfig

	k *tensor.Tensor
	v *tensor.Tensor

	// row-major strides in elements over the 4-d store
	strideLayer int
	strideSeq   int
	strideHead  int

	maxPos int64
}

// NewKVCache allocates both stores and records the byte budget.
func NewKVCache(cfg KVCacheConfig) (*KVCache, error) {
	if cfg.Layers <= 0 || cfg.MaxSeqLen <= 0 || cfg.KVHeads <= 0 || cfg.HeadDim <= 0 {
		return nil, &OutOfRangeError{What: "kv cache dim", Index: 0, Limit: 1}
	}

	shape := []int{cfg.Layers, cfg.MaxSeqLen, cfg.KVHeads, cfg.HeadDim}
	c := &KVCache{
		cfg:         cfg,
		k:           tensor.Empty(shape, tensor.F16),
		v:           tensor.Empty(shape, tensor.F16),
		strideLayer: cfg.MaxSeqLen * cfg.KVHeads * cfg.HeadDim,
		strideSeq:   cfg.KVHeads * cfg.HeadDim,
		strideHead:  cfg.HeadDim,
		maxPos:      -1,
	}

	capacity := int64(2 * len(c.k.Bytes()))
	metrics.RecordKVCacheStats(capacity, 0)
	logger.Log.Info("kv cache allocated",
		"layers", cfg.Layers,
		"seq", cfg.MaxSeqLen,
		"kv_heads", cfg.KVHeads,
		"head_dim", cfg.HeadDim,
		"bytes", capacity)
	return c, nil
}

// Append writes the F32 K and V rows for (layer, pos), converting each
// element to F16. K arrives post-RoPE. Writing the same position twice
// overwrites, which prompt reprocessing relies on.
func (c *KVCache) Append(layer int, pos int64, k, v tensor.View) error {
	if layer < 0 || layer >= c.cfg.Layers {
		metrics.KVCacheOutOfBounds.Inc()
		return &OutOfRangeError{What: "kv cache layer", Index: int64(layer), Limit: int64(c.cfg.Layers)}
	}
	if pos < 0 || pos >= int64(c.cfg.MaxSeqLen) {
		metrics.KVCacheOutOfBounds.Inc()
		return &OutOfRangeError{What: "kv cache position", Index: pos, Limit: int64(c.cfg.MaxSeqLen)}
	}
	for _, in := range []tensor.View{k, v} {
		if in.Rank() != 2 || in.Dim(0) != c.cfg.KVHeads || in.Dim(1) != c.cfg.HeadDim {
			return &OutOfRangeError{What: "kv row shape", Index: int64(in.Numel()), Limit: int64(c.cfg.KVHeads * c.cfg.HeadDim)}
		}
	}

	kb := c.k.Bytes()
	vb := c.v.Bytes()
	base := layer*c.strideLayer + int(pos)*c.strideSeq
	for h := 0; h < c.cfg.KVHeads; h++ {
		for d := 0; d < c.cfg.HeadDim; d++ {
			src := h*c.cfg.HeadDim + d
			dst := (base + h*c.strideHead + d) * 2
			binary.LittleEndian.PutUint16(kb[dst:], tensor.F32ToF16(k.At(src)))
			binary.LittleEndian.PutUint16(vb[dst:], tensor.F32ToF16(v.At(src)))
		}
	}

	if pos > c.maxPos {
		c.maxPos = pos
	}
	used := int64(2 * (c.maxPos + 1) * int64(c.strideSeq) * int64(c.cfg.Layers) * 2)
	metrics.KVCacheUsedBytes.Set(float64(used))
	return nil
}

// KView returns a non-owning F16 view over the full K store. Callers
// must only read positions at or below the highest appended position.
func (c *KVCache) KView() tensor.View { return c.k.View }

// VView returns the matching view over the V store.
func (c *KVCache) VView() tensor.View { return c.v.View }

// Offset computes the flat element index of (layer, pos, kvHead, d)
// in either store's view.
func (c *KVCache) Offset(layer int, pos int64, kvHead, d int) int {
	return layer*c.strideLayer + int(pos)*c.strideSeq + kvHead*c.strideHead + d
}

// Config returns the construction-time sizing.
func (c *KVCache) Config() KVCacheConfig { return c.cfg }
