package engine

import (
	"math/rand"

	"github.com/23skdu/longbow-bodkin/internal/config"
	"github.com/23skdu/longbow-bodkin/internal/tensor"
)

// testConfig is the small model every engine test runs with:
// d_model=32, 2 layers, 4 query heads over 2 KV heads, vocab 256.
func testConfig() config.Config {
	cfg := config.Default()
	cfg.Dim = 32
	cfg.HiddenDim = 64
	cfg.Layers = 2
	cfg.Heads = 4
	cfg.KVHeads = 2
	cfg.VocabSize = 256
	cfg.SeqLen = 32
	cfg.Derive()
	return cfg
}

// newTestWeights builds randomly initialized in-memory weights for
// cfg. The same seed always produces identical tensors.
func newTestWeights(cfg config.Config, seed int64) *ModelWeights {
	r := rand.New(rand.NewSource(seed))

	mk := func(shape ...int) tensor.View {
		vals := make([]float32, tensor.Numel(shape))
		for i := range vals {
			vals[i] = float32(r.NormFloat64()) * 0.05
		}
		return tensor.FromFloats(vals, shape...).View
	}
	gain := func(n int) *tensor.View {
		vals := make([]float32, n)
		for i := range vals {
			vals[i] = 1
		}
		v := tensor.FromFloats(vals, n).View
		return &v
	}

	w := &ModelWeights{
		TokenEmb:  mk(cfg.VocabSize, cfg.Dim),
		LMHead:    mk(cfg.VocabSize, cfg.Dim),
		FinalNorm: *gain(cfg.Dim),
		Layers:    make([]LayerWeights, cfg.Layers),
	}
	for l := range w.Layers {
		up := mk(cfg.HiddenDim, cfg.Dim)
		w.Layers[l] = LayerWeights{
			Attn: AttentionWeights{
				Wq: mk(cfg.Heads*cfg.HeadDim, cfg.Dim),
				Wk: mk(cfg.KVHeads*cfg.HeadDim, cfg.Dim),
				Wv: mk(cfg.KVHeads*cfg.HeadDim, cfg.Dim),
				Wo: mk(cfg.Dim, cfg.Heads*cfg.HeadDim),
			},
			MLP: MLPWeights{
				W1: mk(cfg.HiddenDim, cfg.Dim),
				W2: mk(cfg.Dim, cfg.HiddenDim),
				W3: &up,
			},
			InputNorm:    gain(cfg.Dim),
			PostAttnNorm: gain(cfg.Dim),
		}
	}
	return w
}
