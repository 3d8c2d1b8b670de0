package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/23skdu/longbow-bodkin/internal/config"
	"github.com/23skdu/longbow-bodkin/internal/logger"
	"github.com/23skdu/longbow-bodkin/internal/safetensors"
	"github.com/23skdu/longbow-bodkin/internal/tensor"
)

// LoadModel reads config.json from dir, opens the safetensors
// checkpoint (consolidated.safetensors preferred, model.safetensors
// fallback), and binds every tensor the decode pipeline needs. Both
// the Mistral consolidated naming and the HuggingFace naming are
// accepted. The returned weights own the mapping; close them to
// release it.
func LoadModel(dir string) (config.Config, *ModelWeights, error) {
	cfg, err := config.LoadJSON(filepath.Join(dir, "config.json"))
	if err != nil {
		return config.Config{}, nil, err
	}

	stPath := filepath.Join(dir, "consolidated.safetensors")
	if _, err := os.Stat(stPath); err != nil {
		stPath = filepath.Join(dir, "model.safetensors")
	}

	r, err := safetensors.Open(stPath)
	if err != nil {
		return config.Config{}, nil, err
	}

	w, err := bindWeights(r, &cfg)
	if err != nil {
		_ = r.Close()
		return config.Config{}, nil, err
	}

	logger.Log.Info("model loaded",
		"dir", dir,
		"layers", cfg.Layers,
		"dim", cfg.Dim,
		"heads", cfg.Heads,
		"kv_heads", cfg.KVHeads,
		"vocab", cfg.VocabSize)
	return cfg, w, nil
}

func bindWeights(r *safetensors.Reader, cfg *config.Config) (*ModelWeights, error) {
	find := func(names ...string) (tensor.View, error) {
		for _, n := range names {
			v, err := r.Tensor(n)
			if err == nil {
				return v, nil
			}
			var nf *safetensors.NotFoundError
			if !errors.As(err, &nf) {
				return tensor.View{}, err
			}
		}
		return tensor.View{}, &MissingTensorError{Names: names}
	}
	optional := func(names ...string) *tensor.View {
		for _, n := range names {
			if v, err := r.Tensor(n); err == nil {
				return &v
			}
		}
		return nil
	}

	w := &ModelWeights{}

	emb, err := find("tok_embeddings.weight", "model.embed_tokens.weight")
	if err != nil {
		return nil, err
	}
	w.TokenEmb = emb

	if emb.Rank() != 2 {
		return nil, fmt.Errorf("token embeddings must be rank 2, got %v", emb.Shape())
	}
	if cfg.VocabSize == 0 {
		cfg.VocabSize = emb.Dim(0)
	}
	if cfg.Dim == 0 {
		cfg.Dim = emb.Dim(1)
	}
	if emb.Dim(0) != cfg.VocabSize || emb.Dim(1) != cfg.Dim {
		return nil, fmt.Errorf("token embeddings %v, config says [%d, %d]", emb.Shape(), cfg.VocabSize, cfg.Dim)
	}

	norm, err := find("norm.weight", "model.norm.weight")
	if err != nil {
		return nil, err
	}
	w.FinalNorm = norm

	if head := optional("output.weight", "lm_head.weight"); head != nil {
		w.LMHead = *head
	} else if cfg.TiedHead {
		// Weight tying: both views share the embedding backing
		w.LMHead = w.TokenEmb
		logger.Log.Debug("lm head tied to token embeddings")
	} else {
		return nil, &MissingTensorError{Names: []string{"output.weight", "lm_head.weight"}}
	}

	w.Layers = make([]LayerWeights, cfg.Layers)
	for l := 0; l < cfg.Layers; l++ {
		mp := fmt.Sprintf("layers.%d.", l)
		hp := fmt.Sprintf("model.layers.%d.", l)
		lw := &w.Layers[l]

		if lw.Attn.Wq, err = find(mp+"attention.wq.weight", hp+"self_attn.q_proj.weight"); err != nil {
			return nil, err
		}
		if lw.Attn.Wk, err = find(mp+"attention.wk.weight", hp+"self_attn.k_proj.weight"); err != nil {
			return nil, err
		}
		if lw.Attn.Wv, err = find(mp+"attention.wv.weight", hp+"self_attn.v_proj.weight"); err != nil {
			return nil, err
		}
		if lw.Attn.Wo, err = find(mp+"attention.wo.weight", hp+"self_attn.o_proj.weight"); err != nil {
			return nil, err
		}
		lw.Attn.Bq = optional(mp+"attention.wq.bias", hp+"self_attn.q_proj.bias")
		lw.Attn.Bk = optional(mp+"attention.wk.bias", hp+"self_attn.k_proj.bias")
		lw.Attn.Bv = optional(mp+"attention.wv.bias", hp+"self_attn.v_proj.bias")
		lw.Attn.Bo = optional(mp+"attention.wo.bias", hp+"self_attn.o_proj.bias")

		if lw.MLP.W1, err = find(mp+"feed_forward.w1.weight", hp+"mlp.gate_proj.weight"); err != nil {
			return nil, err
		}
		if lw.MLP.W2, err = find(mp+"feed_forward.w2.weight", hp+"mlp.down_proj.weight"); err != nil {
			return nil, err
		}
		lw.MLP.W3 = optional(mp+"feed_forward.w3.weight", hp+"mlp.up_proj.weight")
		if lw.MLP.W3 == nil {
			logger.Log.Warn("layer missing up projection; mlp forward will reject it", "layer", l)
		}
		lw.MLP.B1 = optional(mp+"feed_forward.w1.bias", hp+"mlp.gate_proj.bias")
		lw.MLP.B2 = optional(mp+"feed_forward.w2.bias", hp+"mlp.down_proj.bias")
		lw.MLP.B3 = optional(mp+"feed_forward.w3.bias", hp+"mlp.up_proj.bias")

		lw.InputNorm = optional(mp+"attention_norm.weight", hp+"input_layernorm.weight")
		lw.PostAttnNorm = optional(mp+"ffn_norm.weight", hp+"post_attention_layernorm.weight")
		if lw.InputNorm == nil || lw.PostAttnNorm == nil {
			logger.Log.Warn("layer missing norm gain; applied as identity", "layer", l)
		}

		if cfg.HiddenDim == 0 {
			cfg.HiddenDim = lw.MLP.W1.Dim(0)
		}
	}

	w.owner = r
	return w, nil
}
