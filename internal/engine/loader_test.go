package engine

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/23skdu/longbow-bodkin/internal/safetensors"
	"github.com/23skdu/longbow-bodkin/internal/tensor"
)

const tinyConfigJSON = `{
	"hidden_size": 8,
	"intermediate_size": 16,
	"num_hidden_layers": 1,
	"num_attention_heads": 2,
	"num_key_value_heads": 1,
	"vocab_size": 16,
	"rope_theta": 10000.0,
	"rms_norm_eps": 1e-5,
	"hidden_act": "silu"%s
}`

func tinyTensors(t *testing.T, seed int64, naming string) map[string]*tensor.Tensor {
	t.Helper()
	r := rand.New(rand.NewSource(seed))
	mk := func(shape ...int) *tensor.Tensor {
		vals := make([]float32, tensor.Numel(shape))
		for i := range vals {
			vals[i] = float32(r.NormFloat64()) * 0.1
		}
		return tensor.FromFloats(vals, shape...)
	}
	gain := func(n int) *tensor.Tensor {
		vals := make([]float32, n)
		for i := range vals {
			vals[i] = 1
		}
		return tensor.FromFloats(vals, n)
	}

	// dim=8, heads=2, kv_heads=1, head_dim=4, d_ff=16, vocab=16
	switch naming {
	case "mistral":
		return map[string]*tensor.Tensor{
			"tok_embeddings.weight":            mk(16, 8),
			"output.weight":                    mk(16, 8),
			"norm.weight":                      gain(8),
			"layers.0.attention.wq.weight":     mk(8, 8),
			"layers.0.attention.wk.weight":     mk(4, 8),
			"layers.0.attention.wv.weight":     mk(4, 8),
			"layers.0.attention.wo.weight":     mk(8, 8),
			"layers.0.feed_forward.w1.weight":  mk(16, 8),
			"layers.0.feed_forward.w2.weight":  mk(8, 16),
			"layers.0.feed_forward.w3.weight":  mk(16, 8),
			"layers.0.attention_norm.weight":   gain(8),
			"layers.0.ffn_norm.weight":         gain(8),
		}
	case "hf":
		return map[string]*tensor.Tensor{
			"model.embed_tokens.weight":                    mk(16, 8),
			"lm_head.weight":                               mk(16, 8),
			"model.norm.weight":                            gain(8),
			"model.layers.0.self_attn.q_proj.weight":       mk(8, 8),
			"model.layers.0.self_attn.k_proj.weight":       mk(4, 8),
			"model.layers.0.self_attn.v_proj.weight":       mk(4, 8),
			"model.layers.0.self_attn.o_proj.weight":       mk(8, 8),
			"model.layers.0.mlp.gate_proj.weight":          mk(16, 8),
			"model.layers.0.mlp.down_proj.weight":          mk(8, 16),
			"model.layers.0.mlp.up_proj.weight":            mk(16, 8),
			"model.layers.0.input_layernorm.weight":        gain(8),
			"model.layers.0.post_attention_layernorm.weight": gain(8),
		}
	}
	t.Fatalf("unknown naming %q", naming)
	return nil
}

func writeTinyModel(t *testing.T, tensors map[string]*tensor.Tensor, configExtra string) string {
	t.Helper()
	dir := t.TempDir()
	cfgJSON := []byte(fmt.Sprintf(tinyConfigJSON, configExtra))
	if err := os.WriteFile(filepath.Join(dir, "config.json"), cfgJSON, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := safetensors.WriteFile(filepath.Join(dir, "model.safetensors"), tensors); err != nil {
		t.Fatal(err)
	}
	return dir
}

func decodeOnce(t *testing.T, dir string) []float32 {
	t.Helper()
	cfg, w, err := LoadModel(dir)
	if err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	defer w.Close()

	ctx, err := NewCtx(cfg, w, 8)
	if err != nil {
		t.Fatalf("NewCtx: %v", err)
	}
	logits, err := ctx.ForwardDecode(1, 0)
	if err != nil {
		t.Fatalf("ForwardDecode: %v", err)
	}
	return logits
}

func TestLoadModelMistralNaming(t *testing.T) {
	dir := writeTinyModel(t, tinyTensors(t, 81, "mistral"), "")
	logits := decodeOnce(t, dir)
	if len(logits) != 16 {
		t.Fatalf("logits length %d, want 16", len(logits))
	}
	for _, v := range logits {
		if v != v || math.IsInf(float64(v), 0) {
			t.Fatal("non-finite logits from loaded model")
		}
	}
}

func TestLoadModelHFNaming(t *testing.T) {
	dir := writeTinyModel(t, tinyTensors(t, 82, "hf"), "")
	if logits := decodeOnce(t, dir); len(logits) != 16 {
		t.Fatalf("logits length %d, want 16", len(logits))
	}
}

func TestLoadModelMissingTensor(t *testing.T) {
	tensors := tinyTensors(t, 83, "mistral")
	delete(tensors, "layers.0.attention.wq.weight")
	dir := writeTinyModel(t, tensors, "")

	_, _, err := LoadModel(dir)
	var mt *MissingTensorError
	if !errors.As(err, &mt) {
		t.Fatalf("LoadModel = %v, want MissingTensorError", err)
	}
}

func TestLoadModelTiedHead(t *testing.T) {
	tensors := tinyTensors(t, 84, "mistral")
	delete(tensors, "output.weight")
	dir := writeTinyModel(t, tensors, `,
	"tie_word_embeddings": true`)

	cfg, w, err := LoadModel(dir)
	if err != nil {
		t.Fatalf("LoadModel with tied head: %v", err)
	}
	defer w.Close()

	// both views read the same backing
	for i := 0; i < 8; i++ {
		if w.LMHead.At(i) != w.TokenEmb.At(i) {
			t.Fatal("tied head does not alias token embeddings")
		}
	}

	ctx, err := NewCtx(cfg, w, 8)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ctx.ForwardDecode(2, 0); err != nil {
		t.Fatal(err)
	}
}

func TestLoadModelUntiedHeadMissing(t *testing.T) {
	tensors := tinyTensors(t, 85, "mistral")
	delete(tensors, "output.weight")
	dir := writeTinyModel(t, tensors, "")

	if _, _, err := LoadModel(dir); err == nil {
		t.Fatal("expected error: head missing and embeddings not tied")
	}
}

func TestLoadModelMissingW3Rejected(t *testing.T) {
	tensors := tinyTensors(t, 86, "mistral")
	delete(tensors, "layers.0.feed_forward.w3.weight")
	dir := writeTinyModel(t, tensors, "")

	// loading succeeds: absence is surfaced, not patched over
	cfg, w, err := LoadModel(dir)
	if err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	defer w.Close()
	if w.Layers[0].MLP.W3 != nil {
		t.Fatal("loader fabricated an up projection")
	}

	// decode fails at the MLP, never aliasing W3 to W1
	ctx, err := NewCtx(cfg, w, 8)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ctx.ForwardDecode(1, 0); !errors.Is(err, ErrMissingUpProjection) {
		t.Fatalf("ForwardDecode = %v, want ErrMissingUpProjection", err)
	}
}

func TestLoadModelMissingConfig(t *testing.T) {
	dir := t.TempDir()
	if err := safetensors.WriteFile(filepath.Join(dir, "model.safetensors"), tinyTensors(t, 87, "mistral")); err != nil {
		t.Fatal(err)
	}
	if _, _, err := LoadModel(dir); err == nil {
		t.Fatal("expected error for missing config.json")
	}
}

func TestLoadModelPrefersConsolidated(t *testing.T) {
	tensors := tinyTensors(t, 88, "mistral")
	dir := writeTinyModel(t, tensors, "")

	// also write a consolidated file with a marker difference
	marker := tinyTensors(t, 99, "mistral")
	if err := safetensors.WriteFile(filepath.Join(dir, "consolidated.safetensors"), marker); err != nil {
		t.Fatal(err)
	}

	_, w, err := LoadModel(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	want := marker["tok_embeddings.weight"]
	for i := 0; i < 8; i++ {
		if w.TokenEmb.At(i) != want.At(i) {
			t.Fatal("loader did not prefer consolidated.safetensors")
		}
	}
}
