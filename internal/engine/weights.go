package engine

import (
	"github.com/23skdu/longbow-bodkin/internal/safetensors"
	"github.com/23skdu/longbow-bodkin/internal/tensor"
)

// AttentionWeights holds one layer's projection views. Wq is
// [q_heads*head_dim, d_model], Wk/Wv are [kv_heads*head_dim, d_model],
// Wo is [d_model, q_heads*head_dim]. Biases are optional.
type AttentionWeights struct {
	Wq tensor.View
	Wk tensor.View
	Wv tensor.View
	Wo tensor.View

	Bq *tensor.View
	Bk *tensor.View
	Bv *tensor.View
	Bo *tensor.View
}

// MLPWeights holds the gated feed-forward projections. W1 (gate) and
// W3 (up) are [d_ff, d_model]; W2 (down) is [d_model, d_ff]. W3 is a
// pointer so its absence is visible to callers: a missing up
// projection is an error at forward time, never an alias of W1.
type MLPWeights struct {
	W1 tensor.View
	W2 tensor.View
	W3 *tensor.View

	B1 *tensor.View
	B2 *tensor.View
	B3 *tensor.View
}

// LayerWeights couples a layer's attention and MLP weights with its
// optional pre-attention and pre-MLP RMSNorm gains.
type LayerWeights struct {
	Attn AttentionWeights
	MLP  MLPWeights

	InputNorm    *tensor.View
	PostAttnNorm *tensor.View
}

// ModelWeights binds every view the decode pipeline reads. It holds
// the safetensors reader as owner: all views alias the memory map, so
// the mapping must stay alive until the weights are closed.
type ModelWeights struct {
	TokenEmb  tensor.View
	LMHead    tensor.View
	FinalNorm tensor.View
	Layers    []LayerWeights

	owner *safetensors.Reader
}

// Close releases the backing memory map. Every view in the structure
// becomes invalid.
func (w *ModelWeights) Close() error {
	if w.owner == nil {
		return nil
	}
	err := w.owner.Close()
	w.owner = nil
	return err
}
