package engine

import (
	"errors"

	"github.com/23skdu/longbow-bodkin/internal/config"
	"github.com/23skdu/longbow-bodkin/internal/cpu"
	"github.com/23skdu/longbow-bodkin/internal/tensor"
)

// ErrMissingUpProjection rejects MLP weights without W3. A gated MLP
// needs two independent projections; reusing the gate as the up
// projection silently computes a different function.
var ErrMissingUpProjection = errors.New("mlp: up projection (w3) missing; gate cannot be aliased")

// MLPForward computes the gated feed-forward block:
// act(x@W1) * (x@W3) projected down through W2. act is SiLU for
// SwiGLU models and the tanh GELU when the config selects it.
func MLPForward(x tensor.View, w MLPWeights, cfg *config.Config) (*tensor.Tensor, error) {
	if w.W3 == nil {
		return nil, ErrMissingUpProjection
	}
	if x.Numel() != cfg.Dim {
		return nil, &cpu.ShapeError{Kernel: "mlp", Detail: "input size mismatch"}
	}
	if w.W1.Rank() != 2 || w.W1.Dim(1) != cfg.Dim {
		return nil, &cpu.ShapeError{Kernel: "mlp", Detail: "w1 shape mismatch"}
	}
	dff := w.W1.Dim(0)
	if w.W3.Rank() != 2 || w.W3.Dim(0) != dff || w.W3.Dim(1) != cfg.Dim {
		return nil, &cpu.ShapeError{Kernel: "mlp", Detail: "w3 shape mismatch"}
	}
	if w.W2.Rank() != 2 || w.W2.Dim(0) != cfg.Dim || w.W2.Dim(1) != dff {
		return nil, &cpu.ShapeError{Kernel: "mlp", Detail: "w2 shape mismatch"}
	}

	gate, err := cpu.Linear(x, w.W1, w.B1)
	if err != nil {
		return nil, err
	}
	var act *tensor.Tensor
	if cfg.UseGELU {
		act, err = cpu.GELU(gate.View, false)
	} else {
		act, err = cpu.SiLU(gate.View)
	}
	if err != nil {
		return nil, err
	}

	up, err := cpu.Linear(x, *w.W3, w.B3)
	if err != nil {
		return nil, err
	}

	hidden, err := cpu.Mul(act.View, up.View)
	if err != nil {
		return nil, err
	}

	return cpu.Linear(hidden.View, w.W2, w.B2)
}
