package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/23skdu/longbow-bodkin/internal/tensor"
)

// WriteFile serializes tensors into a minimal safetensors container.
// Tensors are laid out back to back in name order. Used for test
// fixtures and small tooling, not for multi-gigabyte checkpoints.
func WriteFile(path string, tensors map[string]*tensor.Tensor) error {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]TensorInfo, len(tensors))
	offset := int64(0)
	for _, name := range names {
		t := tensors[name]
		n := int64(len(t.Bytes()))
		header[name] = TensorInfo{
			Dtype:       t.Dtype().String(),
			Shape:       t.Shape(),
			DataOffsets: [2]int64{offset, offset + n},
		}
		offset += n
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create safetensors: %w", err)
	}
	defer f.Close()

	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(headerJSON)))
	if _, err := f.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := f.Write(headerJSON); err != nil {
		return err
	}
	for _, name := range names {
		if _, err := f.Write(tensors[name].Bytes()); err != nil {
			return err
		}
	}
	return f.Sync()
}
