package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"syscall"

	"github.com/23skdu/longbow-bodkin/internal/logger"
	"github.com/23skdu/longbow-bodkin/internal/metrics"
	"github.com/23skdu/longbow-bodkin/internal/tensor"
)

// TensorInfo is the header descriptor for one named tensor. Offsets
// are relative to the start of the data section, not the file.
type TensorInfo struct {
	Dtype       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// Numel returns the element count implied by the descriptor's shape.
func (ti TensorInfo) Numel() int {
	return tensor.Numel(ti.Shape)
}

// Reader memory-maps a safetensors container read-only and exposes
// zero-copy views into its data section. Views produced by Tensor()
// share the reader's lifetime: Close unmaps them all.
type Reader struct {
	path    string
	mapped  []byte
	dataOff int64
	infos   map[string]TensorInfo
	names   []string
}

// Open maps path and parses the 8-byte header length plus JSON header.
// Weight bytes are never copied.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open safetensors: %w", err)
	}
	defer func() {
		_ = f.Close() // mapping survives the fd
	}()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat safetensors: %w", err)
	}
	size := st.Size()
	if size < 8 {
		return nil, &MalformedError{Path: path, Reason: fmt.Sprintf("file is %d bytes, need at least 8", size)}
	}

	data, err := syscall.Mmap(int(f.Fd()), 0, int(size), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap safetensors: %w", err)
	}

	r := &Reader{path: path, mapped: data}
	if err := r.parseHeader(); err != nil {
		_ = syscall.Munmap(data)
		return nil, err
	}

	metrics.WeightsMappedBytes.Set(float64(size))
	logger.Log.Debug("safetensors mapped", "path", path, "bytes", size, "tensors", len(r.infos))
	return r, nil
}

func (r *Reader) parseHeader() error {
	headerLen := int64(binary.LittleEndian.Uint64(r.mapped[:8]))
	if headerLen < 0 || 8+headerLen > int64(len(r.mapped)) {
		return &MalformedError{Path: r.path, Reason: fmt.Sprintf("header length %d exceeds file size %d", headerLen, len(r.mapped))}
	}
	r.dataOff = 8 + headerLen
	dataLen := int64(len(r.mapped)) - r.dataOff

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(r.mapped[8:r.dataOff], &raw); err != nil {
		return &MalformedError{Path: r.path, Reason: fmt.Sprintf("header JSON: %v", err)}
	}

	r.infos = make(map[string]TensorInfo, len(raw))
	for name, entry := range raw {
		if name == "__metadata__" {
			continue
		}
		var info TensorInfo
		if err := json.Unmarshal(entry, &info); err != nil {
			return &MalformedError{Path: r.path, Reason: fmt.Sprintf("entry %q: %v", name, err)}
		}
		begin, end := info.DataOffsets[0], info.DataOffsets[1]
		if begin < 0 || end < begin || end > dataLen {
			return &MalformedError{Path: r.path, Reason: fmt.Sprintf("entry %q offsets [%d, %d) outside data section of %d bytes", name, begin, end, dataLen)}
		}
		r.infos[name] = info
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return nil
}

// Names enumerates all tensor names in sorted order.
func (r *Reader) Names() []string {
	return r.names
}

// Info returns the header descriptor for name.
func (r *Reader) Info(name string) (TensorInfo, error) {
	info, ok := r.infos[name]
	if !ok {
		return TensorInfo{}, &NotFoundError{Name: name}
	}
	return info, nil
}

// Tensor returns a non-owning row-major view backed directly by the
// mapping. It fails when the dtype string is unsupported or the entry's
// byte length does not match numel * sizeof(dtype).
func (r *Reader) Tensor(name string) (tensor.View, error) {
	info, ok := r.infos[name]
	if !ok {
		return tensor.View{}, &NotFoundError{Name: name}
	}

	dt, err := tensor.ParseDtype(info.Dtype)
	if err != nil {
		return tensor.View{}, fmt.Errorf("tensor %q: %w", name, err)
	}

	begin, end := info.DataOffsets[0], info.DataOffsets[1]
	if want := int64(info.Numel() * dt.Size()); end-begin != want {
		return tensor.View{}, &MalformedError{
			Path:   r.path,
			Reason: fmt.Sprintf("entry %q holds %d bytes, shape %v as %s needs %d", name, end-begin, info.Shape, dt, want),
		}
	}

	return tensor.NewView(r.mapped[r.dataOff+begin:r.dataOff+end], dt, info.Shape)
}

// Close unmaps the container. Every view handed out becomes invalid.
func (r *Reader) Close() error {
	if r.mapped == nil {
		return nil
	}
	err := syscall.Munmap(r.mapped)
	r.mapped = nil
	metrics.WeightsMappedBytes.Set(0)
	return err
}
