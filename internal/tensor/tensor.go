package tensor

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"math"
)

// Numel returns the product of the dims in shape.
func Numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// ContiguousStrides returns the canonical row-major strides, in
// elements, for shape.
func ContiguousStrides(shape []int) []int {
	strides := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= shape[i]
	}
	return strides
}

// View is a non-owning descriptor over a backing byte buffer. The
// described region always lies entirely within the buffer; NewView
// enforces that, so every View in circulation satisfies it. Views are
// only valid while their backing storage is alive.
type View struct {
	data    []byte
	dt      Dtype
	shape   []int
	strides []int
}

// NewView builds a contiguous row-major view over data. It fails when
// a dim is non-positive or the described region exceeds the buffer.
func NewView(data []byte, dt Dtype, shape []int) (View, error) {
	for _, d := range shape {
		if d <= 0 {
			return View{}, fmt.Errorf("invalid dim %d in shape %v", d, shape)
		}
	}
	need := Numel(shape) * dt.Size()
	if need > len(data) {
		return View{}, fmt.Errorf("view of %d bytes exceeds backing buffer of %d bytes", need, len(data))
	}
	return View{
		data:    data[:need],
		dt:      dt,
		shape:   append([]int(nil), shape...),
		strides: ContiguousStrides(shape),
	}, nil
}

func (v View) Dtype() Dtype   { return v.dt }
func (v View) Shape() []int   { return v.shape }
func (v View) Strides() []int { return v.strides }
func (v View) Rank() int      { return len(v.shape) }
func (v View) Numel() int     { return Numel(v.shape) }
func (v View) Bytes() []byte  { return v.data }

// Dim returns the size of axis i.
func (v View) Dim(i int) int { return v.shape[i] }

// Contiguous reports whether strides match the row-major canonical
// strides for the shape.
func (v View) Contiguous() bool {
	want := ContiguousStrides(v.shape)
	for i := range want {
		if v.strides[i] != want[i] {
			return false
		}
	}
	return true
}

// At loads the element at flat row-major index i, converted to F32.
func (v View) At(i int) float32 {
	switch v.dt {
	case F32:
		return math.Float32frombits(binary.LittleEndian.Uint32(v.data[i*4:]))
	case F16:
		return F16ToF32(binary.LittleEndian.Uint16(v.data[i*2:]))
	case BF16:
		return BF16ToF32(binary.LittleEndian.Uint16(v.data[i*2:]))
	case I8:
		return float32(int8(v.data[i]))
	}
	return 0
}

// Set stores x at flat index i, converting to the stored dtype.
// I8 views are read-only weight storage and are not written through here.
func (v View) Set(i int, x float32) {
	switch v.dt {
	case F32:
		binary.LittleEndian.PutUint32(v.data[i*4:], math.Float32bits(x))
	case F16:
		binary.LittleEndian.PutUint16(v.data[i*2:], F32ToF16(x))
	case BF16:
		binary.LittleEndian.PutUint16(v.data[i*2:], F32ToBF16(x))
	}
}

// Index computes the flat element offset of a multi-dimensional index
// through the view's strides.
func (v View) Index(idx ...int) int {
	off := 0
	for i, x := range idx {
		off += x * v.strides[i]
	}
	return off
}

// Floats reinterprets an F32 view's backing bytes as a []float32
// without copying. Callers must not hold the slice past the backing
// buffer's lifetime.
func (v View) Floats() []float32 {
	if v.dt != F32 {
		panic("tensor: Floats on non-F32 view")
	}
	n := v.Numel()
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&v.data[0])), n)
}

// Tensor owns its backing buffer. Destroying a Tensor (letting it go
// out of scope) invalidates any view derived from it.
type Tensor struct {
	View
}

// Empty allocates a zeroed contiguous tensor. Panics on a non-positive
// dim; shapes here are always computed from validated configs.
func Empty(shape []int, dt Dtype) *Tensor {
	buf := make([]byte, Numel(shape)*dt.Size())
	v, err := NewView(buf, dt, shape)
	if err != nil {
		panic("tensor: " + err.Error())
	}
	return &Tensor{View: v}
}

// FromRaw copies src into a new owning tensor of the given shape and
// dtype. Fails when src does not hold exactly numel*sizeof(dtype) bytes.
func FromRaw(src []byte, shape []int, dt Dtype) (*Tensor, error) {
	need := Numel(shape) * dt.Size()
	if len(src) != need {
		return nil, fmt.Errorf("raw buffer is %d bytes, shape %v as %s needs %d", len(src), shape, dt, need)
	}
	buf := make([]byte, need)
	copy(buf, src)
	v, err := NewView(buf, dt, shape)
	if err != nil {
		return nil, err
	}
	return &Tensor{View: v}, nil
}

// FromFloats builds an owning F32 tensor from vals.
func FromFloats(vals []float32, shape ...int) *Tensor {
	t := Empty(shape, F32)
	copy(t.Floats(), vals)
	return t
}

// FromFloatsAs builds an owning tensor of dtype dt, converting each
// value from F32. Used by tests and fixture writers.
func FromFloatsAs(vals []float32, dt Dtype, shape ...int) *Tensor {
	t := Empty(shape, dt)
	for i, x := range vals {
		t.Set(i, x)
	}
	return t
}
