package tensor

import "fmt"

// Dtype tags the storage format of tensor elements. All numeric
// accumulation happens in F32; the other dtypes exist only as storage.
type Dtype int

const (
	F32 Dtype = iota
	F16
	BF16
	I8
)

// Size returns the element size in bytes.
func (d Dtype) Size() int {
	switch d {
	case F32:
		return 4
	case F16, BF16:
		return 2
	case I8:
		return 1
	}
	return 0
}

func (d Dtype) String() string {
	switch d {
	case F32:
		return "F32"
	case F16:
		return "F16"
	case BF16:
		return "BF16"
	case I8:
		return "I8"
	}
	return fmt.Sprintf("Dtype(%d)", int(d))
}

// UnsupportedDtypeError reports a dtype string outside the supported set.
type UnsupportedDtypeError struct {
	Dtype string
}

func (e *UnsupportedDtypeError) Error() string {
	return fmt.Sprintf("unsupported dtype: %q", e.Dtype)
}

// ParseDtype maps a safetensors dtype string to a Dtype. Anything
// outside {F32, F16, BF16, I8} is rejected rather than silently mapped.
func ParseDtype(s string) (Dtype, error) {
	switch s {
	case "F32":
		return F32, nil
	case "F16":
		return F16, nil
	case "BF16":
		return BF16, nil
	case "I8":
		return I8, nil
	}
	return 0, &UnsupportedDtypeError{Dtype: s}
}
