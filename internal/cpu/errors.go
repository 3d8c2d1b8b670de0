package cpu

import (
	"fmt"

	"github.com/23skdu/longbow-bodkin/internal/metrics"
)

// ShapeError reports a kernel input that violates the kernel's shape
// or dtype contract. Kernels never recover from these; they propagate
// to the top of the decode call.
type ShapeError struct {
	Kernel string
	Detail string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kernel, e.Detail)
}

func shapeErr(kernel, format string, args ...interface{}) error {
	metrics.ShapeErrors.WithLabelValues(kernel).Inc()
	return &ShapeError{Kernel: kernel, Detail: fmt.Sprintf(format, args...)}
}
