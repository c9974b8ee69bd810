// Package tensor holds the dense float32 arrays passed between the feature
// extractor and the model.
package tensor

import (
	"errors"
	"fmt"
)

// ErrShape is returned when data length does not match the declared shape.
var ErrShape = errors.New("tensor shape mismatch")

// Tensor is a row-major float32 array.
type Tensor struct {
	Shape []int
	Data  []float32
}

// New returns a zero-filled tensor of the given shape.
func New(shape ...int) Tensor {
	return Tensor{Shape: append([]int(nil), shape...), Data: make([]float32, Size(shape))}
}

// FromData wraps data with a shape, checking the element count.
func FromData(data []float32, shape ...int) (Tensor, error) {
	if Size(shape) != len(data) {
		return Tensor{}, fmt.Errorf("%w: shape %v holds %d values, got %d", ErrShape, shape, Size(shape), len(data))
	}
	return Tensor{Shape: append([]int(nil), shape...), Data: data}, nil
}

// Size returns the number of elements a shape holds.
func Size(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Len returns the number of elements.
func (t Tensor) Len() int {
	return len(t.Data)
}

// Nested converts the tensor into nested []any slices following its shape,
// the layout JSON model servers expect for a single instance.
func (t Tensor) Nested() any {
	if len(t.Shape) == 0 {
		return []any{}
	}
	v, _ := nest(t.Data, t.Shape)
	return v
}

func nest(data []float32, shape []int) (any, []float32) {
	if len(shape) == 1 {
		row := make([]float32, shape[0])
		copy(row, data[:shape[0]])
		return row, data[shape[0]:]
	}
	out := make([]any, shape[0])
	for i := range out {
		out[i], data = nest(data, shape[1:])
	}
	return out, data
}
