package indicator

import (
	"fmt"

	"candles-ema/internal/model"
)

// EMA is a first-order IIR low-pass filter with alpha = 2/(length+1).
// The first observation seeds the filter directly, so there is no SMA
// warm-up window and the output is defined from the very first value.
// O(1) per update.
type EMA struct {
	length  int
	alpha   float64
	current float64
	count   int
}

// NewEMA creates an EMA with the given length. length must be positive;
// callers at the boundary are expected to have validated it.
func NewEMA(length int) *EMA {
	return &EMA{
		length: length,
		alpha:  2.0 / float64(length+1),
	}
}

func (e *EMA) Name() string { return "EMA_" + model.Itoa(e.length) }

func (e *EMA) Update(v float64) float64 {
	if e.count == 0 {
		e.current = v
	} else {
		e.current += e.alpha * (v - e.current)
	}
	e.count++
	return e.current
}

// ComputeEMA runs an EMA of the given length over values and returns a
// same-length output. NaN and Inf are not trapped; they propagate through
// the recurrence.
func ComputeEMA(values []float64, length int) ([]float64, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: EMA input is empty", model.ErrInvalidInput)
	}
	if length <= 0 || length >= len(values) {
		return nil, fmt.Errorf("%w: EMA length must be in range (0 .. %d), %d given",
			model.ErrInvalidInput, len(values), length)
	}

	return Apply(NewEMA(length), values), nil
}
