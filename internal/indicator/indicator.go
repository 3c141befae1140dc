// Package indicator provides recursive filters over candle close prices.
//
// Filters implement the Indicator interface so they can be fed one value at a
// time; Apply runs one over a whole sequence.
package indicator

// Indicator is the interface for streaming price filters.
type Indicator interface {
	// Name returns the indicator name including its length, e.g. "EMA_14".
	Name() string

	// Update feeds the next value and returns the new filter output.
	Update(v float64) float64
}

// Apply feeds every value to ind in order and returns the outputs.
func Apply(ind Indicator, values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = ind.Update(v)
	}
	return out
}
