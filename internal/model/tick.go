package model

// Tick is a single (timestamp, price) observation from the source dataset.
// TS is in Unix seconds. A tick sequence handed to the aggregator must be
// sorted ascending by TS; equal timestamps are allowed.
type Tick struct {
	TS    int64   `json:"ts"`
	Price float64 `json:"price"`
}
