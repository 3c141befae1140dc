package model

import "errors"

// ErrInvalidInput is returned (wrapped) when a core computation is handed
// input that violates its preconditions. No partial result accompanies it.
var ErrInvalidInput = errors.New("invalid input")
