// Package dispatch splits work into batches and runs them with a bounded
// number of batches in flight.
package dispatch

import (
	"errors"
	"fmt"
)

var ErrInvalidBatchSize = errors.New("dispatch: batch size must be >= 1")

// Batch splits items into consecutive chunks of at most size elements.
// Concatenating the result reproduces items in order; no chunk is empty.
func Batch[T any](items []T, size int) ([][]T, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidBatchSize, size)
	}
	if len(items) == 0 {
		return [][]T{}, nil
	}

	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		// full slice expression so appends on one batch never bleed into the next
		out = append(out, items[start:end:end])
	}
	return out, nil
}
