package worker

import (
	"errors"
	"io"
)

// ErrInvalidBatchSize is returned for batch sizes below 1
var ErrInvalidBatchSize = errors.New("batch size must be at least 1")

// Batcher groups a source into contiguous, order-preserving batches
type Batcher[T any] struct {
	src  Source[T]
	size int
	done bool
}

// NewBatcher creates a batcher reading from src
func NewBatcher[T any](src Source[T], size int) (*Batcher[T], error) {
	if size < 1 {
		return nil, ErrInvalidBatchSize
	}
	return &Batcher[T]{src: src, size: size}, nil
}

// Next returns the next batch. Only the final batch may be shorter than the
// batch size; io.EOF is returned once the source is exhausted.
func (b *Batcher[T]) Next() ([]T, error) {
	if b.done {
		return nil, io.EOF
	}

	batch := make([]T, 0, b.size)
	for len(batch) < b.size {
		item, err := b.src.Next()
		if err == io.EOF {
			b.done = true
			break
		}
		if err != nil {
			return nil, err
		}
		batch = append(batch, item)
	}

	if len(batch) == 0 {
		return nil, io.EOF
	}
	return batch, nil
}

// Partition splits items into batches of at most size elements
func Partition[T any](items []T, size int) ([][]T, error) {
	b, err := NewBatcher[T](NewSliceSource(items), size)
	if err != nil {
		return nil, err
	}

	batches := make([][]T, 0, (len(items)+size-1)/size)
	for {
		batch, err := b.Next()
		if err == io.EOF {
			return batches, nil
		}
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
}
