package worker

import "io"

// Source is a lazy sequence of items. Next returns io.EOF once exhausted.
type Source[T any] interface {
	Next() (T, error)
}

// SliceSource serves items from memory
type SliceSource[T any] struct {
	items []T
	pos   int
}

// NewSliceSource creates a source over items
func NewSliceSource[T any](items []T) *SliceSource[T] {
	return &SliceSource[T]{items: items}
}

func (s *SliceSource[T]) Next() (T, error) {
	var zero T
	if s.pos >= len(s.items) {
		return zero, io.EOF
	}
	item := s.items[s.pos]
	s.pos++
	return item, nil
}

type limitSource[T any] struct {
	src       Source[T]
	remaining int
}

// Limit truncates src after n items
func Limit[T any](src Source[T], n int) Source[T] {
	return &limitSource[T]{src: src, remaining: n}
}

func (l *limitSource[T]) Next() (T, error) {
	var zero T
	if l.remaining <= 0 {
		return zero, io.EOF
	}
	item, err := l.src.Next()
	if err != nil {
		return zero, err
	}
	l.remaining--
	return item, nil
}
