package store

import (
	"context"
	"fmt"
	"iter"
)

// DecodeFunc turns one raw list element into a typed record.
type DecodeFunc[T any] func(raw []byte) (T, error)

// Reader streams a list as decoded records in ascending index order.
// Like bufio.Scanner, the first failure ends the sequence and is kept for Err.
type Reader[T any] struct {
	list   *List
	decode DecodeFunc[T]
	err    error
}

// NewReader returns a Reader decoding each element of list with decode.
func NewReader[T any](list *List, decode DecodeFunc[T]) *Reader[T] {
	return &Reader[T]{list: list, decode: decode}
}

// List returns the underlying list.
func (r *Reader[T]) List() *List { return r.list }

// Err returns the error that stopped the last iteration, if any.
func (r *Reader[T]) Err() error { return r.err }

// All yields (index, record) pairs from index start up to the list length
// observed when iteration begins. Elements before start are never read.
func (r *Reader[T]) All(ctx context.Context, start int) iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		r.err = nil
		n, err := r.list.Len(ctx)
		if err != nil {
			r.err = err
			return
		}
		for i := max(start, 0); i < n; i++ {
			if err := ctx.Err(); err != nil {
				r.err = err
				return
			}
			raw, err := r.list.ReadAt(ctx, i)
			if err != nil {
				r.err = err
				return
			}
			rec, err := r.decode(raw)
			if err != nil {
				r.err = fmt.Errorf("%s[%d]: %w", r.list.Name(), i, err)
				return
			}
			if !yield(i, rec) {
				return
			}
		}
	}
}
