// Package store reads and appends binary records held in ordered lists of an
// external key-value store.
package store

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnavailable wraps connection and protocol failures.
	ErrUnavailable = errors.New("store unavailable")
	// ErrNotFound is returned when a list key does not exist.
	ErrNotFound = errors.New("key not found")
	// ErrTypeMismatch is returned when a key exists but is not a list.
	ErrTypeMismatch = errors.New("key is not a list")
	// ErrReadFailure is returned when an element cannot be read.
	ErrReadFailure = errors.New("read failure")
	// ErrIndexOutOfRange is returned by Backend.Index for absent elements.
	ErrIndexOutOfRange = errors.New("index out of range")
)

// ListType is the type name a key must report to be streamed.
const ListType = "list"

// Backend is the ordered-list capability of the external store.
type Backend interface {
	Exists(ctx context.Context, key string) (bool, error)
	Type(ctx context.Context, key string) (string, error)
	Len(ctx context.Context, key string) (int64, error)
	Index(ctx context.Context, key string, i int64) ([]byte, error)
	Append(ctx context.Context, key string, value []byte) (int64, error)
	Close() error
}

// List is a validated handle on one list key.
type List struct {
	backend Backend
	name    string
}

// Open returns a handle on an existing list.
func Open(ctx context.Context, backend Backend, name string) (*List, error) {
	ok, err := backend.Exists(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	if !ok {
		return nil, fmt.Errorf("open %s: %w", name, ErrNotFound)
	}
	if err := checkType(ctx, backend, name); err != nil {
		return nil, err
	}
	return &List{backend: backend, name: name}, nil
}

// OpenForAppend is like Open but accepts a missing key, which the first
// Append creates.
func OpenForAppend(ctx context.Context, backend Backend, name string) (*List, error) {
	ok, err := backend.Exists(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	if ok {
		if err := checkType(ctx, backend, name); err != nil {
			return nil, err
		}
	}
	return &List{backend: backend, name: name}, nil
}

func checkType(ctx context.Context, backend Backend, name string) error {
	typ, err := backend.Type(ctx, name)
	if err != nil {
		return fmt.Errorf("type of %s: %w", name, err)
	}
	if typ != ListType {
		return fmt.Errorf("open %s: %w (type %q)", name, ErrTypeMismatch, typ)
	}
	return nil
}

// Name returns the list key.
func (l *List) Name() string { return l.name }

// Len returns the current element count.
func (l *List) Len(ctx context.Context) (int, error) {
	n, err := l.backend.Len(ctx, l.name)
	if err != nil {
		return 0, fmt.Errorf("length of %s: %w", l.name, err)
	}
	return int(n), nil
}

// ReadAt returns the element at zero-based index i.
func (l *List) ReadAt(ctx context.Context, i int) ([]byte, error) {
	if i < 0 {
		return nil, fmt.Errorf("%w: %s[%d]: %w", ErrReadFailure, l.name, i, ErrIndexOutOfRange)
	}
	b, err := l.backend.Index(ctx, l.name, int64(i))
	if err != nil {
		return nil, fmt.Errorf("%w: %s[%d]: %w", ErrReadFailure, l.name, i, err)
	}
	return b, nil
}

// Append pushes value to the tail of the list and returns the new length.
func (l *List) Append(ctx context.Context, value []byte) (int, error) {
	n, err := l.backend.Append(ctx, l.name, value)
	if err != nil {
		return 0, fmt.Errorf("append to %s: %w", l.name, err)
	}
	return int(n), nil
}
