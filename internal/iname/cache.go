package iname

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"bbtrace/internal/store"
	"bbtrace/internal/trace"
)

// ErrMalformedEntry is returned for destination entries that cannot be decoded.
var ErrMalformedEntry = errors.New("malformed instruction entry")

// Entry is one record of the instruction list: a mode tag and the bytes of a
// single instruction.
type Entry struct {
	Mode trace.ExecutionMode
	Code []byte
}

// EncodeEntry serializes an instruction list record.
func EncodeEntry(mode trace.ExecutionMode, code []byte) []byte {
	out := make([]byte, 0, 1+len(code))
	out = append(out, byte(mode))
	return append(out, code...)
}

// DecodeEntry parses an instruction list record.
func DecodeEntry(raw []byte) (Entry, error) {
	if len(raw) < 2 {
		return Entry{}, fmt.Errorf("%w: %d bytes", ErrMalformedEntry, len(raw))
	}
	mode := trace.ExecutionMode(raw[0])
	if !mode.Valid() {
		return Entry{}, fmt.Errorf("%w: mode byte %d", ErrMalformedEntry, raw[0])
	}
	return Entry{Mode: mode, Code: raw[1:]}, nil
}

// Stats counts the work done by a Cache.
type Stats struct {
	Records      int
	Instructions int
	Appended     int
	Truncated    int // records whose tail failed to decode
}

// Cache appends one example instruction per canonical name to a destination
// list. The set of names written is kept for the lifetime of the Cache.
type Cache struct {
	dest    *store.List
	decoder Decoder
	logger  *log.Logger
	seen    map[string]struct{}
	stats   Stats
}

// Option configures a Cache.
type Option func(*Cache)

// WithDecoder replaces the x86asm decoder.
func WithDecoder(d Decoder) Option {
	return func(c *Cache) { c.decoder = d }
}

// WithLogger sets the logger for decode diagnostics.
func WithLogger(l *log.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// NewCache returns a Cache writing to dest with an empty name set.
func NewCache(dest *store.List, opts ...Option) *Cache {
	c := &Cache{
		dest:    dest,
		decoder: X86Decoder{},
		seen:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = log.New(io.Discard)
	}
	return c
}

// Stats returns the counters accumulated so far.
func (c *Cache) Stats() Stats { return c.stats }

// Known returns the number of names in the set.
func (c *Cache) Known() int { return len(c.seen) }

// Observe decodes code one instruction at a time and appends every
// instruction whose canonical name has not been written yet. A decode
// failure ends processing of code without error; store failures are
// returned. It returns the number of entries appended.
func (c *Cache) Observe(ctx context.Context, code []byte, mode trace.ExecutionMode) (int, error) {
	c.stats.Records++
	added := 0
	for off := 0; off < len(code); {
		in, err := c.decoder.Decode(code[off:], mode)
		if err == nil && (in.Len <= 0 || off+in.Len > len(code)) {
			err = fmt.Errorf("bad instruction length %d", in.Len)
		}
		if err != nil {
			c.stats.Truncated++
			c.logger.Debug("stopped decoding record", "mode", mode, "offset", off, "remaining", len(code)-off, "err", err)
			break
		}
		inst := code[off : off+in.Len]
		off += in.Len
		c.stats.Instructions++

		name := Canonical(in)
		if _, ok := c.seen[name]; ok {
			continue
		}
		if _, err := c.dest.Append(ctx, EncodeEntry(mode, inst)); err != nil {
			return added, err
		}
		c.seen[name] = struct{}{}
		c.stats.Appended++
		added++
		c.logger.Debug("new instruction form", "name", name, "mode", mode, "bytes", fmt.Sprintf("% x", inst))
	}
	return added, nil
}

// Count returns the length of the destination list, which includes entries
// written by earlier runs.
func (c *Cache) Count(ctx context.Context) (int, error) {
	return c.dest.Len(ctx)
}

// Preload seeds the name set from entries already in the destination list so
// a rerun does not append forms written by an earlier run. Entries that no
// longer decode are skipped. It returns the number of names added.
func (c *Cache) Preload(ctx context.Context) (int, error) {
	r := store.NewReader(c.dest, DecodeEntry)
	before := len(c.seen)
	for i, e := range r.All(ctx, 0) {
		in, err := c.decoder.Decode(e.Code, e.Mode)
		if err != nil {
			c.logger.Warn("skipping undecodable entry", "list", c.dest.Name(), "index", i, "err", err)
			continue
		}
		c.seen[Canonical(in)] = struct{}{}
	}
	if err := r.Err(); err != nil {
		return len(c.seen) - before, fmt.Errorf("preload: %w", err)
	}
	return len(c.seen) - before, nil
}
