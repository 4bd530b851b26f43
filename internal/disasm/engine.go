package disasm

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/charmbracelet/log"
	lru "github.com/hashicorp/golang-lru/v2"

	"bbtrace/internal/trace"
)

// DefaultLayoutCacheSize is the default number of cached block layouts.
const DefaultLayoutCacheSize = 16 * 1024

// ErrDisassembly is returned when the decoder rejects a block's bytes.
var ErrDisassembly = errors.New("disassembly error")

type layoutKey struct {
	mode trace.ExecutionMode
	hash uint64
}

// instLayout is an instruction relative to a block loaded at address 0.
type instLayout struct {
	addr uint64
	end  int
	text string
}

type layout struct {
	code  []byte // bytes the layout was computed from
	insts []instLayout
}

// Stats counts layout cache activity.
type Stats struct {
	Hits       int
	Misses     int
	Collisions int
	Evictions  int
}

// Engine disassembles basic blocks and memoizes their address-independent
// layout per (mode, content hash).
type Engine struct {
	decoder Decoder
	hash    func([]byte) uint64
	logger  *log.Logger
	size    int
	layouts *lru.Cache[layoutKey, *layout]
	stats   Stats
}

// Option configures an Engine.
type Option func(*Engine)

// WithDecoder replaces the x86asm decoder.
func WithDecoder(d Decoder) Option {
	return func(e *Engine) { e.decoder = d }
}

// WithCacheSize sets the layout cache capacity.
func WithCacheSize(n int) Option {
	return func(e *Engine) { e.size = n }
}

// WithHash replaces the content hash.
func WithHash(h func([]byte) uint64) Option {
	return func(e *Engine) { e.hash = h }
}

// WithLogger sets the logger used for cache diagnostics.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine returns an Engine with an empty layout cache.
func NewEngine(opts ...Option) (*Engine, error) {
	e := &Engine{
		decoder: X86Decoder{},
		hash:    xxhash.Sum64,
		size:    DefaultLayoutCacheSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = log.New(io.Discard)
	}

	cache, err := lru.NewWithEvict(e.size, func(k layoutKey, _ *layout) {
		e.stats.Evictions++
		e.logger.Debug("evicted layout", "mode", k.mode, "hash", fmt.Sprintf("%016x", k.hash))
	})
	if err != nil {
		return nil, fmt.Errorf("layout cache: %w", err)
	}
	e.layouts = cache
	return e, nil
}

// Stats returns the cache counters accumulated so far.
func (e *Engine) Stats() Stats { return e.stats }

// Disassemble returns the listing of code loaded at base.
func (e *Engine) Disassemble(code []byte, mode trace.ExecutionMode, base uint64) (Block, error) {
	key := layoutKey{mode: mode, hash: e.hash(code)}

	lay, ok := e.layouts.Get(key)
	switch {
	case ok && bytes.Equal(lay.code, code):
		e.stats.Hits++
	default:
		if ok {
			e.stats.Collisions++
			e.logger.Warn("layout hash collision", "mode", mode, "hash", fmt.Sprintf("%016x", key.hash))
		}
		e.stats.Misses++
		var err error
		lay, err = e.decodeLayout(code, mode)
		if err != nil {
			return nil, err
		}
		e.layouts.Add(key, lay)
	}

	return rebase(lay, code, base), nil
}

func (e *Engine) decodeLayout(code []byte, mode trace.ExecutionMode) (*layout, error) {
	lay := &layout{code: bytes.Clone(code)}
	for off := 0; off < len(code); {
		d, err := e.decoder.Decode(code[off:], mode)
		if err != nil {
			return nil, fmt.Errorf("%w: %s code at offset %d: %w", ErrDisassembly, mode, off, err)
		}
		if d.Len <= 0 || off+d.Len > len(code) {
			return nil, fmt.Errorf("%w: %s code at offset %d: bad instruction length %d", ErrDisassembly, mode, off, d.Len)
		}
		lay.insts = append(lay.insts, instLayout{
			addr: uint64(off),
			end:  off + d.Len,
			text: d.Text,
		})
		off += d.Len
	}
	return lay, nil
}

func rebase(lay *layout, code []byte, base uint64) Block {
	block := make(Block, len(lay.insts))
	begin := 0
	for i, il := range lay.insts {
		block[i] = Inst{
			Address: base + il.addr,
			Bytes:   code[begin:il.end:il.end],
			Text:    il.text,
		}
		begin = il.end
	}
	return block
}
