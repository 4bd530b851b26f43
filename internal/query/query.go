// Package query filters a stream of basic blocks by execution context and by
// the text of their disassembly.
package query

import (
	"context"
	"fmt"
	"iter"

	"bbtrace/internal/disasm"
	"bbtrace/internal/store"
	"bbtrace/internal/trace"
)

// Filter is a pure predicate over a decoded record.
type Filter func(trace.BasicBlock) bool

// ByMode keeps records captured in mode m.
func ByMode(m trace.ExecutionMode) Filter {
	return func(bb trace.BasicBlock) bool { return bb.Mode == m }
}

// ByPrivilege keeps records captured in ring p.
func ByPrivilege(p trace.ExecutionPrivilege) Filter {
	return func(bb trace.BasicBlock) bool { return bb.Privilege == p }
}

// Options selects the records a Query yields.
type Options struct {
	Start     int                       // index of the first record read
	Mode      *trace.ExecutionMode      // nil keeps every mode
	Privilege *trace.ExecutionPrivilege // nil keeps every ring
	Pattern   string                    // empty keeps every listing
}

// Filters returns the record predicates selected by o.
func (o Options) Filters() []Filter {
	var fs []Filter
	if o.Mode != nil {
		fs = append(fs, ByMode(*o.Mode))
	}
	if o.Privilege != nil {
		fs = append(fs, ByPrivilege(*o.Privilege))
	}
	return fs
}

// Match is a record that passed every filter, with its listing.
type Match struct {
	Index  int
	Record trace.BasicBlock
	Block  disasm.Block
}

// Query runs Options against a record stream.
type Query struct {
	engine  *disasm.Engine
	opts    Options
	filters []Filter
	scanned int
	err     error
}

// New returns a Query that disassembles candidates with engine.
func New(engine *disasm.Engine, opts Options) *Query {
	return &Query{engine: engine, opts: opts, filters: opts.Filters()}
}

// Err returns the error that ended the last sequence, if any.
func (q *Query) Err() error { return q.err }

// Scanned returns how many records the last sequence read.
func (q *Query) Scanned() int { return q.scanned }

// Matches yields matching records in store order. The sequence is single
// pass: records are read lazily and disassembled only after the context
// filters accept them.
func (q *Query) Matches(ctx context.Context, records *store.Reader[trace.BasicBlock]) iter.Seq[Match] {
	return func(yield func(Match) bool) {
		q.err = nil
		q.scanned = 0
		defer func() {
			if q.err == nil {
				q.err = records.Err()
			}
		}()

		for i, bb := range records.All(ctx, q.opts.Start) {
			q.scanned++
			if !q.accept(bb) {
				continue
			}
			block, err := q.engine.Disassemble(bb.Code, bb.Mode, bb.ProgramCounter)
			if err != nil {
				q.err = fmt.Errorf("%s[%d]: %w", records.List().Name(), i, err)
				return
			}
			if q.opts.Pattern != "" && !block.ContainsText(q.opts.Pattern) {
				continue
			}
			if !yield(Match{Index: i, Record: bb, Block: block}) {
				return
			}
		}
	}
}

func (q *Query) accept(bb trace.BasicBlock) bool {
	for _, f := range q.filters {
		if !f(bb) {
			return false
		}
	}
	return true
}
