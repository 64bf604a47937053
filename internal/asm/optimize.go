package asm

import (
	"errors"
	"fmt"
	"log/slog"
)

// FinalizeLayout lays out every section. Sections are independent, so one
// failing section does not stop the others.
func (o *Object) FinalizeLayout() error {
	var errs []error
	for _, s := range o.sections {
		if _, err := o.FinalizeSection(s.id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FinalizeSection finalizes values, computes minimum lengths, runs the span
// optimizer to a fixed point and assigns final offsets. All problems are
// recorded as diagnostics; the returned error joins the error-class ones.
func (o *Object) FinalizeSection(id SectionID) (LayoutStats, error) {
	s := o.SectionByID(id)
	opt := &optimizer{obj: o, sect: s, log: o.log.With("section", s.name)}
	opt.run()

	s.stats = opt.stats
	s.laidOut = true
	s.failed = opt.diags.HasErrors()
	for _, d := range opt.diags.list {
		o.diags.Add(d)
	}

	opt.log.Debug("section laid out",
		"bytecodes", len(s.bcs),
		"size", s.size,
		"passes", opt.stats.Passes,
		"spans", opt.stats.Spans,
		"expansions", opt.stats.Expansions,
		"retired", opt.stats.Retired,
	)
	return opt.stats, opt.diags.Err()
}

type optimizer struct {
	obj   *Object
	sect  *Section
	log   *slog.Logger
	diags Diagnostics
	stats LayoutStats
}

func (opt *optimizer) run() {
	s := opt.sect
	s.spans = nil
	s.relocs = make(map[uint64]Reloc)

	for i, bc := range s.bcs {
		bc.index = i
		bc.offset = UnknownOffset
		bc.length = 0
		bc.mult = 1
		bc.err = nil
		opt.prepare(bc)
	}
	opt.stats.Spans = len(s.spans)

	opt.updateOffsets()
	if !opt.settle() {
		return
	}
	opt.updateOffsets()
}

// prepare finalizes one bytecode and computes its minimum length.
func (opt *optimizer) prepare(bc *Bytecode) {
	l := &layout{obj: opt.obj, sect: opt.sect, bc: bc}
	if err := finalizeContents(l); err != nil {
		opt.fail(bc, err)
		return
	}
	if err := opt.prepareMultiple(l); err != nil {
		opt.fail(bc, err)
		return
	}
	n, err := calcContentsLen(l)
	if err != nil {
		opt.fail(bc, err)
		return
	}
	bc.length = n
	opt.sect.spans = append(opt.sect.spans, l.spans...)
}

func (opt *optimizer) prepareMultiple(l *layout) error {
	bc := l.bc
	if bc.multiple == nil {
		return nil
	}
	if bc.Special() == SpecialOffsetSetter {
		return ErrMultipleOffset
	}
	e, err := opt.obj.expand(*bc.multiple)
	if err != nil {
		return fmt.Errorf("multiple: %w", err)
	}
	if e.IsConst() {
		c := e.Const()
		if !c.IsInt64() {
			return fmt.Errorf("multiple: %w", ErrNotConstant)
		}
		if c.Sign() < 0 {
			return fmt.Errorf("%w: %s", ErrNegativeMultiple, c)
		}
		bc.mult = c.Int64()
		return nil
	}
	if !opt.sect.isDistance(e) {
		return fmt.Errorf("multiple: %w: %s", ErrNotConstant, e)
	}
	if spansSelf(e, bc.index) {
		return fmt.Errorf("%w: multiple depends on its own length", ErrCircularReference)
	}
	// Deferred multiples start at zero and are raised by the optimizer.
	bc.mult = 0
	l.addSpan(spanMultiple, NotifyAnyChange, Value{Abs: e, Line: bc.Line}, 0, 0, 0)
	return nil
}

// spansSelf reports whether the locations in e enclose bytecode idx, so
// that the distance they measure includes idx's own bytes.
func spansSelf(e Expr, idx int) bool {
	lo, hi := -1, -1
	for _, t := range e.terms {
		start, end := t.Loc.BC, t.Loc.BC
		if t.Loc.Off > 0 {
			end++
		}
		if lo < 0 || start < lo {
			lo = start
		}
		if end > hi {
			hi = end
		}
	}
	return lo <= idx && idx < hi
}

// updateOffsets assigns offsets by prefix sum. Offset setters get their
// length from the offset they land on.
func (opt *optimizer) updateOffsets() {
	var off uint64
	for _, bc := range opt.sect.bcs {
		bc.offset = off
		if bc.err == nil && bc.Special() == SpecialOffsetSetter {
			n, err := placeContents(bc, off)
			if err != nil {
				opt.fail(bc, err)
				n = 0
			}
			bc.length = n
		}
		off += bc.TotalLen()
	}
	opt.sect.size = off
}

func (opt *optimizer) maxPasses() int {
	if n := opt.obj.opts.MaxPasses; n > 0 {
		return n
	}
	return max(minMaxPasses, 2*len(opt.sect.spans)+2)
}

// settle runs passes until no span fires. Every expansion re-checks the
// other active spans, so dependents fire within the same pass and a pass
// that ends leaves nothing pending. It returns false if the pass limit or
// the expansion budget was hit.
func (opt *optimizer) settle() bool {
	limit := opt.maxPasses()
	budget := limit * max(1, len(opt.sect.spans))
	for {
		opt.stats.Passes++
		queued := make(map[*Span]bool)
		queue := opt.collect(queued)
		if len(queue) == 0 {
			return true
		}
		if opt.stats.Passes > limit {
			opt.diags.Internal(opt.sect.name, fmt.Errorf("%w after %d passes (%d spans pending)",
				ErrNoConvergence, limit, len(queue)))
			return false
		}
		for i := 0; i < len(queue); i++ {
			sp := queue[i]
			delete(queued, sp)
			if !opt.process(sp) {
				continue
			}
			if opt.stats.Expansions > budget {
				opt.diags.Internal(opt.sect.name, fmt.Errorf("%w after %d expansions (%d spans pending)",
					ErrNoConvergence, opt.stats.Expansions, len(queue)-i-1))
				return false
			}
			queue = append(queue, opt.collect(queued)...)
		}
	}
}

// collect returns the active spans that fire under the current offsets, in
// (bytecode, span id) order, skipping and then marking those in queued.
func (opt *optimizer) collect(queued map[*Span]bool) []*Span {
	var fired []*Span
	for _, sp := range opt.sect.spans {
		if sp.State != SpanActive || queued[sp] {
			continue
		}
		v, _ := opt.value(sp)
		if sp.triggered(v) {
			fired = append(fired, sp)
			queued[sp] = true
		}
	}
	return fired
}

func (opt *optimizer) value(sp *Span) (int64, bool) {
	v, ok := opt.sect.distance(&sp.Value)
	if !ok {
		return unknownDistance, false
	}
	return v, true
}

// process expands the bytecode owning sp if sp still fires, and reports
// whether the section grew.
func (opt *optimizer) process(sp *Span) bool {
	bc := opt.sect.bcs[sp.BC]
	if sp.State != SpanActive || bc.err != nil {
		return false
	}
	// An earlier expansion in this pass may have settled this span already.
	cur, exact := opt.value(sp)
	if !sp.triggered(cur) {
		return false
	}

	old := sp.Cur
	before := bc.TotalLen()
	var out Outcome
	if sp.ID == spanMultiple {
		out = expandMultiple(bc, old, cur, exact)
	} else {
		out = expandContents(bc, sp, old, cur)
	}
	sp.Cur = cur

	switch out.Kind {
	case NoLongerDependent:
		sp.State = SpanRetired
		opt.stats.Retired++
	case StillDependent:
		if !exact {
			opt.fail(bc, fmt.Errorf("%w (span %d)", ErrSecondaryExpansion, sp.ID))
			return false
		}
		sp.Neg, sp.Pos = out.Neg, out.Pos
	case ExpandFailed:
		opt.fail(bc, out.Err)
		return false
	}

	after := bc.TotalLen()
	switch {
	case after < before:
		opt.diags.Internal(opt.sect.name, fmt.Errorf("%w: bytecode %d went from %d to %d bytes",
			ErrNonMonotonic, bc.index, before, after))
		bc.err = ErrNonMonotonic
		opt.retireSpans(bc, SpanFailed)
		return false
	case after > before:
		opt.stats.Expansions++
		opt.log.Debug("expanded bytecode",
			"index", bc.index,
			"kind", bc.contents.Kind(),
			"span", sp.ID,
			"value", cur,
			"from", before,
			"to", after,
		)
		opt.updateOffsets()
		return true
	}
	return false
}

func expandMultiple(bc *Bytecode, old, cur int64, exact bool) Outcome {
	switch {
	case !exact:
		return failed(fmt.Errorf("multiple: %w", ErrNotConstant))
	case cur < 0:
		return failed(fmt.Errorf("%w: %d", ErrNegativeMultiple, cur))
	case cur < old:
		return failed(fmt.Errorf("%w: from %d to %d", ErrMultipleDecreased, old, cur))
	}
	bc.mult = cur
	return watch(0, 0)
}

// fail records err as the terminal error of bc and stops watching its
// spans.
func (opt *optimizer) fail(bc *Bytecode, err error) {
	if bc.err != nil {
		return
	}
	bc.err = err
	opt.diags.Fail(bc.Line, opt.sect.name, err)
	opt.retireSpans(bc, SpanFailed)
}

func (opt *optimizer) retireSpans(bc *Bytecode, state SpanState) {
	for _, sp := range opt.sect.spans {
		if sp.BC == bc.index && sp.State == SpanActive {
			sp.State = state
		}
	}
}
