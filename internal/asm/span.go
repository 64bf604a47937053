package asm

import (
	"fmt"
	"math"
)

// NotifyPolicy selects when the optimizer asks a bytecode to expand.
type NotifyPolicy int

const (
	// NotifyOutsideWindow fires when the value leaves [Neg, Pos].
	NotifyOutsideWindow NotifyPolicy = iota
	// NotifyAnyChange fires whenever the value differs from the last one
	// seen.
	NotifyAnyChange
)

func (p NotifyPolicy) String() string {
	switch p {
	case NotifyOutsideWindow:
		return "outside-window"
	case NotifyAnyChange:
		return "any-change"
	default:
		return fmt.Sprintf("NotifyPolicy(%d)", int(p))
	}
}

type SpanState int

const (
	SpanActive SpanState = iota
	SpanRetired
	SpanFailed
)

func (s SpanState) String() string {
	switch s {
	case SpanActive:
		return "active"
	case SpanRetired:
		return "retired"
	case SpanFailed:
		return "failed"
	default:
		return fmt.Sprintf("SpanState(%d)", int(s))
	}
}

// spanMultiple is the span id used for a bytecode's deferred multiple.
// Contents number their own spans from 1.
const spanMultiple = 0

// unknownDistance stands in for values that cannot be computed inside the
// section. It lies outside every window and forces the longest form.
const unknownDistance = math.MaxInt64

// Span records that the length of bytecode BC depends on Value.
type Span struct {
	BC     int
	ID     int
	Policy NotifyPolicy
	Value  Value

	Neg, Pos int64
	// Cur is the value seen at the last expansion.
	Cur   int64
	State SpanState
}

func (sp *Span) triggered(v int64) bool {
	switch sp.Policy {
	case NotifyOutsideWindow:
		return v < sp.Neg || v > sp.Pos
	case NotifyAnyChange:
		return v != sp.Cur
	default:
		panic(fmt.Sprintf("asm: unknown notify policy %d", sp.Policy))
	}
}

type OutcomeKind int

const (
	NoLongerDependent OutcomeKind = iota
	StillDependent
	ExpandFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case NoLongerDependent:
		return "no-longer-dependent"
	case StillDependent:
		return "still-dependent"
	case ExpandFailed:
		return "failed"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is the result of expanding a bytecode for one span.
type Outcome struct {
	Kind     OutcomeKind
	Neg, Pos int64
	Err      error
}

func retire() Outcome { return Outcome{Kind: NoLongerDependent} }

func watch(neg, pos int64) Outcome {
	return Outcome{Kind: StillDependent, Neg: neg, Pos: pos}
}

func failed(err error) Outcome { return Outcome{Kind: ExpandFailed, Err: err} }

// LayoutStats counts optimizer work for one section.
type LayoutStats struct {
	Passes     int `yaml:"passes"`
	Spans      int `yaml:"spans"`
	Expansions int `yaml:"expansions"`
	Retired    int `yaml:"retired"`
}
