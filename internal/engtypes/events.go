package engtypes

import "github.com/0xDC00/frida-gum/internal/decode"

// EventKind enumerates the trace events an EventSink can subscribe to
// (spec.md §6).
type EventKind uint32

const (
	EventCall EventKind = 1 << iota
	EventRet
	EventExec
	EventBlock
	EventCompile
)

// Mask is a bitset of EventKind values.
type Mask uint32

func (m Mask) Has(k EventKind) bool { return Mask(k)&m != 0 }

// Event is one trace record delivered to an EventSink. Only the fields
// relevant to Kind are populated.
type Event struct {
	Kind     EventKind
	Location uintptr
	Target   uintptr
	Depth    int
	Start    uintptr
	End      uintptr
}

// CPUContext is the full architectural snapshot the full prolog saves
// (spec.md §4.C). Field order matches the frame layout internal/prolog
// emits; RIP is left as a slot the dispatcher fills in only when a
// caller actually needs the "current PC" (spec.md §4.C: "with the XIP
// slot left for later fill-in").
type CPUContext struct {
	RAX, RBX, RCX, RDX, RSI, RDI, RBP, RSP uint64
	R8, R9, R10, R11, R12, R13, R14, R15   uint64
	RIP                                    uint64
	RFlags                                 uint64
	// FPRegs holds the raw fxsave area plus any YMM-upper spill; opaque
	// to callers that don't need FP/vector state.
	FPRegs []byte
}

// EventSink is the external collaborator that consumes trace events
// (spec.md §6).
type EventSink interface {
	QueryMask() Mask
	Start() error
	Process(ev Event, cpu *CPUContext)
	Stop() error
	Flush() error
}

// Transformer is the external collaborator that rewrites each basic
// block as it's translated (spec.md §6).
type Transformer interface {
	TransformBlock(it *Iterator, out *Output)
}

// TransformerFunc adapts a function to the Transformer interface.
type TransformerFunc func(it *Iterator, out *Output)

func (f TransformerFunc) TransformBlock(it *Iterator, out *Output) { f(it, out) }

// Iterator abstracts the relocator/decoder pair the transformer drives
// (spec.md §4.D step 3, §6).
type Iterator struct {
	Insns []decode.Instruction
	pos   int
	out   *Output
}

// NewIterator is called by the block compiler once it has decoded every
// instruction of the candidate block.
func NewIterator(insns []decode.Instruction, out *Output) *Iterator {
	return &Iterator{Insns: insns, out: out}
}

// Next advances to the next decoded guest instruction, returning false
// once the block's instructions are exhausted.
func (it *Iterator) Next() bool {
	if it.pos >= len(it.Insns) {
		return false
	}
	it.pos++
	return true
}

// Current returns the instruction Next just advanced onto.
func (it *Iterator) Current() decode.Instruction { return it.Insns[it.pos-1] }

// Keep emits the current instruction, virtualizing control transfers —
// the default action.
func (it *Iterator) Keep() { it.out.Keeps = append(it.out.Keeps, it.pos-1) }

// PutCallout injects a full-prolog call to a user callback receiving the
// complete CPU context (spec.md §4.D step 3, §4.C "full prolog").
func (it *Iterator) PutCallout(cb CallbackFunc, data any, destroy func(any)) {
	it.out.Callouts = append(it.out.Callouts, CalloutAt{
		AfterIdx: it.pos - 1,
		Entry:    CalloutEntry{Callback: cb, Data: data, Destroy: destroy},
	})
}

// CallbackFunc is a callout callback invoked with the full CPU context.
type CallbackFunc func(cpu *CPUContext, guestPC uintptr, data any)

// CalloutEntry holds one injected callback with its user data (spec.md
// §3); it is a plain Go value with no link to other entries.
type CalloutEntry struct {
	Callback CallbackFunc
	Data     any
	Destroy  func(any)
	GuestPC  uintptr
}

// CalloutAt pairs a CalloutEntry with the index, within the candidate
// instruction slice, after which it should be emitted.
type CalloutAt struct {
	AfterIdx int
	Entry    CalloutEntry
}

// Output is the writer-side half of the transformer contract: it records
// which instructions were kept and where callouts go. It has no writer,
// so a transformer cannot emit instructions of its own between guest
// instructions. The compiler reads Keeps/Callouts after TransformBlock
// returns to drive actual emission.
type Output struct {
	Keeps    []int
	Callouts []CalloutAt
}
