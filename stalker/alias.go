package stalker

import "github.com/0xDC00/frida-gum/internal/engtypes"

// The types below live in internal/engtypes so that internal/compiler,
// internal/virt and internal/dispatch can depend on them without
// importing this package (which in turn depends on them); aliasing them
// here keeps the public surface a single coherent package, following
// the same re-export idiom the teacher uses to expose its std/ir types
// through std/backend's public Program/Function wrappers.
type (
	EventKind           = engtypes.EventKind
	Mask                = engtypes.Mask
	Event               = engtypes.Event
	CPUContext          = engtypes.CPUContext
	EventSink           = engtypes.EventSink
	Transformer         = engtypes.Transformer
	TransformerFunc     = engtypes.TransformerFunc
	Iterator            = engtypes.Iterator
	Output              = engtypes.Output
	CallbackFunc        = engtypes.CallbackFunc
	CalloutEntry        = engtypes.CalloutEntry
	Observer            = engtypes.Observer
	BackpatchDescriptor = engtypes.BackpatchDescriptor
	CallDetails         = engtypes.CallDetails
	ProbeCallback       = engtypes.ProbeCallback
	ProbeID             = engtypes.ProbeID
	Probe               = engtypes.Probe
)

const (
	EventCall    = engtypes.EventCall
	EventRet     = engtypes.EventRet
	EventExec    = engtypes.EventExec
	EventBlock   = engtypes.EventBlock
	EventCompile = engtypes.EventCompile

	CurrentBackpatchVersion = engtypes.CurrentBackpatchVersion
)

type noopObserver = engtypes.NoopObserver
