// Package engtypes holds the types shared between the public stalker
// API and the internal engine packages (compiler, virt, dispatch,
// backpatch). They live here, rather than in package stalker itself, so
// internal packages can depend on them without an import cycle; package
// stalker re-exports each of them as a type alias so the public surface
// still reads as one coherent package.
package engtypes

import "sync/atomic"

// CallDetails is what a call-probe callback receives (spec.md §6).
type CallDetails struct {
	Target        uintptr
	ReturnAddress uintptr
	StackPointer  uintptr
	CPU           *CPUContext
}

// ProbeCallback is invoked for every call to a registered probe address
// (spec.md §3 CallProbe, §4.E.8).
type ProbeCallback func(details CallDetails, userData any)

// ProbeID identifies a registered call probe for later removal.
type ProbeID uint64

// Probe is the refcounted CallProbe record (spec.md §3).
type Probe struct {
	ID       ProbeID
	Addr     uintptr
	Callback ProbeCallback
	UserData any
	Destroy  func(any)
	refs     int32
}

func (p *Probe) Retain() { atomic.AddInt32(&p.refs, 1) }

// Release decrements the refcount and runs Destroy once it hits zero.
func (p *Probe) Release() {
	if atomic.AddInt32(&p.refs, -1) == 0 && p.Destroy != nil {
		p.Destroy(p.UserData)
	}
}
