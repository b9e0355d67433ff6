package execctx

import "github.com/0xDC00/frida-gum/internal/osmem"

// Frame is a (guestReturnAddr, translatedReturnAddr) pair (spec.md §3
// ExecFrame).
type Frame struct {
	GuestReturnAddr      uintptr
	TranslatedReturnAddr uintptr
}

// FrameStack is the shadow return stack: a LIFO pre-allocated to one
// page, growing downward from FirstFrame toward lower addresses
// (spec.md §3). It is implemented as a plain Go slice used as a stack so
// no unsafe pointer arithmetic is needed to express "grows toward lower
// addresses" — Push/Pop/Top model the same LIFO discipline the spec
// describes for the native array.
type FrameStack struct {
	frames []Frame
	cap    int
}

// NewFrameStack allocates a shadow stack sized to hold one page's worth
// of frames, matching spec.md §3's "pre-allocated to one page".
func NewFrameStack() *FrameStack {
	capFrames := osmem.PageSize / frameSize
	return &FrameStack{frames: make([]Frame, 0, capFrames), cap: capFrames}
}

const frameSize = 16 // two uintptr-sized fields, matching the native (guest,translated) pair

// Depth returns first_frame - current_frame, i.e. the number of frames
// currently pushed (spec.md §8 invariant 4).
func (s *FrameStack) Depth() int { return len(s.frames) }

// Push appends a frame. If the shadow stack is full, the push is
// silently skipped (spec.md §3: "further pushes are silently skipped and
// the fast ret path falls through") — callers must treat a subsequent
// Pop/Top miss as "go to tier 2/3", never as an error.
func (s *FrameStack) Push(f Frame) (ok bool) {
	if len(s.frames) >= s.cap {
		return false
	}
	s.frames = append(s.frames, f)
	return true
}

// Top returns the most recently pushed frame without removing it.
func (s *FrameStack) Top() (Frame, bool) {
	if len(s.frames) == 0 {
		return Frame{}, false
	}
	return s.frames[len(s.frames)-1], true
}

// Pop removes and returns the most recently pushed frame.
func (s *FrameStack) Pop() (Frame, bool) {
	if len(s.frames) == 0 {
		return Frame{}, false
	}
	f := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	return f, true
}

// Clear empties the shadow stack — used by the ret slow path (spec.md
// §4.E.5 tier 3: "clear the shadow stack").
func (s *FrameStack) Clear() { s.frames = s.frames[:0] }
