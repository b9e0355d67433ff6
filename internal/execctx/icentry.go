package execctx

// ICEmpty is the sentinel "empty" translated address used by a
// not-yet-populated IcEntry (spec.md §3: "Initial state: all entries
// have guest = null, translated = sentinel 'empty'").
const ICEmpty uintptr = 0

// ICEntrySize is the byte size of one ICEntry inlined into translated
// code: two uintptrs, guest then translated.
const ICEntrySize = 16

// ICEntry is a (guestAddr, translatedAddr) pair embedded inline inside a
// call/jmp site that cannot be statically backpatched (spec.md §3, §4.E.2).
type ICEntry struct {
	Guest      uintptr
	Translated uintptr
}

// ICArray is the fixed-length array of ICEntry embedded at one indirect
// call/jmp site. Addr is the address of the first entry inside the
// translated block (needed by the backpatcher to locate the array for
// writes).
type ICArray struct {
	Addr    uintptr
	Entries []ICEntry // len == engine's configured IcEntries
}

// Lookup linearly scans for guestAddr, mirroring the emitted code's
// linear-scan IC probe (spec.md §4.E.2).
func (a *ICArray) Lookup(guestAddr uintptr) (translated uintptr, hit bool) {
	for _, e := range a.Entries {
		if e.Guest == guestAddr {
			return e.Translated, true
		}
		if e.Translated == ICEmpty {
			return 0, false // reached the first empty slot
		}
	}
	return 0, false
}

// FirstEmpty returns the index of the first empty entry, or -1 if the
// array is full (spec.md §4.G: "locate the first empty IcEntry").
func (a *ICArray) FirstEmpty() int {
	for i, e := range a.Entries {
		if e.Translated == ICEmpty {
			return i
		}
	}
	return -1
}

// Contains reports whether guestAddr already has an entry — used by the
// IC backpatcher to implement "if guest_target already present, do
// nothing" (spec.md §4.G), and by invariant 5 (IC monotonicity).
func (a *ICArray) Contains(guestAddr uintptr) bool {
	for _, e := range a.Entries {
		if e.Translated == ICEmpty {
			return false
		}
		if e.Guest == guestAddr {
			return true
		}
	}
	return false
}
