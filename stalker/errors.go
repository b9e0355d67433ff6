package stalker

import (
	"github.com/pkg/errors"
)

// Error kinds (spec.md §7). Each is a distinct sentinel wrapped with
// call-site context via github.com/pkg/errors, and exposed through an
// Is*-predicate, following the same taxonomy idiom as
// github.com/containerd/errdefs (IsNotFound, IsInvalidArgument, ...) —
// grounded on that package's 109 occurrences across moby-moby's test
// tree.
var (
	errUnsupportedInstruction = errors.New("stalker: unsupported instruction, falling back to single-step")
	errPageUnreadable         = errors.New("stalker: guest page unreadable")
	errLabelUnresolved        = errors.New("stalker: label resolution failed after writer flush")
	errInvalidationRace       = errors.New("stalker: invalidation raced with execution inside victim trampoline")
)

// WrapUnsupportedInstruction marks err (or creates a fresh sentinel when
// err is nil) as the "unsupported instruction" kind from spec.md §7: the
// compiler must fall back to REQUIRE_SINGLE_STEP rather than propagate
// this as fatal.
func WrapUnsupportedInstruction(err error, guestAddr uintptr) error {
	if err == nil {
		err = errUnsupportedInstruction
	}
	return errors.Wrapf(err, "unsupported instruction at %#x", guestAddr)
}

func IsUnsupportedInstruction(err error) bool {
	return errors.Is(err, errUnsupportedInstruction)
}

func WrapPageUnreadable(err error, guestAddr uintptr) error {
	if err == nil {
		err = errPageUnreadable
	}
	return errors.Wrapf(err, "guest page unreadable at %#x", guestAddr)
}

func IsPageUnreadable(err error) bool { return errors.Is(err, errPageUnreadable) }

func WrapInvalidationRace(addr uintptr) error {
	return errors.Wrapf(errInvalidationRace, "at %#x", addr)
}

func IsInvalidationRace(err error) bool { return errors.Is(err, errInvalidationRace) }

// PanicOnUnresolvedLabel is never recovered from: spec.md §7 says a
// label resolution failure after writer flush "aborts the process with
// a diagnostic" — a programming error in the emitter or transformer,
// not a condition callers can recover from.
func PanicOnUnresolvedLabel(err error) {
	if err != nil {
		panic(errors.Wrap(errLabelUnresolved, err.Error()))
	}
}
