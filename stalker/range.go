package stalker

import "github.com/0xDC00/frida-gum/internal/virt"

// Range is a half-open [Start, End) guest address range, used by
// Exclude (spec.md §4.E.1): a call targeting an address inside an
// excluded range is emitted as a native call bracketed by
// excluded_enter/excluded_exit instead of being followed into
// translated code.
type Range = virt.Range
