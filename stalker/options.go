package stalker

import "time"

// Option configures an Engine at construction time, following the
// functional-options idiom (the teacher's own config surface is a
// handful of package-level flag-parsed globals in tools/build.go; the
// idiomatic Go translation of "a handful of named knobs set once at
// startup" is functional options, not a config struct with exported
// mutable fields).
type Option func(*config)

type config struct {
	icEntries        int
	trustThreshold   int64
	observer         Observer
	recentExitGrace  time.Duration
}

func defaultConfig() config {
	return config{
		icEntries:       2, // spec.md §6 default
		trustThreshold:  0,
		observer:        noopObserver{},
		recentExitGrace: 20 * time.Millisecond, // spec.md §9 open question, exposed as a tunable
	}
}

// WithICEntries sets the inline-cache array length per indirect call/jmp
// site. Must be in [2, 32] (spec.md §6); out-of-range values are clamped.
func WithICEntries(n int) Option {
	return func(c *config) {
		if n < 2 {
			n = 2
		}
		if n > 32 {
			n = 32
		}
		c.icEntries = n
	}
}

// WithTrustThreshold sets the initial trust threshold (spec.md §4.B).
func WithTrustThreshold(n int64) Option {
	return func(c *config) { c.trustThreshold = n }
}

// WithObserver installs the optional Observer collaborator.
func WithObserver(o Observer) Option {
	return func(c *config) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithRecentExitGrace overrides the GC heuristic's "thread likely back
// in original code" grace period (spec.md §4.H, §9 Open Question;
// default 20ms).
func WithRecentExitGrace(d time.Duration) Option {
	return func(c *config) { c.recentExitGrace = d }
}
