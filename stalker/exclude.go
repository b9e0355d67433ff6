package stalker

// Exclude adds r to the set of guest ranges direct calls never follow
// into (spec.md §4.E.1). Ranges are write-at-init/rare-update and
// read-mostly by the compiler's emitter, so the published slice is
// simply swapped under excludeMu rather than synchronized on every read
// (spec.md §5's concurrency policy for exclusion ranges).
func (e *Engine) Exclude(r Range) {
	e.excludeMu.Lock()
	defer e.excludeMu.Unlock()
	e.excluded = append(e.excluded, r)
	e.comp.Excluded = e.excluded
}
