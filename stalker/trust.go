package stalker

// SetTrustThreshold changes the engine-wide trust threshold (spec.md
// §4.B). It takes effect for every Compile/commit call from this point
// on; blocks already translated keep whatever RecycleCount they've
// accumulated.
func (e *Engine) SetTrustThreshold(n int64) {
	e.trustThreshold.Store(n)
	e.comp.TrustThreshold = n
}

func (e *Engine) GetTrustThreshold() int64 {
	return e.trustThreshold.Load()
}
