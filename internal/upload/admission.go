package upload

// Admission bounds how many chunk uploads may be in flight system-wide.
// Acquisition never blocks: when the bound is reached the chunk is rejected
// immediately instead of queuing. A zero or negative limit disables the
// gate entirely.
type Admission struct {
	permits chan struct{}
}

// NewAdmission creates an admission gate with the given global limit.
func NewAdmission(limit int) *Admission {
	if limit <= 0 {
		return &Admission{}
	}
	return &Admission{permits: make(chan struct{}, limit)}
}

// TryAcquire takes a permit without blocking. Always true when disabled.
func (a *Admission) TryAcquire() bool {
	if a.permits == nil {
		return true
	}
	select {
	case a.permits <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees one acquired permit. No-op when disabled.
func (a *Admission) Release() {
	if a.permits == nil {
		return
	}
	select {
	case <-a.permits:
	default:
	}
}

// InFlight returns the number of permits currently held.
func (a *Admission) InFlight() int {
	if a.permits == nil {
		return 0
	}
	return len(a.permits)
}
