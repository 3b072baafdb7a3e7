package wheel

// Hooks are optional extension callbacks invoked at phase boundaries of a
// spoke's lifecycle. All methods have a no-op default; register a custom
// implementation to observe or augment a spoke without touching its loop.
type Hooks interface {
	// AfterPrep runs once, after one-time local setup completes.
	AfterPrep()
	// BeforeWork runs before each solve against a freshly consumed version.
	BeforeWork(version uint64)
	// AfterWork runs after each solve, with the result about to be reported.
	AfterWork(version uint64, bound float64, usable bool)
	// AtDone runs once, after the termination flag has been honored and
	// before the final bound is returned.
	AtDone()
}

// NopHooks is the default Hooks implementation.
type NopHooks struct{}

func (NopHooks) AfterPrep()                      {}
func (NopHooks) BeforeWork(uint64)               {}
func (NopHooks) AfterWork(uint64, float64, bool) {}
func (NopHooks) AtDone()                         {}
