package health

import (
	"sync/atomic"
)

// Checker holds the cached health of the ledger store.
// Updated by Monitor; reads never block.
type Checker struct {
	healthy atomic.Bool
}

// NewChecker creates a checker in the healthy state
func NewChecker() *Checker {
	hc := &Checker{}
	hc.healthy.Store(true)
	return hc
}

// IsHealthy returns the cached status. A nil checker reports healthy.
func (hc *Checker) IsHealthy() bool {
	if hc == nil {
		return true
	}
	return hc.healthy.Load()
}

func (hc *Checker) SetHealthy(healthy bool) {
	if hc == nil {
		return
	}
	hc.healthy.Store(healthy)
}

// Status returns "connected" or "unavailable"
func (hc *Checker) Status() string {
	if hc.IsHealthy() {
		return "connected"
	}
	return "unavailable"
}
