package netmode

import (
	"sync"
)

// Observer reports connectivity and notifies on online/offline transitions.
// The production implementation is the Prober; tests inject fakes so none
// of the mode logic needs a live network.
type Observer interface {
	Online() bool
	// Subscribe registers fn to be called on each transition. The returned
	// function unsubscribes.
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// Detector decides whether reads and writes should go through the local
// store. It is called on every read, so both checks are synchronous and
// never touch the network.
type Detector struct {
	mu       sync.Mutex
	isLocal  func() bool
	cached   *bool
	observer Observer
}

// NewDetector builds a Detector. isLocal reads the configuration flag that
// marks the primary backend as a LAN/local instance; its result is cached
// until Reset.
func NewDetector(isLocal func() bool, observer Observer) *Detector {
	return &Detector{isLocal: isLocal, observer: observer}
}

// IsLocalMode reports whether the configured primary backend is a local/LAN
// instance. Computed once, then served from cache.
func (d *Detector) IsLocalMode() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cached == nil {
		v := d.isLocal()
		d.cached = &v
	}
	return *d.cached
}

// Reset clears the cached mode. Call after configuration changes.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cached = nil
}

// ShouldUseLocalData reports whether reads must be served from the local
// store: either the device is offline or the app runs in local mode.
func (d *Detector) ShouldUseLocalData() bool {
	return !d.observer.Online() || d.IsLocalMode()
}
