// Package connectivity exposes the device's online/offline state and
// change notifications to the sync core.
package connectivity

// Monitor reports whether the backend is reachable right now.
//
// Changes returns a fresh subscription channel per call; the monitor sends
// the new state on every offline<->online transition. The channel is
// buffered and lossy in the same way the store's watch stream is: a slow
// consumer sees the latest state, not every flap.
type Monitor interface {
	Online() bool
	Changes() <-chan bool
}
