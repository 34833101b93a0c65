// Package lifecycle holds the shutdown arbitration shared between the
// update layer and the tray quit path.
package lifecycle

import "sync/atomic"

// Guard signals whether the application may terminate. While an update is
// pending or mid-install the guard is blocked so the quit path does not
// pull the process out from under the installer.
type Guard struct {
	allowed atomic.Bool
}

// NewGuard returns a guard that allows termination.
func NewGuard() *Guard {
	g := &Guard{}
	g.allowed.Store(true)
	return g
}

// SetAllowed marks whether the host process may quit.
func (g *Guard) SetAllowed(allowed bool) {
	g.allowed.Store(allowed)
}

// Allowed reports whether the host process may quit. Consulted by the
// tray quit handler before tearing the process down.
func (g *Guard) Allowed() bool {
	return g.allowed.Load()
}
