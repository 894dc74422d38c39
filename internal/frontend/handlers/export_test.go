package handlers

import "time"

// SetDetachTimeout shortens the wait before Detach falls back to an
// unbounded wait.
func (b *Bridge) SetDetachTimeout(d time.Duration) { b.detachTimeout = d }
