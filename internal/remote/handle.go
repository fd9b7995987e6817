package remote

import (
	"sync"
	"sync/atomic"
)

// FuncHandle is a Handle backed by a release function that runs at most once.
type FuncHandle struct {
	cancelled atomic.Bool
	once      sync.Once
	release   func()
}

// NewHandle wraps release in a Handle.
func NewHandle(release func()) *FuncHandle {
	return &FuncHandle{release: release}
}

// Cancel runs the release function on first call.
func (h *FuncHandle) Cancel() {
	h.once.Do(func() {
		h.cancelled.Store(true)
		if h.release != nil {
			h.release()
		}
	})
}

// IsCancelled reports whether Cancel has been called.
func (h *FuncHandle) IsCancelled() bool {
	return h.cancelled.Load()
}

// CancelIfActive cancels h unless it is nil or already cancelled. It reports
// whether a cancellation happened.
func CancelIfActive(h Handle) bool {
	if h == nil || h.IsCancelled() {
		return false
	}
	h.Cancel()
	return true
}
