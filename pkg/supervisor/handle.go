package supervisor

import "sync"

// Handle describes the backend process the coordinator is talking to.
// It exposes no way to signal the process; only the Supervisor can do that.
type Handle struct {
	pid   int
	owned bool

	mutex    sync.Mutex
	exited   bool
	exitCode int
	done     chan struct{}
}

func newOwnedHandle(pid int) *Handle {
	return &Handle{pid: pid, owned: true, done: make(chan struct{})}
}

func newExternalHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

// PID is zero for an external instance, whose process is unknown to the coordinator
func (h *Handle) PID() int {
	return h.pid
}

// Owned reports whether the coordinator spawned the process and will terminate it on shutdown
func (h *Handle) Owned() bool {
	return h.owned
}

// ExitCode returns the exit status once known
func (h *Handle) ExitCode() (int, bool) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.exitCode, h.exited
}

// Done is closed when an owned process exits. It never closes for an external instance.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (h *Handle) markExited(code int) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.exited {
		return
	}
	h.exited = true
	h.exitCode = code
	close(h.done)
}
