package readiness

import (
	"fmt"
	"time"
)

type State string

const (
	StateUnknown    State = "unknown"
	StateProbing    State = "probing"
	StateStarting   State = "starting"
	StateReady      State = "ready"
	StateFailed     State = "failed"
	StateTerminated State = "terminated"
)

// IsTerminal reports whether no further transitions can leave the state
func (s State) IsTerminal() bool {
	return s == StateFailed || s == StateTerminated
}

// IsPending reports whether the backend may still become ready on its own
func (s State) IsPending() bool {
	return s == StateUnknown || s == StateProbing || s == StateStarting
}

type SignalKind string

const (
	SignalProbeStarted   SignalKind = "probe_started"
	SignalProbeSuccess   SignalKind = "probe_success"
	SignalProbeFailure   SignalKind = "probe_failure"
	SignalLogMatch       SignalKind = "log_match"
	SignalTimeoutElapsed SignalKind = "timeout_elapsed"
	SignalProcessExited  SignalKind = "process_exited"
)

// SpawnFailureCode is the exit code reported when the backend could not be started at all.
// It is outside the range of real exit statuses, including -1 for signal deaths.
const SpawnFailureCode = -127

// Signal is one event that can advance the gate
type Signal struct {
	Kind SignalKind
	Text string
	Code int
}

func ProbeStarted() Signal {
	return Signal{Kind: SignalProbeStarted}
}

func ProbeSuccess() Signal {
	return Signal{Kind: SignalProbeSuccess}
}

func ProbeFailure(reason string) Signal {
	return Signal{Kind: SignalProbeFailure, Text: reason}
}

func LogMatch(line string) Signal {
	return Signal{Kind: SignalLogMatch, Text: line}
}

func TimeoutElapsed() Signal {
	return Signal{Kind: SignalTimeoutElapsed}
}

func ProcessExited(code int) Signal {
	return Signal{Kind: SignalProcessExited, Code: code}
}

func SpawnFailed(reason string) Signal {
	return Signal{Kind: SignalProcessExited, Code: SpawnFailureCode, Text: reason}
}

func (s Signal) String() string {
	switch s.Kind {
	case SignalProcessExited:
		if s.Code == SpawnFailureCode {
			return fmt.Sprintf("%s(spawn failure: %s)", s.Kind, s.Text)
		}
		return fmt.Sprintf("%s(%d)", s.Kind, s.Code)
	case SignalLogMatch, SignalProbeFailure:
		if s.Text != "" {
			return fmt.Sprintf("%s(%q)", s.Kind, s.Text)
		}
	}
	return string(s.Kind)
}

// Status is the authoritative readiness value
type Status struct {
	State    State
	Reason   string
	Degraded bool
	ExitCode int
	Since    time.Time
}

func (s Status) String() string {
	switch {
	case s.Degraded:
		return fmt.Sprintf("%s (degraded)", s.State)
	case s.Reason != "":
		return fmt.Sprintf("%s (%s)", s.State, s.Reason)
	}
	return string(s.State)
}

// Transition is delivered to subscribers once per state change.
// A subscriber's first transition describes the state at subscription time and has From == To.
type Transition struct {
	From   Status
	To     Status
	Signal Signal
	At     time.Time
}

// next applies one signal to the current status.
// Crash always wins; every other signal only moves the state toward ready.
func next(current Status, signal Signal) (Status, bool) {
	if signal.Kind == SignalProcessExited {
		if current.State.IsTerminal() {
			return current, false
		}
		if signal.Code == SpawnFailureCode && current.State != StateReady {
			return Status{State: StateFailed, Reason: signal.Text, ExitCode: signal.Code}, true
		}
		return Status{
			State:    StateTerminated,
			Reason:   fmt.Sprintf("process exited with code %d", signal.Code),
			ExitCode: signal.Code,
		}, true
	}

	switch current.State {
	case StateUnknown, StateProbing:
		switch signal.Kind {
		case SignalProbeStarted:
			if current.State == StateUnknown {
				return Status{State: StateProbing}, true
			}
		case SignalProbeSuccess:
			return Status{State: StateReady, Reason: "existing service responded"}, true
		case SignalProbeFailure:
			return Status{State: StateStarting, Reason: signal.Text}, true
		}

	case StateStarting:
		switch signal.Kind {
		case SignalLogMatch:
			return Status{State: StateReady, Reason: "readiness marker seen"}, true
		case SignalProbeSuccess:
			return Status{State: StateReady, Reason: "service responded to probe"}, true
		case SignalTimeoutElapsed:
			return Status{State: StateReady, Reason: "fallback timeout elapsed", Degraded: true}, true
		}
	}

	return current, false
}
