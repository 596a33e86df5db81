package provision

import (
	"context"
	"fmt"

	"github.com/open-edge-platform/pyenv-composer/internal/download"
)

// Phase is a state of the provisioning state machine.
type Phase int

const (
	PhaseInit Phase = iota
	PhasePlatformDetected
	PhaseInterpreterReady
	PhaseRequirementsResolved
	PhaseDownloading
	PhaseAllDownloaded
	PhaseOfflineInstalled
	PhasePatched
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhasePlatformDetected:
		return "platform-detected"
	case PhaseInterpreterReady:
		return "interpreter-ready"
	case PhaseRequirementsResolved:
		return "requirements-resolved"
	case PhaseDownloading:
		return "downloading"
	case PhaseAllDownloaded:
		return "all-downloaded"
	case PhaseOfflineInstalled:
		return "offline-installed"
	case PhasePatched:
		return "patched"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Terminal reports whether no further transition leaves p.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// Decision is the answer to a recoverable failure.
type Decision int

const (
	Abandon Decision = iota
	Retry
)

func (d Decision) String() string {
	if d == Retry {
		return "retry"
	}
	return "abandon"
}

// Failure describes a recoverable failure offered to the Decider.
type Failure struct {
	Phase Phase
	// Index and Total locate the artifact for download failures.
	Index       int
	Total       int
	Requirement string
	Err         error
}

func (f Failure) String() string {
	if f.Phase == PhaseDownloading {
		return fmt.Sprintf("download of %s failed (%d/%d): %v", f.Requirement, f.Index+1, f.Total, f.Err)
	}
	return fmt.Sprintf("%s failed: %v", f.Phase, f.Err)
}

// StatusUpdate receives progress from the engine. Implementations must not
// block the caller.
type StatusUpdate interface {
	Message(text string)
	UpdateDownloading(stats download.Snapshot)
}

// Decider chooses between retrying the failed step and abandoning the run.
type Decider interface {
	Decide(ctx context.Context, f Failure) Decision
}

// DeciderFunc adapts a function to Decider.
type DeciderFunc func(ctx context.Context, f Failure) Decision

func (fn DeciderFunc) Decide(ctx context.Context, f Failure) Decision { return fn(ctx, f) }

// AlwaysAbandon fails the run on the first recoverable failure.
var AlwaysAbandon = DeciderFunc(func(context.Context, Failure) Decision { return Abandon })

type discardStatus struct{}

func (discardStatus) Message(string)                      {}
func (discardStatus) UpdateDownloading(download.Snapshot) {}
