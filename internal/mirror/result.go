package mirror

import (
	"errors"
	"fmt"
	"time"

	"github.com/openmined/diskmirror/internal/remote"
)

// ErrSyncAlreadyRunning is returned when a pass is requested while another one is in flight.
var ErrSyncAlreadyRunning = errors.New("sync already running")

// PassError ends a pass early. Stage names the step that failed.
type PassError struct {
	PassID string
	Stage  string
	Err    error
}

func (e *PassError) Error() string {
	return fmt.Sprintf("sync pass %s failed at %s: %v", e.PassID, e.Stage, e.Err)
}

func (e *PassError) Unwrap() error {
	return e.Err
}

// Action is a mutating call issued by a pass.
type Action string

const (
	ActionUpload Action = "upload"
	ActionDelete Action = "delete"
	// ActionVerified is an upload that was dropped because the remote already had the content.
	ActionVerified Action = "verified"
)

// ActionResult is the outcome of one planned action.
type ActionResult struct {
	Action  Action
	Path    string
	Size    int64
	Outcome remote.Outcome
	Err     error
}

// Result summarises one pass.
type Result struct {
	PassID   string
	Started  time.Time
	Duration time.Duration
	Plan     *Plan
	Actions  []ActionResult
}

func (r *Result) count(action Action, ok bool) int {
	n := 0
	for _, a := range r.Actions {
		if a.Action == action && (a.Outcome == remote.OutcomeOK) == ok {
			n++
		}
	}
	return n
}

func (r *Result) Uploaded() int { return r.count(ActionUpload, true) }

func (r *Result) Deleted() int { return r.count(ActionDelete, true) }

func (r *Result) Verified() int { return r.count(ActionVerified, true) }

// Failed counts actions that did not succeed, whatever their kind.
func (r *Result) Failed() int {
	n := 0
	for _, a := range r.Actions {
		if a.Outcome != remote.OutcomeOK {
			n++
		}
	}
	return n
}

// BytesUploaded sums the sizes of successful uploads.
func (r *Result) BytesUploaded() int64 {
	var total int64
	for _, a := range r.Actions {
		if a.Action == ActionUpload && a.Outcome == remote.OutcomeOK {
			total += a.Size
		}
	}
	return total
}

// Converged is true when every local file is known to match the remote.
func (r *Result) Converged() bool {
	return r.Failed() == 0 && (r.Plan == nil || len(r.Plan.Skipped) == 0)
}
