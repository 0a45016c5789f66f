package dispatch

import "fmt"

// DispatchError describes a failed invocation. It is logged and recorded as
// the job's last outcome, and never returned to the scheduler.
type DispatchError struct {
	Job      string
	RunID    string
	ExitCode int
	// Launch is true when the command could not be started at all
	Launch bool
	Err    error
}

func (e *DispatchError) Error() string {
	if e.Launch {
		return fmt.Sprintf("job %q run %s failed to launch: %v", e.Job, e.RunID, e.Err)
	}
	return fmt.Sprintf("job %q run %s exited with code %d: %v", e.Job, e.RunID, e.ExitCode, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}
