package manager

import "fmt"

// JobFailedError is returned by Result for jobs that finished in the failed
// state. It carries the recorded failure reason instead of artifacts.
type JobFailedError struct {
	ID     string
	Reason string
}

func (e *JobFailedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("job %s failed", e.ID)
	}
	return fmt.Sprintf("job %s failed: %s", e.ID, e.Reason)
}
