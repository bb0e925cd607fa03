package engine

import "fmt"

const (
	ReasonSpawn    = "spawn"
	ReasonExit     = "exit"
	ReasonTimeout  = "timeout"
	ReasonCanceled = "canceled"
)

// InvocationError means the engine could not produce output: it failed to
// start, exited non-zero, or was stopped. Stdout and Stderr hold whatever was
// captured and are for diagnostics only.
type InvocationError struct {
	Reason   string
	Message  string
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Err      error
}

func (e *InvocationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("analysis engine %s: %s: %v", e.Reason, e.Message, e.Err)
	}
	return fmt.Sprintf("analysis engine %s: %s", e.Reason, e.Message)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}
