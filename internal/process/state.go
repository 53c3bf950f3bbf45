package process

import "time"

// Info describes the managed pipeline process.
type Info struct {
	PID       int
	Command   []string
	StartedAt time.Time
	Running   bool
	ExitCode  int // valid once Running is false; -1 if the child was never reaped
}
