package jobs

import (
	"strings"
	"time"
)

// Command is an already-resolved executable and its ordered arguments.
type Command struct {
	Path string
	Args []string
}

// Argv returns the command line as a single slice.
func (c Command) Argv() []string {
	return append([]string{c.Path}, c.Args...)
}

func (c Command) String() string {
	return strings.Join(c.Argv(), " ")
}

// Definition is a job as supplied by a loader, before validation.
type Definition struct {
	// Name is a human-readable identifier, unique within a run
	Name string

	// Schedule is a 5-field cron expression
	// Examples: "*/5 * * * *" (every 5 minutes), "0 3 * * *" (daily at 03:00)
	Schedule string

	Command Command

	// Source names the loader the definition came from (env, file, postgres)
	Source string
}

// Job is a validated definition. Its fields never change after registration.
type Job struct {
	Name     string
	Key      string
	Schedule string
	Command  Command
}

// Outcome describes a single invocation of a job. It is kept for
// observability only.
type Outcome struct {
	RunID      string     `json:"run_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	ExitCode   int        `json:"exit_code"`
	Error      string     `json:"error,omitempty"`
	Skipped    bool       `json:"skipped,omitempty"`
}

// Succeeded reports whether the invocation ran and exited zero.
func (o Outcome) Succeeded() bool {
	return !o.Skipped && o.Error == "" && o.ExitCode == 0
}

// Status is a point-in-time view of a registered job.
type Status struct {
	Job
	NextDue     time.Time
	Retired     bool
	LastOutcome *Outcome
}

// Validator checks a cron expression.
type Validator interface {
	Validate(expression string) error
}
