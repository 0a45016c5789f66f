package loader

import "fmt"

// DefinitionError is a job definition the loader could not turn into a
// runnable command.
type DefinitionError struct {
	Source string
	Name   string
	Err    error
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("%s job %q: %v", e.Source, e.Name, e.Err)
}

func (e *DefinitionError) Unwrap() error {
	return e.Err
}
