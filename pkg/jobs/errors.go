package jobs

import (
	"fmt"
	"strings"
)

// ConfigurationError is a fatal startup condition: the scheduler must not
// run with the given definitions.
type ConfigurationError struct {
	Reason   string
	Problems []error
}

func (e *ConfigurationError) Error() string {
	if len(e.Problems) == 0 {
		return "configuration error: " + e.Reason
	}

	msgs := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		msgs = append(msgs, p.Error())
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Reason, strings.Join(msgs, "; "))
}

func (e *ConfigurationError) Unwrap() []error {
	return e.Problems
}
