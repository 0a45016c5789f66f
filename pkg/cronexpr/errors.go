package cronexpr

import (
	"errors"
	"fmt"
)

// ErrNoOccurrence is returned by Next when an expression has no matching
// instant within the search window of the underlying parser.
var ErrNoOccurrence = errors.New("cron expression has no upcoming occurrence")

// InvalidExpressionError reports a malformed or out-of-range cron expression.
// Field is empty when the problem is not attributable to a single field,
// e.g. the wrong number of fields.
type InvalidExpressionError struct {
	Expression string
	Field      string
	Reason     string
}

func (e *InvalidExpressionError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid cron expression %q: %s", e.Expression, e.Reason)
	}
	return fmt.Sprintf("invalid cron expression %q: %s field: %s", e.Expression, e.Field, e.Reason)
}
