// Package cronexpr validates standard 5-field cron expressions and computes
// their next occurrence in a fixed time zone.
package cronexpr

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultTimezone is used when no location is configured.
const DefaultTimezone = "Europe/Berlin"

var fieldNames = [...]string{"minute", "hour", "day-of-month", "month", "day-of-week"}

// parser accepts standard 5-field cron and the predefined descriptors.
var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// satisfiabilityProbe is the fixed instant used to check that an expression
// can match at all. The parser searches five years ahead, which covers every
// satisfiable pattern including Feb 29.
var satisfiabilityProbe = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// Evaluator evaluates cron expressions in a single location.
// It is safe for concurrent use.
type Evaluator struct {
	loc *time.Location

	parsedMu sync.RWMutex
	parsed   map[string]cron.Schedule
}

// New creates an evaluator for loc. A nil loc falls back to DefaultTimezone,
// and to UTC if that zone is not available.
func New(loc *time.Location) *Evaluator {
	if loc == nil {
		loc = DefaultLocation()
	}
	return &Evaluator{
		loc:    loc,
		parsed: make(map[string]cron.Schedule),
	}
}

// DefaultLocation loads DefaultTimezone, falling back to UTC.
func DefaultLocation() *time.Location {
	loc, err := time.LoadLocation(DefaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LoadLocation resolves an IANA zone name. An empty name yields the default zone.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultLocation(), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load time zone %q: %w", name, err)
	}
	return loc, nil
}

// Location returns the zone expressions are evaluated in.
func (e *Evaluator) Location() *time.Location {
	return e.loc
}

// Validate checks the syntax and field ranges of expression.
// The returned error is always an *InvalidExpressionError.
func (e *Evaluator) Validate(expression string) error {
	_, err := e.schedule(expression)
	return err
}

// Next returns the earliest instant strictly after the given one that
// satisfies expression, in the evaluator's location.
func (e *Evaluator) Next(expression string, after time.Time) (time.Time, error) {
	sched, err := e.schedule(expression)
	if err != nil {
		return time.Time{}, err
	}

	// SpecSchedule evaluates in the location of its argument when the
	// schedule itself carries time.Local.
	next := sched.Next(after.In(e.loc))
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("%q after %s: %w", expression, after.Format(time.RFC3339), ErrNoOccurrence)
	}
	return next, nil
}

// Upcoming returns the next n occurrences after the given instant. A
// non-positive n yields no occurrences; the expression is still checked.
func (e *Evaluator) Upcoming(expression string, after time.Time, n int) ([]time.Time, error) {
	if n <= 0 {
		if _, err := e.schedule(expression); err != nil {
			return nil, err
		}
		return []time.Time{}, nil
	}
	out := make([]time.Time, 0, n)
	cur := after
	for i := 0; i < n; i++ {
		next, err := e.Next(expression, cur)
		if err != nil {
			return out, err
		}
		out = append(out, next)
		cur = next
	}
	return out, nil
}

func (e *Evaluator) schedule(expression string) (cron.Schedule, error) {
	expression = strings.TrimSpace(expression)

	e.parsedMu.RLock()
	sched, ok := e.parsed[expression]
	e.parsedMu.RUnlock()
	if ok {
		return sched, nil
	}

	sched, err := parse(expression)
	if err != nil {
		return nil, err
	}

	e.parsedMu.Lock()
	e.parsed[expression] = sched
	e.parsedMu.Unlock()
	return sched, nil
}

func parse(expression string) (cron.Schedule, error) {
	if expression == "" {
		return nil, &InvalidExpressionError{Expression: expression, Reason: "empty expression"}
	}

	var normalized string
	if strings.HasPrefix(expression, "@") {
		if strings.HasPrefix(expression, "@every") {
			return nil, &InvalidExpressionError{Expression: expression, Reason: "interval descriptors are not cron schedules"}
		}
		normalized = expression
	} else {
		fields := strings.Fields(expression)
		if len(fields) != len(fieldNames) {
			return nil, &InvalidExpressionError{
				Expression: expression,
				Reason:     fmt.Sprintf("expected %d fields, found %d", len(fieldNames), len(fields)),
			}
		}
		fields[4] = normalizeDow(fields[4])

		if _, err := parser.Parse(strings.Join(fields, " ")); err != nil {
			return nil, attribute(expression, fields, err)
		}
		normalized = strings.Join(fields, " ")
	}

	sched, err := parser.Parse(normalized)
	if err != nil {
		return nil, &InvalidExpressionError{Expression: expression, Reason: err.Error()}
	}
	if sched.Next(satisfiabilityProbe).IsZero() {
		return nil, &InvalidExpressionError{Expression: expression, Reason: "expression never matches"}
	}
	return sched, nil
}

// attribute finds the first field that fails on its own, with every other
// field set to "*".
func attribute(expression string, fields []string, cause error) error {
	for i := range fields {
		single := []string{"*", "*", "*", "*", "*"}
		single[i] = fields[i]
		if _, err := parser.Parse(strings.Join(single, " ")); err != nil {
			return &InvalidExpressionError{Expression: expression, Field: fieldNames[i], Reason: err.Error()}
		}
	}
	return &InvalidExpressionError{Expression: expression, Reason: cause.Error()}
}
