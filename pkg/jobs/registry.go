package jobs

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/iddaa-lens/cronrunner/pkg/logger"
	"github.com/iddaa-lens/cronrunner/pkg/utils"
)

// InvalidJobPolicy decides what happens to a definition that fails validation.
type InvalidJobPolicy string

const (
	// PolicyAbort fails startup when any definition is invalid.
	PolicyAbort InvalidJobPolicy = "abort"
	// PolicySkip excludes invalid definitions and keeps the rest.
	PolicySkip InvalidJobPolicy = "skip"
)

// ParseInvalidJobPolicy parses a policy name, defaulting to PolicyAbort.
func ParseInvalidJobPolicy(s string) (InvalidJobPolicy, error) {
	switch InvalidJobPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyAbort:
		return PolicyAbort, nil
	case PolicySkip:
		return PolicySkip, nil
	default:
		return "", fmt.Errorf("unknown invalid job policy %q (use abort or skip)", s)
	}
}

// RegistryOptions configures NewRegistry.
type RegistryOptions struct {
	Policy InvalidJobPolicy
	Logger *logger.Logger
}

type entry struct {
	job       Job
	nextDue   time.Time
	scheduled bool
	retired   bool
	last      *Outcome
}

// Registry holds the fixed set of jobs of a run and their next due times.
// Only the scheduling loop writes due times; outcomes may be recorded from
// any goroutine.
type Registry struct {
	mu      sync.RWMutex
	entries []*entry
	byName  map[string]*entry
	byKey   map[string]*entry
}

// NewRegistry validates defs and builds the registry. It returns a
// *ConfigurationError when the resulting set would be unusable.
func NewRegistry(defs []Definition, validator Validator, opts RegistryOptions) (*Registry, error) {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	policy := opts.Policy
	if policy == "" {
		policy = PolicyAbort
	}

	r := &Registry{
		entries: make([]*entry, 0, len(defs)),
		byName:  make(map[string]*entry, len(defs)),
		byKey:   make(map[string]*entry, len(defs)),
	}

	var problems []error
	for _, def := range defs {
		job, err := r.check(def, validator)
		if err != nil {
			log.Error().
				Err(err).
				Str("action", "job_invalid").
				Str("job_name", def.Name).
				Str("schedule", def.Schedule).
				Str("source", def.Source).
				Msg("Job definition rejected")
			problems = append(problems, err)
			continue
		}

		e := &entry{job: job}
		r.entries = append(r.entries, e)
		r.byName[job.Name] = e
		r.byKey[job.Key] = e

		log.Info().
			Str("action", "job_registered").
			Str("job_name", job.Name).
			Str("job_key", job.Key).
			Str("schedule", job.Schedule).
			Str("command", job.Command.String()).
			Str("source", def.Source).
			Msg("Registered job")
	}

	if len(problems) > 0 && policy == PolicyAbort {
		return nil, &ConfigurationError{Reason: "invalid job definitions", Problems: problems}
	}
	if len(r.entries) == 0 {
		return nil, &ConfigurationError{Reason: "no valid jobs", Problems: problems}
	}
	if len(problems) > 0 {
		log.Warn().
			Str("action", "jobs_excluded").
			Int("excluded", len(problems)).
			Int("registered", len(r.entries)).
			Msg("Invalid jobs excluded from the schedule")
	}

	return r, nil
}

func (r *Registry) check(def Definition, validator Validator) (Job, error) {
	name := strings.TrimSpace(def.Name)
	if name == "" {
		return Job{}, fmt.Errorf("job without a name: schedule %q", def.Schedule)
	}
	key := utils.GenerateJobKey(name)
	if key == "" {
		return Job{}, fmt.Errorf("job %q: name does not produce a usable key", name)
	}
	if _, dup := r.byName[name]; dup {
		return Job{}, fmt.Errorf("job %q: duplicate name", name)
	}
	if other, dup := r.byKey[key]; dup {
		return Job{}, fmt.Errorf("job %q: key %q already used by job %q", name, key, other.job.Name)
	}
	if strings.TrimSpace(def.Command.Path) == "" {
		return Job{}, fmt.Errorf("job %q: empty command", name)
	}

	schedule := strings.TrimSpace(def.Schedule)
	if err := validator.Validate(schedule); err != nil {
		return Job{}, fmt.Errorf("job %q: %w", name, err)
	}

	return Job{
		Name:     name,
		Key:      key,
		Schedule: schedule,
		Command: Command{
			Path: def.Command.Path,
			Args: append([]string(nil), def.Command.Args...),
		},
	}, nil
}

// Len returns the number of registered jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Jobs returns all jobs in registration order.
func (r *Registry) Jobs() []Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Job, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.job)
	}
	return out
}

// Get returns the job with the given name.
func (r *Registry) Get(name string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byName[name]
	if !ok {
		return Job{}, false
	}
	return e.job, true
}

// Schedule sets the next due time of a job.
func (r *Registry) Schedule(name string, due time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byName[name]
	if !ok {
		return fmt.Errorf("job %q is not registered", name)
	}
	e.nextDue = due
	e.scheduled = true
	return nil
}

// Retire takes a job out of rotation for the rest of the run.
func (r *Registry) Retire(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byName[name]
	if !ok {
		return fmt.Errorf("job %q is not registered", name)
	}
	e.retired = true
	return nil
}

// NextDue returns the due time of a job, false if it is unscheduled or retired.
func (r *Registry) NextDue(name string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byName[name]
	if !ok || !e.active() {
		return time.Time{}, false
	}
	return e.nextDue, true
}

// Earliest returns the active job with the smallest due time. Ties go to the
// job registered first.
func (r *Registry) Earliest() (Job, time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *entry
	for _, e := range r.entries {
		if !e.active() {
			continue
		}
		if best == nil || e.nextDue.Before(best.nextDue) {
			best = e
		}
	}
	if best == nil {
		return Job{}, time.Time{}, false
	}
	return best.job, best.nextDue, true
}

// Due returns every active job whose due time is at or before now, in
// registration order.
func (r *Registry) Due(now time.Time) []Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var due []Job
	for _, e := range r.entries {
		if e.active() && !e.nextDue.After(now) {
			due = append(due, e.job)
		}
	}
	return due
}

// RecordOutcome stores the latest outcome of a job.
func (r *Registry) RecordOutcome(name string, outcome Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.byName[name]; ok {
		o := outcome
		e.last = &o
	}
}

// Snapshot returns the status of every job in registration order.
func (r *Registry) Snapshot() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Status, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.status())
	}
	return out
}

// Lookup returns the status of the job with the given key.
func (r *Registry) Lookup(key string) (Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byKey[key]
	if !ok {
		return Status{}, false
	}
	return e.status(), true
}

func (e *entry) active() bool {
	return e.scheduled && !e.retired
}

func (e *entry) status() Status {
	s := Status{Job: e.job, Retired: e.retired}
	if e.active() {
		s.NextDue = e.nextDue
	}
	if e.last != nil {
		o := *e.last
		s.LastOutcome = &o
	}
	return s
}
