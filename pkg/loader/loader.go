// Package loader turns job sources (environment, YAML file, PostgreSQL
// table) into job definitions with resolved commands.
package loader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/iddaa-lens/cronrunner/pkg/jobs"
)

// Source selects where job definitions come from.
type Source string

const (
	FromEnvironment Source = SourceEnv
	FromYAMLFile    Source = SourceFile
	FromDatabase    Source = SourcePostgres
)

// ParseSource parses a source name, defaulting to the environment.
func ParseSource(s string) (Source, error) {
	switch Source(strings.ToLower(strings.TrimSpace(s))) {
	case "", FromEnvironment:
		return FromEnvironment, nil
	case FromYAMLFile:
		return FromYAMLFile, nil
	case FromDatabase:
		return FromDatabase, nil
	default:
		return "", fmt.Errorf("unknown job source %q (use env, file or postgres)", s)
	}
}

// Options configures Load.
type Options struct {
	Source     Source
	Prefix     string
	ScriptsDir string
	JobsFile   string
	JobsTable  string

	// Environ defaults to os.Environ().
	Environ []string

	// DB is required for the postgres source.
	DB Querier
}

// Result is what a source produced. Problems are per-definition errors;
// Definitions holds everything that resolved.
type Result struct {
	Definitions []jobs.Definition
	Problems    []error
}

// Load reads definitions from the configured source. The error is set only
// when the source as a whole is unusable.
func Load(ctx context.Context, opts Options) (Result, error) {
	resolver := NewResolver(opts.ScriptsDir)

	switch opts.Source {
	case "", FromEnvironment:
		environ := opts.Environ
		if environ == nil {
			environ = os.Environ()
		}
		defs, problems := FromEnv(environ, opts.Prefix, resolver)
		return Result{Definitions: defs, Problems: problems}, nil

	case FromYAMLFile:
		defs, problems, err := FromFile(opts.JobsFile, resolver)
		if err != nil {
			return Result{}, err
		}
		return Result{Definitions: defs, Problems: problems}, nil

	case FromDatabase:
		if opts.DB == nil {
			return Result{}, errors.New("postgres job source requires a database connection")
		}
		defs, problems, err := FromPostgres(ctx, opts.DB, opts.JobsTable, resolver)
		if err != nil {
			return Result{}, err
		}
		return Result{Definitions: defs, Problems: problems}, nil

	default:
		return Result{}, fmt.Errorf("unknown job source %q", opts.Source)
	}
}
