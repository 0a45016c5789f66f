package loader

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/iddaa-lens/cronrunner/pkg/jobs"
)

// SourcePostgres names definitions read from a database table.
const SourcePostgres = "postgres"

// DefaultJobsTable is the table FromPostgres reads when none is configured.
const DefaultJobsTable = "scheduled_jobs"

// Querier is the part of pgxpool.Pool the loader needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// JobsQuery returns the statement used to read enabled jobs from table,
// which may be schema qualified.
func JobsQuery(table string) string {
	if table == "" {
		table = DefaultJobsTable
	}
	ident := pgx.Identifier(strings.Split(table, ".")).Sanitize()
	return fmt.Sprintf(`SELECT name, schedule, command, args FROM %s WHERE enabled ORDER BY name`, ident)
}

// FromPostgres reads enabled job definitions from table. Rows whose command
// cannot be found are reported as problems; the error is set when the query
// itself fails.
func FromPostgres(ctx context.Context, db Querier, table string, resolver *Resolver) ([]jobs.Definition, []error, error) {
	rows, err := db.Query(ctx, JobsQuery(table))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var (
		defs     []jobs.Definition
		problems []error
	)
	for rows.Next() {
		var (
			name, schedule, command string
			args                    []string
		)
		if err := rows.Scan(&name, &schedule, &command, &args); err != nil {
			return nil, nil, fmt.Errorf("failed to scan job row: %w", err)
		}

		path, err := resolver.CheckCommand(command)
		if err != nil {
			problems = append(problems, &DefinitionError{Source: SourcePostgres, Name: name, Err: err})
			continue
		}

		defs = append(defs, jobs.Definition{
			Name:     name,
			Schedule: schedule,
			Command:  jobs.Command{Path: path, Args: args},
			Source:   SourcePostgres,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read jobs: %w", err)
	}

	return defs, problems, nil
}
