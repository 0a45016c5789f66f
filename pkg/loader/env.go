package loader

import (
	"errors"
	"sort"
	"strings"

	"github.com/iddaa-lens/cronrunner/pkg/jobs"
)

// SourceEnv names definitions read from environment variables.
const SourceEnv = "env"

// DefaultPrefix marks job variables: RS_<NAME>=<cron expression>.
const DefaultPrefix = "RS_"

// ScriptFile maps the variable suffix to a script path. FOLDER_SCRIPT becomes
// "FOLDER/script"; a suffix without an underscore is lower-cased.
func ScriptFile(suffix string) string {
	folder, script, ok := strings.Cut(suffix, "_")
	if !ok {
		return strings.ToLower(suffix)
	}
	return folder + "/" + strings.ToLower(script)
}

// FromEnv reads job definitions from environ ("KEY=value" pairs) in key
// order. Variables that cannot be resolved are reported as problems and
// left out.
func FromEnv(environ []string, prefix string, resolver *Resolver) ([]jobs.Definition, []error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}

	vars := make(map[string]string)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		vars[key] = value
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var (
		defs     []jobs.Definition
		problems []error
	)
	for _, key := range keys {
		suffix := strings.TrimPrefix(key, prefix)
		if suffix == "" {
			problems = append(problems, &DefinitionError{Source: SourceEnv, Name: key, Err: errors.New("variable has no script name")})
			continue
		}

		name := ScriptFile(suffix)
		expr := strings.TrimSpace(vars[key])
		if expr == "" {
			problems = append(problems, &DefinitionError{Source: SourceEnv, Name: name, Err: errors.New("missing cron expression")})
			continue
		}

		cmd, err := resolver.Resolve(name)
		if err != nil {
			problems = append(problems, &DefinitionError{Source: SourceEnv, Name: name, Err: err})
			continue
		}

		defs = append(defs, jobs.Definition{
			Name:     name,
			Schedule: expr,
			Command:  cmd,
			Source:   SourceEnv,
		})
	}

	return defs, problems
}
