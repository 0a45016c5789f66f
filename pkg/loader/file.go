package loader

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/iddaa-lens/cronrunner/pkg/jobs"
)

// SourceFile names definitions read from a YAML jobs file.
const SourceFile = "file"

// jobsFile is the YAML layout:
//
//	jobs:
//	  - name: backup
//	    schedule: "0 3 * * *"
//	    script: backup/daily
//	  - name: ping
//	    schedule: "*/5 * * * *"
//	    command: /usr/bin/curl
//	    args: ["-fsS", "https://example.com/health"]
type jobsFile struct {
	Jobs []fileJob `yaml:"jobs"`
}

type fileJob struct {
	Name     string   `yaml:"name"`
	Schedule string   `yaml:"schedule"`
	Script   string   `yaml:"script"`
	Command  string   `yaml:"command"`
	Args     []string `yaml:"args"`
}

// FromFile reads job definitions from a YAML file. The error is set when the
// file itself cannot be read or parsed.
func FromFile(path string, resolver *Resolver) ([]jobs.Definition, []error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open jobs file: %w", err)
	}
	defer f.Close()

	return FromYAML(f, resolver)
}

// FromYAML decodes job definitions from r. Unknown keys are rejected.
func FromYAML(r io.Reader, resolver *Resolver) ([]jobs.Definition, []error, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc jobsFile
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("failed to parse jobs file: %w", err)
	}

	var (
		defs     []jobs.Definition
		problems []error
	)
	for i, j := range doc.Jobs {
		name := strings.TrimSpace(j.Name)
		if name == "" {
			name = strings.TrimSpace(j.Script)
		}
		if name == "" {
			name = fmt.Sprintf("#%d", i+1)
		}

		cmd, err := j.command(resolver)
		if err != nil {
			problems = append(problems, &DefinitionError{Source: SourceFile, Name: name, Err: err})
			continue
		}
		if strings.TrimSpace(j.Schedule) == "" {
			problems = append(problems, &DefinitionError{Source: SourceFile, Name: name, Err: errors.New("missing cron expression")})
			continue
		}

		defs = append(defs, jobs.Definition{
			Name:     name,
			Schedule: j.Schedule,
			Command:  cmd,
			Source:   SourceFile,
		})
	}

	return defs, problems, nil
}

func (j fileJob) command(resolver *Resolver) (jobs.Command, error) {
	script := strings.TrimSpace(j.Script)
	command := strings.TrimSpace(j.Command)

	switch {
	case script != "" && command != "":
		return jobs.Command{}, errors.New("set either script or command, not both")
	case script != "":
		cmd, err := resolver.Resolve(script)
		if err != nil {
			return jobs.Command{}, err
		}
		cmd.Args = append(cmd.Args, j.Args...)
		return cmd, nil
	case command != "":
		path, err := resolver.CheckCommand(command)
		if err != nil {
			return jobs.Command{}, err
		}
		return jobs.Command{Path: path, Args: append([]string(nil), j.Args...)}, nil
	default:
		return jobs.Command{}, errors.New("no script or command")
	}
}
