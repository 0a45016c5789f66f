package loader

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/iddaa-lens/cronrunner/pkg/jobs"
)

// ErrScriptNotFound is returned when no supported script file exists.
var ErrScriptNotFound = errors.New("script doesn't exist or has the wrong file extension")

// Interpreter maps a file extension to the command that runs it.
type Interpreter struct {
	Ext     string
	Command []string
}

// DefaultInterpreters is tried in order when a script name has no extension.
var DefaultInterpreters = []Interpreter{
	{Ext: ".sh", Command: []string{"/bin/bash"}},
	{Ext: ".pl", Command: []string{"perl"}},
	{Ext: ".py", Command: []string{"python3"}},
}

// Resolver turns script names under Dir into commands.
type Resolver struct {
	Dir          string
	Interpreters []Interpreter

	stat     func(string) (os.FileInfo, error)
	lookPath func(string) (string, error)
}

// NewResolver creates a resolver for scripts under dir.
func NewResolver(dir string) *Resolver {
	return &Resolver{
		Dir:          dir,
		Interpreters: DefaultInterpreters,
		stat:         os.Stat,
		lookPath:     exec.LookPath,
	}
}

// Resolve finds the script file for name and returns the command that runs
// it. A name with a supported extension is used as is; otherwise each
// extension is tried in order.
func (r *Resolver) Resolve(name string) (jobs.Command, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return jobs.Command{}, errors.New("empty script name")
	}
	base := filepath.Join(r.Dir, filepath.FromSlash(name))

	if ext := filepath.Ext(base); ext != "" {
		if interp, ok := r.interpreterFor(ext); ok {
			if r.exists(base) {
				return interp.command(base), nil
			}
			return jobs.Command{}, fmt.Errorf("%s: %w", base, ErrScriptNotFound)
		}
	}

	for _, interp := range r.Interpreters {
		path := base + interp.Ext
		if r.exists(path) {
			return interp.command(path), nil
		}
	}
	return jobs.Command{}, fmt.Errorf("%s: %w", base, ErrScriptNotFound)
}

// CheckCommand verifies that an executable exists, either at an absolute or
// relative path or on PATH.
func (r *Resolver) CheckCommand(path string) (string, error) {
	if strings.ContainsRune(path, os.PathSeparator) {
		if !r.exists(path) {
			return "", fmt.Errorf("command %s does not exist", path)
		}
		return path, nil
	}
	found, err := r.lookPath(path)
	if err != nil {
		return "", fmt.Errorf("command %s not found: %w", path, err)
	}
	return found, nil
}

func (r *Resolver) interpreterFor(ext string) (Interpreter, bool) {
	for _, interp := range r.Interpreters {
		if strings.EqualFold(interp.Ext, ext) {
			return interp, true
		}
	}
	return Interpreter{}, false
}

func (r *Resolver) exists(path string) bool {
	info, err := r.stat(path)
	return err == nil && !info.IsDir()
}

func (i Interpreter) command(script string) jobs.Command {
	args := append(append([]string(nil), i.Command[1:]...), script)
	return jobs.Command{Path: i.Command[0], Args: args}
}
