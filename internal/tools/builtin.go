package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aristath/agentflow/internal/process"
)

const (
	maxListEntries        = 500
	defaultCommandTimeout = 60 * time.Second
)

// BuiltinOptions configures the built-in tools.
type BuiltinOptions struct {
	Sandbox        *Sandbox         // Resolves paths; required
	Processes      *process.Manager // Tracks run_command children; optional
	CommandTimeout time.Duration    // Default 60s
}

// RegisterBuiltins adds read_file, write_file, list_directory and run_command.
func RegisterBuiltins(r *Registry, opts BuiltinOptions) error {
	if opts.Sandbox == nil {
		return fmt.Errorf("builtin tools need a sandbox")
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = defaultCommandTimeout
	}
	b := builtins{opts: opts}

	for _, t := range []Tool{
		{
			Spec: Spec{
				Name:        "read_file",
				Description: "Read the contents of a file",
				Params: []Param{
					{Name: "file_path", Type: "string", Description: "Path to the file", Required: true},
				},
			},
			Handler: b.readFile,
		},
		{
			Spec: Spec{
				Name:        "write_file",
				Description: "Write content to a file",
				Params: []Param{
					{Name: "file_path", Type: "string", Description: "Path to the file", Required: true},
					{Name: "content", Type: "string", Description: "Content to write", Required: true},
				},
				RequiresConfirmation: true,
				Dangerous:            true,
			},
			Handler: b.writeFile,
		},
		{
			Spec: Spec{
				Name:        "list_directory",
				Description: "List contents of a directory",
				Params: []Param{
					{Name: "directory", Type: "string", Description: "Path to directory (default .)"},
					{Name: "recursive", Type: "boolean", Description: "List recursively"},
				},
			},
			Handler: b.listDirectory,
		},
		{
			Spec: Spec{
				Name:        "run_command",
				Description: "Run a shell command in the working directory",
				Params: []Param{
					{Name: "command", Type: "string", Description: "Command line to run", Required: true},
				},
				RequiresConfirmation: true,
				Dangerous:            true,
			},
			Handler: b.runCommand,
		},
	} {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

type builtins struct {
	opts BuiltinOptions
}

func (b builtins) path(params map[string]any, name, fallback string) (string, error) {
	p, ok := StringParam(params, name)
	if !ok || p == "" {
		if fallback == "" {
			return "", fmt.Errorf("%s must be a string", name)
		}
		p = fallback
	}
	return b.opts.Sandbox.Resolve(p)
}

func (b builtins) readFile(_ context.Context, params map[string]any) (string, error) {
	path, err := b.path(params, "file_path", "")
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (b builtins) writeFile(_ context.Context, params map[string]any) (string, error) {
	path, err := b.path(params, "file_path", "")
	if err != nil {
		return "", err
	}
	content, _ := StringParam(params, "content")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return fmt.Sprintf("Wrote %d chars to %s", len(content), path), nil
}

func (b builtins) listDirectory(_ context.Context, params map[string]any) (string, error) {
	dir, err := b.path(params, "directory", ".")
	if err != nil {
		return "", err
	}

	var entries []string
	if BoolParam(params, "recursive") {
		err = filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if p == dir {
				return nil
			}
			if len(entries) >= maxListEntries {
				return filepath.SkipAll
			}
			rel, _ := filepath.Rel(dir, p)
			entries = append(entries, describeEntry(rel, d))
			return nil
		})
	} else {
		var items []os.DirEntry
		items, err = os.ReadDir(dir)
		for _, d := range items {
			if len(entries) >= maxListEntries {
				break
			}
			entries = append(entries, describeEntry(d.Name(), d))
		}
	}
	if err != nil {
		return "", err
	}

	sort.Strings(entries)
	return strings.Join(entries, "\n"), nil
}

func describeEntry(name string, d os.DirEntry) string {
	if d.IsDir() {
		return name + "/"
	}
	return name
}

func (b builtins) runCommand(ctx context.Context, params map[string]any) (string, error) {
	command, ok := StringParam(params, "command")
	if !ok {
		return "", fmt.Errorf("command must be a string")
	}
	if err := b.opts.Sandbox.CheckCommand(command); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, b.opts.CommandTimeout)
	defer cancel()

	cmd := process.Command(ctx, "sh", "-c", command)
	cmd.Dir = b.opts.Sandbox.Root()

	stdout, _, err := process.Run(cmd, b.opts.Processes)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("command timed out after %s", b.opts.CommandTimeout)
		}
		return "", err
	}
	return strings.TrimRight(string(stdout), "\n"), nil
}
