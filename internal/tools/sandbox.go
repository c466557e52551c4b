package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"strings"
)

// pathParams are the parameter names treated as filesystem paths.
var pathParams = []string{"file_path", "directory", "path"}

// DefaultForbiddenPatterns block destructive shell commands.
var DefaultForbiddenPatterns = []string{
	`rm\s+-rf\s+/`,
	`rm\s+-rf\s+~`,
	`>\s*/dev/sd[a-z]`,
	`mkfs\.`,
	`dd\s+if=`,
	`:\(\)\s*\{\s*:\|:&\s*\};\s*:`,
	`sudo\s+rm`,
	`chmod\s+777`,
	`chown\s+.*\s+/`,
}

// Sandbox confines path parameters to Root and rejects forbidden commands.
type Sandbox struct {
	root      string
	forbidden []string
	patterns  []*regexp.Regexp
}

// NewSandbox creates a sandbox rooted at root. An empty root disables path
// confinement. forbidden lists substrings rejected in any command.
func NewSandbox(root string, forbidden []string) (*Sandbox, error) {
	s := &Sandbox{forbidden: forbidden}
	if root != "" {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolve sandbox root: %w", err)
		}
		s.root = abs
	}
	for _, p := range DefaultForbiddenPatterns {
		s.patterns = append(s.patterns, regexp.MustCompile(p))
	}
	return s, nil
}

// Root returns the absolute sandbox root, or "" when unconfined.
func (s *Sandbox) Root() string { return s.root }

// Validate implements Validator.
func (s *Sandbox) Validate(_ context.Context, _ Spec, params map[string]any) error {
	for _, name := range pathParams {
		if p, ok := StringParam(params, name); ok {
			if _, err := s.Resolve(p); err != nil {
				return err
			}
		}
	}
	if cmd, ok := StringParam(params, "command"); ok {
		return s.CheckCommand(cmd)
	}
	return nil
}

// Resolve returns the absolute form of p, rejecting paths outside the root.
func (s *Sandbox) Resolve(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("empty path")
	}
	if s.root == "" {
		return filepath.Abs(p)
	}

	abs := p
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(s.root, p)
	}
	abs = filepath.Clean(abs)

	if !within(s.root, abs) {
		return "", fmt.Errorf("path %q is outside the sandbox", p)
	}

	// Follow symlinks on the part of the path that exists.
	resolved, err := evalExisting(abs)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", p, err)
	}
	realRoot, err := evalExisting(s.root)
	if err != nil {
		return "", fmt.Errorf("resolve sandbox root: %w", err)
	}
	if !within(realRoot, resolved) {
		return "", fmt.Errorf("path %q is outside the sandbox", p)
	}
	return abs, nil
}

func within(root, abs string) bool {
	rel, err := filepath.Rel(root, abs)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// evalExisting resolves symlinks in the deepest existing ancestor of abs and
// re-appends the components that do not exist yet.
func evalExisting(abs string) (string, error) {
	var missing []string
	dir := abs
	for {
		resolved, err := filepath.EvalSymlinks(dir)
		if err == nil {
			for i := len(missing) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, missing[i])
			}
			return resolved, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		missing = append(missing, filepath.Base(dir))
		dir = parent
	}
}

// CheckCommand rejects empty and forbidden shell commands.
func (s *Sandbox) CheckCommand(command string) error {
	lower := strings.ToLower(strings.TrimSpace(command))
	if lower == "" {
		return fmt.Errorf("empty command")
	}
	for _, f := range s.forbidden {
		if f != "" && strings.Contains(lower, strings.ToLower(f)) {
			return fmt.Errorf("command contains forbidden pattern: %s", f)
		}
	}
	for _, re := range s.patterns {
		if re.MatchString(lower) {
			return fmt.Errorf("command matches forbidden pattern: %s", re.String())
		}
	}
	return nil
}
