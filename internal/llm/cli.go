package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/agentflow/internal/process"
)

// Format selects how CLI output is interpreted.
type Format string

const (
	FormatText       Format = "text"        // Trimmed stdout
	FormatClaudeJSON Format = "claude-json" // claude -p --output-format json
	FormatCodexJSON  Format = "codex-json"  // codex exec --json event stream
	FormatGooseJSON  Format = "goose-json"  // goose run --output-format json
)

// CLIConfig configures a CLIClient.
type CLIConfig struct {
	Command string
	Args    []string // Placed before the prompt
	Format  Format
	Model   string
	WorkDir string
	Timeout time.Duration
}

// CLIClient runs one subprocess per request.
type CLIClient struct {
	cfg CLIConfig
	pm  *process.Manager
}

// NewCLIClient creates a CLI client. pm is optional; when set, running
// subprocesses are tracked so shutdown can kill them.
func NewCLIClient(cfg CLIConfig, pm *process.Manager) (*CLIClient, error) {
	if cfg.Format == "" {
		cfg.Format = FormatText
	}
	switch cfg.Format {
	case FormatText, FormatClaudeJSON, FormatCodexJSON, FormatGooseJSON:
	default:
		return nil, fmt.Errorf("unknown cli output format %q", cfg.Format)
	}
	return &CLIClient{cfg: cfg, pm: pm}, nil
}

// claudeResponse is the JSON printed by claude -p --output-format json. Both
// the plain string result and the content-block form are accepted.
type claudeResponse struct {
	SessionID string          `json:"session_id"`
	Result    json.RawMessage `json:"result"`
	IsError   bool            `json:"is_error"`
}

type claudeContent struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Generate implements Client.
func (c *CLIClient) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	cmd := process.Command(ctx, c.cfg.Command, c.buildArgs(prompt, opts)...)
	cmd.Dir = c.cfg.WorkDir

	stdout, _, err := process.Run(cmd, c.pm)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%s command failed: %w", c.cfg.Command, err)
	}

	switch c.cfg.Format {
	case FormatClaudeJSON:
		return parseClaudeResponse(stdout)
	case FormatCodexJSON:
		return parseCodexEvents(stdout)
	case FormatGooseJSON:
		return parseGooseResponse(stdout), nil
	default:
		return strings.TrimSpace(string(stdout)), nil
	}
}

func (c *CLIClient) buildArgs(prompt string, opts Options) []string {
	args := append([]string(nil), c.cfg.Args...)

	switch c.cfg.Format {
	case FormatClaudeJSON:
		args = append(args, "-p", prompt, "--output-format", "json")
		if c.cfg.Model != "" {
			args = append(args, "--model", c.cfg.Model)
		}
		if opts.System != "" {
			args = append(args, "--system-prompt", opts.System)
		}
		return args

	case FormatGooseJSON:
		args = append(args, "run", "--text", prompt, "--output-format", "json")
		if c.cfg.Model != "" {
			args = append(args, "--model", c.cfg.Model)
		}
		if opts.System != "" {
			args = append(args, "--system", opts.System)
		}
		return args
	}

	// Text and codex take the system prompt inline.
	if opts.System != "" {
		prompt = opts.System + "\n\n" + prompt
	}
	if c.cfg.Format == FormatCodexJSON {
		args = append(args, "exec", prompt, "--json")
		if c.cfg.Model != "" {
			args = append(args, "--model", c.cfg.Model)
		}
		return args
	}
	return append(args, prompt)
}

func parseClaudeResponse(data []byte) (string, error) {
	var cr claudeResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return "", fmt.Errorf("failed to unmarshal claude output: %w", err)
	}

	var text string
	if err := json.Unmarshal(cr.Result, &text); err != nil {
		var blocks claudeContent
		if err := json.Unmarshal(cr.Result, &blocks); err != nil {
			return "", fmt.Errorf("unexpected claude result: %s", cr.Result)
		}
		var sb strings.Builder
		for _, item := range blocks.Content {
			if item.Type == "text" {
				sb.WriteString(item.Text)
			}
		}
		text = sb.String()
	}

	if cr.IsError {
		return "", fmt.Errorf("claude reported an error: %s", text)
	}
	return text, nil
}

type codexEvent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// parseCodexEvents returns the content of the last TurnCompleted event in a
// newline-delimited JSON stream.
func parseCodexEvents(data []byte) (string, error) {
	var content string
	found := false

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var evt codexEvent
		if err := json.Unmarshal(line, &evt); err != nil {
			return "", fmt.Errorf("failed to parse codex event: %w", err)
		}
		if evt.Type == "TurnCompleted" {
			content = evt.Content
			found = true
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("reading codex events: %w", err)
	}
	if !found {
		return "", fmt.Errorf("codex output has no completed turn")
	}
	return content, nil
}

type gooseResponse struct {
	Content string `json:"content"`
}

// parseGooseResponse accepts a single JSON object, newline-delimited JSON
// objects, or plain text when the installed goose ignores the format flag.
func parseGooseResponse(data []byte) string {
	var single gooseResponse
	if err := json.Unmarshal(data, &single); err == nil {
		return single.Content
	}

	var contents []string
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var lr gooseResponse
		if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &lr); err == nil && lr.Content != "" {
			contents = append(contents, lr.Content)
		}
	}
	if len(contents) > 0 {
		return strings.Join(contents, "\n")
	}
	return strings.TrimSpace(string(data))
}
