package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/aristath/agentflow/internal/llm"
)

// actionAnswer is the action name that means "no tool, answer directly".
const actionAnswer = "answer"

// noClientAnswer is returned when an agent has no model to consult.
const noClientAnswer = "I need an LLM client to function properly."

// Decision is the structured outcome of one think step: either a final
// answer or an operation to dispatch.
type Decision struct {
	Thought     string
	FinalAnswer string
	Operation   string
	Parameters  map[string]any
	ParamErr    error  // Set when the operation's parameters are not an object
	Raw         string // Model output the decision was parsed from
}

// IsFinal reports whether the decision answers without dispatching a tool.
func (d Decision) IsFinal() bool {
	return d.Operation == ""
}

var (
	jsonFence = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
	anyFence  = regexp.MustCompile("(?s)```[\\w-]*\\s*(.*?)\\s*```")
)

// ExtractJSON finds the first JSON object embedded in text. Fenced json
// blocks are tried first, then any fenced block, then the widest
// brace-delimited span.
func ExtractJSON(text string) (map[string]any, bool) {
	var candidates []string
	for _, re := range []*regexp.Regexp{jsonFence, anyFence} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			candidates = append(candidates, m[1])
		}
	}
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		candidates = append(candidates, text[start:end+1])
	}

	for _, c := range candidates {
		var obj map[string]any
		if err := json.Unmarshal([]byte(c), &obj); err == nil && obj != nil {
			return obj, true
		}
	}
	return nil, false
}

// ParseDecision turns model output into a Decision. It never fails: text
// without a usable JSON object becomes a literal final answer.
func ParseDecision(text string) Decision {
	obj, ok := ExtractJSON(text)
	if !ok {
		return Decision{
			Thought:     "Failed to parse response",
			FinalAnswer: text,
			Raw:         text,
		}
	}

	d := Decision{
		Thought: firstString(obj, "thought"),
		Raw:     text,
	}

	op := firstString(obj, "operation", "action")
	input, hasInput := firstPresent(obj, "parameters", "action_input")
	final := firstString(obj, "finalAnswer", "final_answer")

	// A final answer ends the run even when an action is also named.
	if final != "" {
		d.FinalAnswer = final
		return d
	}
	if op == "" || op == actionAnswer {
		switch {
		case hasInput && stringValue(input) != "":
			d.FinalAnswer = stringValue(input)
		case d.Thought != "":
			d.FinalAnswer = d.Thought
		default:
			d.FinalAnswer = text
		}
		return d
	}

	d.Operation = op
	switch v := input.(type) {
	case map[string]any:
		d.Parameters = v
	case nil:
		d.Parameters = map[string]any{}
	case string:
		d.ParamErr = fmt.Errorf("Tool %s requires object parameters, got string", op)
	default:
		d.ParamErr = fmt.Errorf("Tool %s requires object parameters, got %T", op, v)
	}
	return d
}

func firstString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func firstPresent(obj map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := obj[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		b, err := json.Marshal(s)
		if err != nil {
			return fmt.Sprint(s)
		}
		return string(b)
	}
}

// Engine asks a model for a decision.
type Engine struct {
	client llm.Client
	opts   llm.Options
	logger *slog.Logger
}

// NewEngine creates an engine. A nil client is allowed; every decision is
// then a fixed answer explaining that no model is configured.
func NewEngine(client llm.Client, opts llm.Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{client: client, opts: opts, logger: logger}
}

// Decide sends prompt to the model and parses its reply. Model failures
// degrade to a final answer describing the failure; only cancellation of
// ctx is returned as an error.
func (e *Engine) Decide(ctx context.Context, prompt string) (Decision, error) {
	if e.client == nil {
		return Decision{
			Thought:     "No LLM client configured",
			FinalAnswer: noClientAnswer,
		}, nil
	}

	raw, err := e.client.Generate(ctx, prompt, e.opts)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Decision{}, ctxErr
		}
		e.logger.Warn("model request failed", "error", err)
		return Decision{
			Thought:     "Model request failed",
			FinalAnswer: fmt.Sprintf("The language model request failed: %v", err),
		}, nil
	}

	d := ParseDecision(raw)
	e.logger.Debug("decision", "operation", d.Operation, "final", d.IsFinal())
	return d, nil
}
