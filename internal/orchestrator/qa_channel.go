package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aristath/agentflow/internal/tools"
)

// Question is a request for a human (or policy) decision raised by an agent.
type Question struct {
	From       string // Agent or task that asked
	Content    string
	responseCh chan Answer
}

// Answer is the reply to a Question.
type Answer struct {
	Content string
	Error   error
}

// AnswerFunc produces the answer to one question. The CLI wires a terminal
// prompt here; tests wire canned replies.
type AnswerFunc func(ctx context.Context, from string, question string) (string, error)

// QAChannel serializes questions from concurrently running agents onto a
// single answering goroutine.
type QAChannel struct {
	questionCh chan Question
	answerFn   AnswerFunc
	done       chan struct{}
}

// NewQAChannel creates a channel with the given buffer size. bufferSize
// should typically be 2x the concurrency limit so askers rarely block.
func NewQAChannel(bufferSize int, answerFn AnswerFunc) *QAChannel {
	return &QAChannel{
		questionCh: make(chan Question, bufferSize),
		answerFn:   answerFn,
		done:       make(chan struct{}),
	}
}

// Start launches the answering goroutine. It runs until ctx is cancelled.
func (qac *QAChannel) Start(ctx context.Context) {
	go qac.handleQuestions(ctx)
}

func (qac *QAChannel) handleQuestions(ctx context.Context) {
	defer close(qac.done)

	for {
		select {
		case <-ctx.Done():
			return
		case q := <-qac.questionCh:
			content, err := qac.answerFn(ctx, q.From, q.Content)

			select {
			case <-ctx.Done():
				q.responseCh <- Answer{Error: ctx.Err()}
				return
			default:
				q.responseCh <- Answer{Content: content, Error: err}
			}
		}
	}
}

// Ask sends a question and waits for its answer. Cancellation is honoured
// while sending and while waiting.
func (qac *QAChannel) Ask(ctx context.Context, from string, question string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	responseCh := make(chan Answer, 1)

	q := Question{
		From:       from,
		Content:    question,
		responseCh: responseCh,
	}

	select {
	case qac.questionCh <- q:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case answer := <-responseCh:
		if answer.Error != nil {
			return "", answer.Error
		}
		return answer.Content, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Confirm asks whether agentName may run the tool described by spec. Only
// an affirmative answer ("y", "yes", "approve", "ok") approves it.
func (qac *QAChannel) Confirm(ctx context.Context, agentName string, spec tools.Spec, params map[string]any) (bool, error) {
	answer, err := qac.Ask(ctx, agentName, ConfirmationPrompt(agentName, spec, params))
	if err != nil {
		return false, err
	}
	return IsAffirmative(answer), nil
}

// ConfirmationPrompt renders the question asked before a guarded tool runs.
func ConfirmationPrompt(agentName string, spec tools.Spec, params map[string]any) string {
	args, err := json.Marshal(params)
	if err != nil {
		args = []byte(fmt.Sprint(params))
	}
	return fmt.Sprintf("Agent %s wants to run %s with %s. Approve?", agentName, spec.Name, args)
}

// IsAffirmative reports whether answer approves a request.
func IsAffirmative(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes", "approve", "approved", "ok", "true":
		return true
	default:
		return false
	}
}

// Stop blocks until the answering goroutine has exited.
func (qac *QAChannel) Stop() {
	<-qac.done
}
