package analysis

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ctolnik/office-insight/server/oracle"
	"github.com/ctolnik/office-insight/zapctx"
	"go.uber.org/zap"
)

const (
	// ChatEmptyAnswer is returned when the model produced no text.
	ChatEmptyAnswer = "I'm sorry, I couldn't generate a response at this time."
	// ChatErrorAnswer is returned when the model could not be reached.
	ChatErrorAnswer = "I'm sorry, there was an error processing your question. Please try again later."
)

// AnswerQuestion answers a follow-up question about prior. The only error is
// ErrInvalidRequest; an unreachable model yields ChatErrorAnswer.
func (o *Orchestrator) AnswerQuestion(ctx context.Context, prior Result, question string, turns []ChatTurn) (string, error) {
	ctx, span := tracer.Start(ctx, "analysis.AnswerQuestion")
	defer span.End()

	question = strings.TrimSpace(question)
	if question == "" {
		return "", fmt.Errorf("%w: question is required", ErrInvalidRequest)
	}
	if o.oracle == nil {
		zapctx.Warn(ctx, "Follow-up question without a language model configured")
		return ChatErrorAnswer, nil
	}

	msgs, err := buildChatMessages(prior, question, turns)
	if err != nil {
		return "", err
	}
	answer, err := o.oracle.Complete(ctx, oracle.Request{
		Operation:   "chat",
		Messages:    msgs,
		Temperature: o.cfg.ChatTemperature,
		MaxTokens:   o.cfg.ChatMaxTokens,
	})
	if err != nil {
		span.RecordError(err)
		zapctx.Error(ctx, "Error answering question", zap.Error(err))
		return ChatErrorAnswer, nil
	}
	if strings.TrimSpace(answer) == "" {
		return ChatEmptyAnswer, nil
	}
	return answer, nil
}

// Conversation is the follow-up chat about one result. Turns are kept in
// order until Reset switches to a new result.
type Conversation struct {
	mu     sync.Mutex
	result Result
	turns  []ChatTurn
}

func NewConversation(result Result) *Conversation {
	return &Conversation{result: result}
}

// Ask sends question with the turns so far and records both sides.
func (c *Conversation) Ask(ctx context.Context, o *Orchestrator, question string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	answer, err := o.AnswerQuestion(ctx, c.result, question, c.turns)
	if err != nil {
		return "", err
	}
	c.turns = append(c.turns,
		ChatTurn{Role: ChatRoleUser, Content: strings.TrimSpace(question)},
		ChatTurn{Role: ChatRoleAssistant, Content: answer},
	)
	return answer, nil
}

func (c *Conversation) Result() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

func (c *Conversation) Turns() []ChatTurn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ChatTurn(nil), c.turns...)
}

// Reset discards the turns and binds the conversation to result.
func (c *Conversation) Reset(result Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.result = result
	c.turns = nil
}
