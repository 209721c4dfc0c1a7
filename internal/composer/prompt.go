package composer

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docchat-go/internal/rag"
	"github.com/54b3r/docchat-go/internal/store"
)

// HistoryPlacement decides where prior turns sit relative to the retrieved
// context in the composed prompt.
type HistoryPlacement string

const (
	// HistoryBeforeContext sends [system+context, history..., question].
	HistoryBeforeContext HistoryPlacement = "before_context"
	// ContextAfterHistory sends [system, history..., context, question] so the
	// retrieved text sits closest to the question.
	ContextAfterHistory HistoryPlacement = "after_context"
)

// ParsePlacement maps a config value to a HistoryPlacement. Empty selects
// HistoryBeforeContext.
func ParsePlacement(s string) (HistoryPlacement, error) {
	switch HistoryPlacement(strings.ToLower(strings.TrimSpace(s))) {
	case "", HistoryBeforeContext:
		return HistoryBeforeContext, nil
	case ContextAfterHistory:
		return ContextAfterHistory, nil
	default:
		return "", fmt.Errorf("composer: unknown history placement %q (valid values: before_context, after_context)", s)
	}
}

// instructions is the fixed system prompt. The decline clause is present
// whether or not any context was retrieved.
const instructions = `You are an assistant that answers questions about the user's uploaded documents.

Rules:
- Answer using only the information in the context provided.
- If the context does not contain the answer, say clearly that you do not know. Do not guess or use outside knowledge.
- Format your answer in Markdown.`

// contextBlock renders retrieved chunks as the "Context:" section.
func contextBlock(chunks []rag.Match) string {
	texts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if t := strings.TrimSpace(c.Text); t != "" {
			texts = append(texts, t)
		}
	}
	return "Context:\n" + strings.Join(texts, "\n\n")
}

// historyMessages converts stored turns to eino messages, oldest first.
func historyMessages(prior []store.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(prior))
	for _, m := range prior {
		switch m.Role {
		case store.RoleUser:
			out = append(out, schema.UserMessage(m.Content))
		case store.RoleAssistant:
			out = append(out, schema.AssistantMessage(m.Content, nil))
		}
	}
	return out
}

// prompt holds the parts of a composed request before they are ordered.
type prompt struct {
	system   []*schema.Message
	context  []*schema.Message
	question *schema.Message
}

// buildPrompt splits the request into fixed messages and the placement-
// dependent layout.
func buildPrompt(p HistoryPlacement, question string, chunks []rag.Match) prompt {
	q := schema.UserMessage(question)
	if p == ContextAfterHistory {
		return prompt{
			system:   []*schema.Message{schema.SystemMessage(instructions)},
			context:  []*schema.Message{schema.SystemMessage(contextBlock(chunks))},
			question: q,
		}
	}
	return prompt{
		system:   []*schema.Message{schema.SystemMessage(instructions + "\n\n" + contextBlock(chunks))},
		question: q,
	}
}

// fixed returns the messages that are never trimmed.
func (p prompt) fixed() []*schema.Message {
	out := make([]*schema.Message, 0, len(p.system)+len(p.context)+1)
	out = append(out, p.system...)
	out = append(out, p.context...)
	return append(out, p.question)
}

// assemble orders system, history, context, question.
func (p prompt) assemble(history []*schema.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(p.system)+len(history)+len(p.context)+1)
	out = append(out, p.system...)
	out = append(out, history...)
	out = append(out, p.context...)
	return append(out, p.question)
}
