package llm

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/askflow/memory"
	"github.com/BaSui01/askflow/retrieval"
	"github.com/BaSui01/askflow/types"
)

// retrievalTemplate frames knowledge-base context so the model treats it as
// the primary source and cites it. Changing the wording changes answer
// behavior; keep it stable.
const retrievalTemplate = `IMPORTANT: Knowledge-base context retrieved for this request follows. Treat it as the primary source for your answer, prefer it over prior knowledge when they conflict, and cite the sources it lists.

--- Retrieved context ---
%s
--- End retrieved context ---`

// Enricher prepares the outbound message list for a provider call. It records
// the turns actually sent in the conversation memory, augments the system
// message with retrieved knowledge-base context and the rendered memory
// context, and accepts the finished assistant reply back into memory.
//
// One Enricher belongs to one adapter instance and inherits the adapter's
// single-request-at-a-time discipline; it must not be shared across sessions.
type Enricher struct {
	window  *memory.Window
	kb      *retrieval.Client
	modelID string
	logger  *zap.Logger
}

// NewEnricher wires an adapter's memory window and retrieval client. Both may
// be nil, which disables the corresponding enrichment step.
func NewEnricher(window *memory.Window, kb *retrieval.Client, modelID string, logger *zap.Logger) *Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{
		window:  window,
		kb:      kb,
		modelID: modelID,
		logger:  logger.With(zap.String("component", "enricher")),
	}
}

// Prepare returns the message list to send upstream. The input slice is not
// modified. Steps, in order: feed user/assistant text turns into memory,
// query the knowledge base with the latest user text, inject the retrieved
// context into the system message, then append the rendered memory context.
// Memory is rendered after feeding, so the current turn is part of the
// rendered context.
func (e *Enricher) Prepare(ctx context.Context, messages []types.Message) []types.Message {
	if e == nil {
		return messages
	}
	out := make([]types.Message, len(messages))
	copy(out, messages)

	e.recordTurns(out)

	sections := make([]string, 0, 2)
	if e.kb.Enabled() {
		if userText := LatestUserText(out); userText != "" {
			contextText, citations := e.kb.Query(ctx, userText, e.modelID, "")
			if contextText != "" {
				sections = append(sections, fmt.Sprintf(retrievalTemplate, contextText))
				e.logger.Debug("knowledge context injected",
					zap.Int("context_chars", len(contextText)),
					zap.Int("citations", len(citations)))
			}
		}
	}
	if e.window != nil {
		sections = append(sections, e.window.RenderContext())
	}
	if len(sections) == 0 {
		return out
	}
	return injectSystem(out, strings.Join(sections, "\n\n"))
}

// CommitAssistant records the completed assistant reply in memory. Adapters
// call it exactly once per finished stream, after the terminal event.
func (e *Enricher) CommitAssistant(text string) {
	if e == nil || e.window == nil {
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	e.window.Append(text, memory.RoleAssistant)
}

func (e *Enricher) recordTurns(messages []types.Message) {
	if e.window == nil {
		return
	}
	for _, m := range messages {
		text := strings.TrimSpace(m.Text())
		if text == "" {
			continue
		}
		switch m.Role {
		case types.RoleUser:
			e.window.Append(text, memory.RoleUser)
		case types.RoleAssistant:
			e.window.Append(text, memory.RoleAssistant)
		}
	}
}

// LatestUserText returns the text of the most recent user message, or "".
func LatestUserText(messages []types.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != types.RoleUser {
			continue
		}
		if text := strings.TrimSpace(messages[i].Text()); text != "" {
			return text
		}
	}
	return ""
}

// injectSystem appends extra to the system message, creating one at the head
// when the request carries none. At most one system message exists and it is
// always first.
func injectSystem(messages []types.Message, extra string) []types.Message {
	if len(messages) > 0 && messages[0].Role == types.RoleSystem {
		head := messages[0]
		head.Parts = append([]types.ContentPart(nil), head.Parts...)
		head.AppendText("\n\n" + extra)
		out := make([]types.Message, len(messages))
		copy(out, messages)
		out[0] = head
		return out
	}
	out := make([]types.Message, 0, len(messages)+1)
	out = append(out, types.NewSystemMessage(extra))
	return append(out, messages...)
}
