package models

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/adk/model"
	"google.golang.org/genai"

	"github.com/easeaico/persona-core/internal/apperr"
	"github.com/easeaico/persona-core/internal/types"
)

// maxToolRounds bounds model and tool round trips in one completion. The last round is sent
// without tools so the model has to answer in text.
const maxToolRounds = 3

// Tool is a function the model may call while composing a reply.
type Tool struct {
	Declaration *genai.FunctionDeclaration
	Run         func(ctx context.Context, args map[string]any) (map[string]any, error)
}

// ToolCaller is implemented by models that can run tools during a completion.
type ToolCaller interface {
	CompleteWithTools(ctx context.Context, systemPrompt string, history []types.ConversationTurn, tools []Tool) (string, error)
}

var _ ToolCaller = (*ChatModel)(nil)

// CompleteWithTools is Complete with function calling. Tool failures are reported back to the
// model as an error payload instead of failing the completion.
func (m *ChatModel) CompleteWithTools(ctx context.Context, systemPrompt string, history []types.ConversationTurn, tools []Tool) (string, error) {
	req := m.buildRequest(systemPrompt, history)
	byName := make(map[string]Tool, len(tools))
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		if t.Declaration == nil || t.Run == nil {
			continue
		}
		byName[t.Declaration.Name] = t
		decls = append(decls, t.Declaration)
	}

	for round := 0; ; round++ {
		req.Config.Tools = nil
		if len(decls) > 0 && round < maxToolRounds-1 {
			req.Config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
		}

		text, calls, err := m.generateOnce(ctx, req)
		if err != nil {
			return "", err
		}
		if len(calls) == 0 || req.Config.Tools == nil {
			reply := strings.TrimSpace(text)
			if reply == "" {
				if err := ctx.Err(); err != nil {
					return "", classifyError(m.provider, err)
				}
				return "", apperr.NewProviderError(m.provider, apperr.Unavailable, fmt.Errorf("empty model response"))
			}
			return reply, nil
		}

		callParts := make([]*genai.Part, 0, len(calls))
		responseParts := make([]*genai.Part, 0, len(calls))
		for _, call := range calls {
			callParts = append(callParts, &genai.Part{FunctionCall: call})
			responseParts = append(responseParts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       call.ID,
				Name:     call.Name,
				Response: runTool(ctx, byName, call),
			}})
		}
		req.Contents = append(req.Contents,
			&genai.Content{Role: genai.RoleModel, Parts: callParts},
			&genai.Content{Role: genai.RoleUser, Parts: responseParts},
		)
	}
}

func (m *ChatModel) generateOnce(ctx context.Context, req *model.LLMRequest) (string, []*genai.FunctionCall, error) {
	var sb strings.Builder
	var calls []*genai.FunctionCall
	for resp, err := range m.llm.GenerateContent(ctx, req, false) {
		if err != nil {
			return "", nil, classifyError(m.provider, err)
		}
		sb.WriteString(responseText(resp))
		if resp == nil || resp.Content == nil {
			continue
		}
		for _, part := range resp.Content.Parts {
			if part != nil && part.FunctionCall != nil && part.FunctionCall.Name != "" {
				calls = append(calls, part.FunctionCall)
			}
		}
	}
	return sb.String(), calls, nil
}

func runTool(ctx context.Context, tools map[string]Tool, call *genai.FunctionCall) map[string]any {
	t, ok := tools[call.Name]
	if !ok {
		return map[string]any{"error": fmt.Sprintf("unknown tool %q", call.Name)}
	}
	out, err := t.Run(ctx, call.Args)
	if err != nil {
		slog.Warn("tool call failed", "tool", call.Name, "error", err.Error())
		return map[string]any{"error": err.Error()}
	}
	if out == nil {
		out = map[string]any{}
	}
	return out
}
