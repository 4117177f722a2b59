package models

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/openai/openai-go/v3"
	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

// buildOpenAIParams converts an ADK request into chat completion parameters.
func buildOpenAIParams(req *model.LLMRequest, model string) *openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model: req.Model,
	}
	if req.Model == "" {
		params.Model = model
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if req.Config != nil && req.Config.SystemInstruction != nil {
		if instruction := contentText(req.Config.SystemInstruction); instruction != "" {
			messages = append(messages, openai.SystemMessage(instruction))
		}
	}
	messages = append(messages, convertContentsToMessages(req.Contents)...)
	if len(messages) > 0 {
		params.Messages = messages
	}

	if req.Config != nil {
		if req.Config.Temperature != nil {
			params.Temperature = openai.Float(float64(*req.Config.Temperature))
		}
		if req.Config.MaxOutputTokens > 0 {
			params.MaxTokens = openai.Int(int64(req.Config.MaxOutputTokens))
		}
		if req.Config.TopP != nil {
			params.TopP = openai.Float(float64(*req.Config.TopP))
		}

		if len(req.Config.Tools) > 0 {
			if tools := convertToolsToOpenAI(req.Config.Tools); len(tools) > 0 {
				params.Tools = tools
			}
		}

		if schema := responseSchema(req.Config); schema != nil {
			params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
					JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
						Name:   "structured_output",
						Schema: schema,
					},
				},
			}
		} else if req.Config.ResponseMIMEType == "application/json" {
			params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
			}
		}
	}

	return &params
}

// responseSchema resolves the structured output schema requested by an agent.
func responseSchema(cfg *genai.GenerateContentConfig) *jsonschema.Schema {
	if cfg.ResponseJsonSchema != nil {
		if schema, ok := cfg.ResponseJsonSchema.(*jsonschema.Schema); ok {
			return schema
		}
	}
	if cfg.ResponseSchema != nil {
		return genaiSchemaToJSONSchema(cfg.ResponseSchema)
	}
	return nil
}

// genaiSchemaToJSONSchema converts the Gemini schema dialect into JSON Schema.
func genaiSchemaToJSONSchema(schema *genai.Schema) *jsonschema.Schema {
	if schema == nil {
		return nil
	}
	out := &jsonschema.Schema{
		Type:        strings.ToLower(string(schema.Type)),
		Description: schema.Description,
		Required:    schema.Required,
	}
	if schema.Nullable != nil && *schema.Nullable && out.Type != "" {
		out.Types = []string{out.Type, "null"}
		out.Type = ""
	}
	for _, value := range schema.Enum {
		out.Enum = append(out.Enum, value)
	}
	if schema.Items != nil {
		out.Items = genaiSchemaToJSONSchema(schema.Items)
	}
	if len(schema.Properties) > 0 {
		out.Properties = make(map[string]*jsonschema.Schema, len(schema.Properties))
		for name, prop := range schema.Properties {
			out.Properties[name] = genaiSchemaToJSONSchema(prop)
		}
	}
	return out
}

func contentText(content *genai.Content) string {
	var sb strings.Builder
	for _, part := range content.Parts {
		if part == nil || part.Text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(part.Text)
	}
	return strings.TrimSpace(sb.String())
}

// convertToolsToOpenAI maps function declarations onto chat completion function tools.
func convertToolsToOpenAI(tools []*genai.Tool) []openai.ChatCompletionToolUnionParam {
	var out []openai.ChatCompletionToolUnionParam
	for _, t := range tools {
		if t == nil {
			continue
		}
		for _, fn := range t.FunctionDeclarations {
			if fn == nil || fn.Name == "" {
				continue
			}
			def := openai.FunctionDefinitionParam{
				Name:       fn.Name,
				Parameters: convertFunctionParameters(fn),
			}
			if fn.Description != "" {
				def.Description = openai.String(fn.Description)
			}
			out = append(out, openai.ChatCompletionToolUnionParam{
				OfFunction: &openai.ChatCompletionFunctionToolParam{Function: def},
			})
		}
	}
	return out
}

// convertFunctionParameters returns the declaration's parameters as a JSON Schema object.
// ParametersJsonSchema wins over the Gemini Parameters dialect.
func convertFunctionParameters(fn *genai.FunctionDeclaration) openai.FunctionParameters {
	var schema any
	switch {
	case fn.ParametersJsonSchema != nil:
		schema = fn.ParametersJsonSchema
	case fn.Parameters != nil:
		schema = genaiSchemaToJSONSchema(fn.Parameters)
	default:
		return openai.FunctionParameters{"type": "object", "properties": map[string]any{}}
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		slog.Error("failed to marshal function parameters", "function", fn.Name, "error", err.Error())
		return nil
	}
	var params openai.FunctionParameters
	if err := json.Unmarshal(raw, &params); err != nil {
		slog.Error("failed to decode function parameters", "function", fn.Name, "error", err.Error())
		return nil
	}
	if _, ok := params["type"]; !ok {
		params["type"] = "object"
	}
	return params
}

// convertContentsToMessages maps conversation contents onto chat messages. A model turn that
// called functions becomes an assistant message with tool calls; the answering turn becomes
// one tool message per response.
func convertContentsToMessages(contents []*genai.Content) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion
	for _, content := range contents {
		if content == nil {
			continue
		}
		if responses := functionResponses(content); len(responses) > 0 {
			messages = append(messages, responses...)
			continue
		}

		text := contentText(content)
		switch content.Role {
		case genai.RoleModel:
			if calls := toolCalls(content); len(calls) > 0 {
				assistant := &openai.ChatCompletionAssistantMessageParam{ToolCalls: calls}
				if text != "" {
					assistant.Content.OfString = openai.String(text)
				}
				messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})
				continue
			}
			messages = append(messages, openai.AssistantMessage(text))
		case "system":
			messages = append(messages, openai.SystemMessage(text))
		default:
			messages = append(messages, openai.UserMessage(text))
		}
	}
	return messages
}

func functionResponses(content *genai.Content) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	for _, part := range content.Parts {
		if part == nil || part.FunctionResponse == nil || part.FunctionResponse.ID == "" {
			continue
		}
		payload, err := json.Marshal(part.FunctionResponse.Response)
		if err != nil {
			slog.Error("failed to marshal function response", "function", part.FunctionResponse.Name, "error", err.Error())
			payload = []byte(`{"error":"unserializable tool result"}`)
		}
		out = append(out, openai.ToolMessage(string(payload), part.FunctionResponse.ID))
	}
	return out
}

func toolCalls(content *genai.Content) []openai.ChatCompletionMessageToolCallUnionParam {
	var out []openai.ChatCompletionMessageToolCallUnionParam
	for _, part := range content.Parts {
		if part == nil || part.FunctionCall == nil || part.FunctionCall.ID == "" {
			continue
		}
		args, err := json.Marshal(part.FunctionCall.Args)
		if err != nil || part.FunctionCall.Args == nil {
			args = []byte("{}")
		}
		out = append(out, openai.ChatCompletionMessageToolCallUnionParam{
			OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
				ID: part.FunctionCall.ID,
				Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
					Name:      part.FunctionCall.Name,
					Arguments: string(args),
				},
			},
		})
	}
	return out
}
