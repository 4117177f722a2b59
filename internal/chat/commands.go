package chat

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"text/template"

	"github.com/easeaico/persona-core/internal/emotion"
	"github.com/easeaico/persona-core/internal/types"
)

const (
	commandImage = "/image"
	commandMood  = "/mood"

	tplImageUsage   = "image_usage"
	tplImageError   = "image_error"
	tplImageStarted = "image_started"
	tplMood         = "mood"
)

var replyTemplates = template.Must(template.New("replies").Parse(`
{{define "image_usage"}}{{.Name}} tilts their head: "What should I draw? Try /image a cat napping in the sun."{{end}}
{{define "image_error"}}{{.Name}} sighs: "My brush snapped. Let's try that picture again later."{{end}}
{{define "image_started"}}{{.Name}} picks up a brush: "On it!" (job {{.Job.ID}}, {{.Job.Status}}){{end}}
{{define "mood"}}{{.Name}}: {{.State}}{{end}}
`))

// parseCommand splits "/name args". ok is false for plain messages.
func parseCommand(text string) (name, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	name, args, _ = strings.Cut(text, " ")
	switch name {
	case commandImage, commandMood:
		return name, strings.TrimSpace(args), true
	default:
		return "", "", false
	}
}

// runCommand answers a chat command without calling the language model.
func (s *Service) runCommand(ctx context.Context, name, args string, persona types.PersonaDefinition, state emotion.State) TurnResult {
	switch name {
	case commandMood:
		return TurnResult{Reply: renderReply(tplMood, persona, map[string]any{"State": emotion.Describe(state)})}
	case commandImage:
		return s.imageCommand(ctx, args, persona)
	default:
		return TurnResult{Reply: FallbackReply}
	}
}

func (s *Service) imageCommand(ctx context.Context, args string, persona types.PersonaDefinition) TurnResult {
	if args == "" {
		return TurnResult{Reply: renderReply(tplImageUsage, persona, nil)}
	}
	if s.creator == nil {
		return TurnResult{Reply: renderReply(tplImageError, persona, nil)}
	}

	job, err := s.creator.Submit(ctx, types.Image{}, imagePrompt(args, persona))
	if err != nil {
		slog.Error("failed to submit image job", "persona_id", persona.ID, "error", err.Error())
		return TurnResult{Reply: renderReply(tplImageError, persona, nil)}
	}
	return TurnResult{
		Reply: renderReply(tplImageStarted, persona, map[string]any{"Job": job}),
		Job:   &job,
	}
}

// imagePrompt fills persona placeholders, e.g. "/image {{char}} at the beach".
// User text is never parsed as a template.
func imagePrompt(raw string, persona types.PersonaDefinition) string {
	return strings.NewReplacer(
		"{{char}}", persona.Name,
		"{{type}}", string(persona.Type),
		"{{traits}}", strings.Join(persona.Personality.Traits, ", "),
	).Replace(raw)
}

func renderReply(name string, persona types.PersonaDefinition, data map[string]any) string {
	if data == nil {
		data = map[string]any{}
	}
	data["Name"] = persona.Name

	var buf bytes.Buffer
	if err := replyTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		slog.Error("failed to execute template", "template", name, "error", err.Error())
		return FallbackReply
	}
	return strings.TrimSpace(buf.String())
}
