package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/easeaico/persona-core/internal/apperr"
	"github.com/easeaico/persona-core/internal/types"
)

var reportSections = []struct {
	Type  types.MemoryType
	Title string
}{
	{types.MemoryFact, "Key facts"},
	{types.MemoryEvent, "Events and plans"},
	{types.MemoryPreference, "Preferences"},
	{types.MemoryEmotion, "Emotional moments"},
	{types.MemorySummary, "Earlier conversations"},
	{types.MemoryOther, "Other notes"},
}

type reportSection struct {
	Title string
	Items []string
}

type reportData struct {
	PersonaID string
	Count     int
	Sections  []reportSection
}

var reportTemplate = template.Must(template.New("report").Parse(
	`What {{.PersonaID}} knows about the user ({{.Count}} memories):
{{range .Sections}}
{{.Title}}:
{{range .Items}}- {{.}}
{{end}}{{end}}`))

// GenerateSummary renders a read-only narrative of the relationship from the most important
// and most recent memories. It never mutates the store.
func (m *Manager) GenerateSummary(ctx context.Context) (string, error) {
	limit := m.settings.SummaryLimit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	important, err := m.store.MostImportant(ctx, m.scope.UserID, m.scope.PersonaID, limit)
	if err != nil {
		return "", apperr.NewStorageError("most important", err)
	}
	recent, err := m.GetRecentMemories(ctx, limit)
	if err != nil {
		return "", fmt.Errorf("failed to load recent memories: %w", err)
	}

	seen := make(map[string]bool)
	var records []types.MemoryRecord
	for _, record := range append(important, recent...) {
		if seen[record.ID] {
			continue
		}
		seen[record.ID] = true
		records = append(records, record)
	}
	if len(records) == 0 {
		return fmt.Sprintf("%s has no memories of the user yet.", m.scope.PersonaID), nil
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Importance != records[j].Importance {
			return records[i].Importance > records[j].Importance
		}
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})

	byType := make(map[types.MemoryType][]string)
	for _, record := range records {
		byType[record.Type] = append(byType[record.Type], strings.TrimSpace(record.Content))
	}
	data := reportData{PersonaID: m.scope.PersonaID, Count: len(records)}
	for _, section := range reportSections {
		if items := byType[section.Type]; len(items) > 0 {
			data.Sections = append(data.Sections, reportSection{Title: section.Title, Items: items})
		}
	}

	var sb strings.Builder
	if err := reportTemplate.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to render summary: %w", err)
	}
	return strings.TrimSpace(sb.String()), nil
}
