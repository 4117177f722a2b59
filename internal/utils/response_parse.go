package utils

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseJSONObject decodes the outermost JSON object in raw into target. Models often wrap
// structured output in code fences or prose.
func ParseJSONObject(raw string, target any) error {
	clean := strings.TrimSpace(raw)
	start := strings.Index(clean, "{")
	end := strings.LastIndex(clean, "}")
	if start >= 0 && end > start {
		clean = clean[start : end+1]
	}
	if err := json.Unmarshal([]byte(clean), target); err != nil {
		return fmt.Errorf("failed to parse json output: %w", err)
	}
	return nil
}
