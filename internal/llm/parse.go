package llm

import (
	"encoding/json"
	"strings"

	"github.com/spherical/sweetspot/internal/domain"
)

// ExtractJSON returns the JSON object embedded in a model reply, tolerating
// markdown fences and prose around it.
func ExtractJSON(content string) string {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
		s = strings.TrimSpace(s)
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return ""
	}
	return s[start : end+1]
}

// ParseTextProducts decodes a text-mode reply into candidates. The products
// list may be keyed with any casing of "products".
func ParseTextProducts(content string) ([]domain.Candidate, error) {
	raw := ExtractJSON(content)
	if raw == "" {
		return nil, domain.ExtractionError("response contained no JSON object", nil)
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return nil, domain.ExtractionError("failed to parse response JSON", err)
	}

	for key, val := range envelope {
		if !strings.EqualFold(key, "products") {
			continue
		}
		var products []domain.Candidate
		if err := json.Unmarshal(val, &products); err != nil {
			return nil, domain.ExtractionError("products is not a list of objects", err)
		}
		return products, nil
	}
	return nil, domain.ExtractionError("response has no products list", nil)
}

// ParseVisionProducts decodes a vision-mode reply.
func ParseVisionProducts(content string) ([]domain.VisionCandidate, error) {
	raw := ExtractJSON(content)
	if raw == "" {
		return nil, domain.ExtractionError("response contained no JSON object", nil)
	}

	var envelope struct {
		Products []domain.VisionCandidate `json:"products"`
	}
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return nil, domain.ExtractionError("failed to parse response JSON", err)
	}
	return envelope.Products, nil
}
