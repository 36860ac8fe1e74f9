package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/timmy/alttext/internal/domain"
)

// metadataSchema is the reply contract shared by every vendor. keywords may
// arrive as an array or as one comma-separated string.
const metadataSchema = `{
  "type": "object",
  "required": ["alt"],
  "properties": {
    "alt":      {"type": "string", "minLength": 1},
    "caption":  {"type": ["string", "null"]},
    "title":    {"type": ["string", "null"]},
    "keywords": {
      "oneOf": [
        {"type": "array", "items": {"type": "string"}},
        {"type": "string"},
        {"type": "null"}
      ]
    },
    "score":    {"type": ["number", "null"]}
  }
}`

var compiledSchema = jsonschema.MustCompileString("metadata.json", metadataSchema)

var errNoJSON = errors.New("no JSON object in reply")

// ExtractJSON returns the first balanced JSON object in text, looking inside
// markdown code fences first.
func ExtractJSON(text string) (string, error) {
	text = strings.TrimSpace(text)
	if fenced, ok := fencedBlock(text); ok {
		if obj, err := firstObject(fenced); err == nil {
			return obj, nil
		}
	}
	return firstObject(text)
}

// fencedBlock returns the body of the first ``` fence, skipping a language tag.
func fencedBlock(text string) (string, bool) {
	start := strings.Index(text, "```")
	if start < 0 {
		return "", false
	}
	rest := text[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 && !strings.Contains(rest[:nl], "{") {
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return rest, true
	}
	return rest[:end], true
}

// firstObject scans for a balanced {...}, honoring string literals and escapes.
func firstObject(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", errNoJSON
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("%w: unbalanced braces", errNoJSON)
}

type rawMetadata struct {
	Alt      string          `json:"alt"`
	Caption  *string         `json:"caption"`
	Title    *string         `json:"title"`
	Keywords json.RawMessage `json:"keywords"`
	Score    *float64        `json:"score"`
}

// ParseMetadata extracts, validates and normalizes a vendor reply.
// A missing score becomes domain.DefaultVendorScore; scores are clamped to [0,1].
func ParseMetadata(text string) (domain.Metadata, error) {
	obj, err := ExtractJSON(text)
	if err != nil {
		return domain.Metadata{}, err
	}

	var doc interface{}
	if err := json.Unmarshal([]byte(obj), &doc); err != nil {
		return domain.Metadata{}, fmt.Errorf("malformed JSON: %w", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return domain.Metadata{}, fmt.Errorf("reply does not match schema: %w", err)
	}

	var raw rawMetadata
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return domain.Metadata{}, fmt.Errorf("malformed JSON: %w", err)
	}

	m := domain.Metadata{
		Alt:      strings.TrimSpace(raw.Alt),
		Keywords: parseKeywords(raw.Keywords),
		Score:    domain.DefaultVendorScore,
	}
	if m.Alt == "" {
		return domain.Metadata{}, errors.New("alt is empty")
	}
	if raw.Caption != nil {
		m.Caption = strings.TrimSpace(*raw.Caption)
	}
	if raw.Title != nil {
		m.Title = strings.TrimSpace(*raw.Title)
	}
	if raw.Score != nil {
		m.Score = clamp01(*raw.Score)
	}
	return m, nil
}

func parseKeywords(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		var joined string
		if json.Unmarshal(raw, &joined) != nil {
			return nil
		}
		list = strings.Split(joined, ",")
	}

	out := make([]string, 0, len(list))
	seen := make(map[string]bool, len(list))
	for _, k := range list {
		k = strings.TrimSpace(k)
		if k == "" || seen[strings.ToLower(k)] {
			continue
		}
		seen[strings.ToLower(k)] = true
		out = append(out, k)
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
