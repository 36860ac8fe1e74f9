package prompts

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/timmy/alttext/internal/domain"
)

// Version is recorded on every job so results can be traced to the prompt text.
// Bump it whenever a template below changes.
const Version = "2026-03.1"

// Tier trades token cost against output quality.
type Tier string

const (
	TierMinimal  Tier = "minimal"
	TierStandard Tier = "standard"
	TierAdvanced Tier = "advanced"
)

// ParseTier validates a configured tier name.
func ParseTier(s string) (Tier, error) {
	switch t := Tier(strings.ToLower(strings.TrimSpace(s))); t {
	case TierMinimal, TierStandard, TierAdvanced:
		return t, nil
	case "":
		return TierStandard, nil
	}
	return "", fmt.Errorf("unknown prompt tier %q", s)
}

// ============================================================================
// System prompt
// ============================================================================

// SystemPrompt fixes the role and the reply contract for every tier.
const SystemPrompt = `You write accessible image metadata for websites.
Reply with a single JSON object and nothing else:
{"alt": string, "caption": string, "title": string, "keywords": [string], "score": number}
"alt" is required. "score" is your confidence between 0 and 1 that the metadata is accurate.`

// ============================================================================
// User prompt templates
// ============================================================================

const minimalTemplate = `Describe this image as ALT text (max {{.AltMaxLength}} characters), plus a short title, a one-sentence caption and 3-5 keywords.
{{- template "language" .}}`

const standardTemplate = `Write metadata for this image.
{{- if .SiteName}}
Site: {{.SiteName}}{{if .SiteDescription}} ({{.SiteDescription}}){{end}}
{{- end}}
{{- if .PostTitle}}
Used in the post: "{{.PostTitle}}"
{{- end}}
{{- if .Categories}}
Categories: {{join .Categories ", "}}
{{- end}}
{{- if .Tags}}
Tags: {{join .Tags ", "}}
{{- end}}

Rules:
- alt: what the image shows, max {{.AltMaxLength}} characters. Do not start with "image of", "picture of", "photo of" or "screenshot of".
- title: max 70 characters.
- caption: one sentence suited to the post.
- keywords: 3-8 lowercase search terms.
{{- template "language" .}}`

const advancedTemplate = `You are preparing metadata for an image published on a website. Accuracy and accessibility matter more than brevity.
{{- if .SiteName}}

Site: {{.SiteName}}
{{- if .SiteDescription}}
About the site: {{.SiteDescription}}
{{- end}}
{{- end}}
{{- if .PostTitle}}
Post title: "{{.PostTitle}}"
{{- end}}
{{- if .Categories}}
Categories: {{join .Categories ", "}}
{{- end}}
{{- if .Tags}}
Tags: {{join .Tags ", "}}
{{- end}}
{{- if .Exif}}
Camera data:
{{- range $k, $v := .Exif}}
  {{$k}}: {{$v}}
{{- end}}
{{- end}}

Think about who will hear the ALT text through a screen reader on this page, then:
- alt: describe the subject, action and setting that matter in this context, max {{.AltMaxLength}} characters. Transcribe short visible text. Never begin with "image of", "picture of", "photo of" or "screenshot of".
- title: a human-readable title, max 70 characters.
- caption: one or two sentences connecting the image to the post.
- keywords: 5-10 lowercase search terms, most specific first.
- score: lower it when the image is ambiguous or the context does not fit.
{{- template "language" .}}`

const languageTemplate = `{{define "language"}}
{{- if .LanguageName}}
Write every field in {{.LanguageName}}.
{{- end}}{{end}}`

var tiers = map[Tier]*template.Template{
	TierMinimal:  mustParse("minimal", minimalTemplate),
	TierStandard: mustParse("standard", standardTemplate),
	TierAdvanced: mustParse("advanced", advancedTemplate),
}

func mustParse(name, body string) *template.Template {
	t := template.New(name).Funcs(template.FuncMap{"join": strings.Join})
	template.Must(t.Parse(languageTemplate))
	return template.Must(t.Parse(body))
}

// languageNames covers the languages the pipeline is commonly asked for.
// Other codes are passed to the model verbatim.
var languageNames = map[string]string{
	"de": "German",
	"es": "Spanish",
	"fr": "French",
	"it": "Italian",
	"ja": "Japanese",
	"ko": "Korean",
	"nl": "Dutch",
	"pl": "Polish",
	"pt": "Portuguese",
	"ru": "Russian",
	"zh": "Chinese",
}

// LanguageName returns the instruction language for a code, or "" for English.
func LanguageName(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" || code == "en" || strings.HasPrefix(code, "en-") || strings.HasPrefix(code, "en_") {
		return ""
	}
	base := code
	if i := strings.IndexAny(code, "-_"); i > 0 {
		base = code[:i]
	}
	if name, ok := languageNames[base]; ok {
		return name
	}
	return code
}

// Input is everything the templates can reference.
type Input struct {
	domain.SubjectContext
	LanguageName string
	AltMaxLength int
}

// Build renders the user prompt for a tier.
func Build(tier Tier, language string, sc domain.SubjectContext, altMaxLength int) (string, error) {
	t, ok := tiers[tier]
	if !ok {
		return "", fmt.Errorf("unknown prompt tier %q", tier)
	}
	if altMaxLength <= 0 {
		altMaxLength = 125
	}

	var b strings.Builder
	if err := t.Execute(&b, Input{
		SubjectContext: sc,
		LanguageName:   LanguageName(language),
		AltMaxLength:   altMaxLength,
	}); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", tier, err)
	}
	return strings.TrimSpace(b.String()), nil
}
