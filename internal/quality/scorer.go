// Package quality scores generated metadata and decides whether it can be
// applied without human review.
package quality

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/timmy/alttext/internal/config"
	"github.com/timmy/alttext/internal/domain"
)

// weightTolerance is how far the weight sum may drift from 1.0.
const weightTolerance = 0.01

// ErrInvalidWeights is returned when the field weights do not sum to 1.
var ErrInvalidWeights = errors.New("quality weights must sum to 1.0")

// Rules are the per-field limits and the hard rules.
type Rules struct {
	AltMaxLength         int
	AltMinLength         int
	TitleMaxLength       int
	CaptionMaxLength     int
	MinKeywords          int
	ForbiddenPhrases     []string
	AutoApproveThreshold float64
}

// Weights are the composite score weights per field.
type Weights struct {
	Alt      float64
	Title    float64
	Caption  float64
	Keywords float64
}

// Sum returns the total weight.
func (w Weights) Sum() float64 {
	return w.Alt + w.Title + w.Caption + w.Keywords
}

// DefaultRules returns the stock rule set.
func DefaultRules() Rules {
	return Rules{
		AltMaxLength:         125,
		AltMinLength:         10,
		TitleMaxLength:       70,
		CaptionMaxLength:     250,
		MinKeywords:          3,
		ForbiddenPhrases:     []string{"image of", "picture of", "photo of", "screenshot of"},
		AutoApproveThreshold: 0.80,
	}
}

// DefaultWeights favors the ALT text.
func DefaultWeights() Weights {
	return Weights{Alt: 0.4, Title: 0.2, Caption: 0.2, Keywords: 0.2}
}

// FromConfig converts the quality section of the configuration.
func FromConfig(cfg config.QualityConfig) (Rules, Weights) {
	rules := Rules{
		AltMaxLength:         cfg.AltMaxLength,
		AltMinLength:         cfg.AltMinLength,
		TitleMaxLength:       cfg.TitleMaxLength,
		CaptionMaxLength:     cfg.CaptionMaxLength,
		MinKeywords:          cfg.MinKeywords,
		ForbiddenPhrases:     append([]string(nil), cfg.ForbiddenPhrases...),
		AutoApproveThreshold: cfg.AutoApproveThreshold,
	}
	weights := Weights{
		Alt:      cfg.Weights.Alt,
		Title:    cfg.Weights.Title,
		Caption:  cfg.Weights.Caption,
		Keywords: cfg.Weights.Keywords,
	}
	return rules, weights
}

// Violation is one broken rule. Hard violations block auto-approval.
type Violation struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
	Hard    bool   `json:"hard"`
}

// Evaluation is the outcome of scoring one metadata set.
type Evaluation struct {
	Score             float64            `json:"score"`
	VendorScore       float64            `json:"vendor_score"`
	FieldScores       map[string]float64 `json:"field_scores"`
	Violations        []Violation        `json:"violations,omitempty"`
	PassesAutoApprove bool               `json:"passes_auto_approve"`
}

// HasHardViolation reports whether any hard rule was broken.
func (e Evaluation) HasHardViolation() bool {
	for _, v := range e.Violations {
		if v.Hard {
			return true
		}
	}
	return false
}

// Scorer evaluates metadata against fixed rules and weights. It is safe for
// concurrent use.
type Scorer struct {
	rules     Rules
	weights   Weights
	forbidden []string
}

// NewScorer validates the weights and builds a scorer.
// Parameters:
//   - rules: field limits and hard rules.
//   - weights: composite weights, which must sum to 1.0 within 0.01.
// Returns:
//   - *Scorer: ready scorer.
//   - error: ErrInvalidWeights when the weights are rejected.
func NewScorer(rules Rules, weights Weights) (*Scorer, error) {
	for _, w := range []float64{weights.Alt, weights.Title, weights.Caption, weights.Keywords} {
		if w < 0 {
			return nil, fmt.Errorf("%w: negative weight %.2f", ErrInvalidWeights, w)
		}
	}
	if sum := weights.Sum(); math.Abs(sum-1) > weightTolerance {
		return nil, fmt.Errorf("%w: got %.3f", ErrInvalidWeights, sum)
	}

	forbidden := make([]string, 0, len(rules.ForbiddenPhrases))
	for _, p := range rules.ForbiddenPhrases {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			forbidden = append(forbidden, p)
		}
	}
	return &Scorer{rules: rules, weights: weights, forbidden: forbidden}, nil
}

// Rules returns the scorer's rule set.
func (s *Scorer) Rules() Rules { return s.rules }

// Evaluate scores m. The auto-approve decision uses the vendor's own score
// against the threshold; the composite score is informational.
func (s *Scorer) Evaluate(m domain.Metadata) Evaluation {
	eval := Evaluation{
		VendorScore: m.Score,
		FieldScores: make(map[string]float64, 4),
	}

	alt := strings.TrimSpace(m.Alt)
	altScore, altViolations := s.scoreAlt(alt)
	eval.Violations = append(eval.Violations, altViolations...)

	titleScore, v := scoreText("title", strings.TrimSpace(m.Title), s.rules.TitleMaxLength)
	eval.Violations = append(eval.Violations, v...)
	captionScore, v := scoreText("caption", strings.TrimSpace(m.Caption), s.rules.CaptionMaxLength)
	eval.Violations = append(eval.Violations, v...)
	keywordScore, v := s.scoreKeywords(m.Keywords)
	eval.Violations = append(eval.Violations, v...)

	eval.FieldScores["alt"] = altScore
	eval.FieldScores["title"] = titleScore
	eval.FieldScores["caption"] = captionScore
	eval.FieldScores["keywords"] = keywordScore

	eval.Score = round4(s.weights.Alt*altScore +
		s.weights.Title*titleScore +
		s.weights.Caption*captionScore +
		s.weights.Keywords*keywordScore)

	eval.PassesAutoApprove = !eval.HasHardViolation() && m.Score >= s.rules.AutoApproveThreshold
	return eval
}

func (s *Scorer) scoreAlt(alt string) (float64, []Violation) {
	if alt == "" {
		return 0, []Violation{{Field: "alt", Rule: "required", Message: "alt text is empty", Hard: true}}
	}

	var violations []Violation
	score := 1.0
	n := utf8.RuneCountInString(alt)

	if s.rules.AltMaxLength > 0 && n > s.rules.AltMaxLength {
		violations = append(violations, Violation{
			Field: "alt", Rule: "max_length", Hard: true,
			Message: fmt.Sprintf("alt text is %d characters, max %d", n, s.rules.AltMaxLength),
		})
		score = float64(s.rules.AltMaxLength) / float64(n)
	}
	if s.rules.AltMinLength > 0 && n < s.rules.AltMinLength {
		violations = append(violations, Violation{
			Field: "alt", Rule: "min_length",
			Message: fmt.Sprintf("alt text is %d characters, min %d", n, s.rules.AltMinLength),
		})
		score = float64(n) / float64(s.rules.AltMinLength)
	}

	lower := strings.ToLower(alt)
	for _, phrase := range s.forbidden {
		if strings.Contains(lower, phrase) {
			violations = append(violations, Violation{
				Field: "alt", Rule: "forbidden_phrase", Hard: true,
				Message: fmt.Sprintf("alt text contains %q", phrase),
			})
			score /= 2
		}
	}
	return score, violations
}

func scoreText(field, text string, maxLen int) (float64, []Violation) {
	if text == "" {
		return 0, nil
	}
	n := utf8.RuneCountInString(text)
	if maxLen > 0 && n > maxLen {
		return float64(maxLen) / float64(n), []Violation{{
			Field: field, Rule: "max_length",
			Message: fmt.Sprintf("%s is %d characters, max %d", field, n, maxLen),
		}}
	}
	return 1, nil
}

func (s *Scorer) scoreKeywords(keywords []string) (float64, []Violation) {
	n := 0
	for _, k := range keywords {
		if strings.TrimSpace(k) != "" {
			n++
		}
	}
	if s.rules.MinKeywords <= 0 {
		if n > 0 {
			return 1, nil
		}
		return 0, nil
	}
	if n >= s.rules.MinKeywords {
		return 1, nil
	}
	return float64(n) / float64(s.rules.MinKeywords), []Violation{{
		Field: "keywords", Rule: "min_count",
		Message: fmt.Sprintf("%d keywords, want at least %d", n, s.rules.MinKeywords),
	}}
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
