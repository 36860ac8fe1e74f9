package quality

import (
	"errors"
	"strings"
	"testing"

	"github.com/timmy/alttext/internal/config"
	"github.com/timmy/alttext/internal/domain"
)

func newDefaultScorer(t *testing.T) *Scorer {
	t.Helper()
	s, err := NewScorer(DefaultRules(), DefaultWeights())
	if err != nil {
		t.Fatalf("NewScorer() error: %v", err)
	}
	return s
}

func goodMetadata(score float64) domain.Metadata {
	return domain.Metadata{
		Alt:      "Hiker crossing a crevassed glacier beneath a clear blue sky",
		Caption:  "Day two on the Haute Route.",
		Title:    "Glacier crossing",
		Keywords: []string{"glacier", "hiking", "alps"},
		Score:    score,
	}
}

func TestNewScorer_Weights(t *testing.T) {
	tests := []struct {
		name    string
		weights Weights
		wantErr bool
	}{
		{name: "defaults", weights: DefaultWeights()},
		{name: "within tolerance", weights: Weights{Alt: 0.405, Title: 0.2, Caption: 0.2, Keywords: 0.2}},
		{name: "sum too high", weights: Weights{Alt: 0.5, Title: 0.3, Caption: 0.2, Keywords: 0.2}, wantErr: true},
		{name: "sum too low", weights: Weights{Alt: 0.4, Title: 0.2, Caption: 0.2}, wantErr: true},
		{name: "negative weight", weights: Weights{Alt: 1.2, Title: -0.2}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewScorer(DefaultRules(), tt.weights)
			if tt.wantErr && !errors.Is(err, ErrInvalidWeights) {
				t.Errorf("expected ErrInvalidWeights, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestEvaluate_AutoApprove(t *testing.T) {
	s := newDefaultScorer(t)

	tests := []struct {
		name      string
		metadata  domain.Metadata
		wantPass  bool
		wantScore float64
	}{
		{name: "good metadata above threshold", metadata: goodMetadata(0.92), wantPass: true, wantScore: 1},
		{name: "vendor score below threshold", metadata: goodMetadata(0.60), wantPass: false, wantScore: 1},
		{name: "threshold is inclusive", metadata: goodMetadata(0.80), wantPass: true, wantScore: 1},
		{
			name: "forbidden phrase fails regardless of score",
			metadata: func() domain.Metadata {
				m := goodMetadata(0.99)
				m.Alt = "Image of a hiker on a glacier"
				return m
			}(),
			wantPass:  false,
			wantScore: 0.8,
		},
		{
			name: "alt over max length",
			metadata: func() domain.Metadata {
				m := goodMetadata(0.99)
				m.Alt = strings.Repeat("a", 250)
				return m
			}(),
			wantPass:  false,
			wantScore: 0.8,
		},
		{
			name:      "missing optional fields lower the composite only",
			metadata:  domain.Metadata{Alt: "Hiker crossing a glacier", Score: 0.9},
			wantPass:  true,
			wantScore: 0.4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Evaluate(tt.metadata)
			if got.PassesAutoApprove != tt.wantPass {
				t.Errorf("PassesAutoApprove = %v, want %v (violations %+v)", got.PassesAutoApprove, tt.wantPass, got.Violations)
			}
			if got.Score != tt.wantScore {
				t.Errorf("Score = %v, want %v", got.Score, tt.wantScore)
			}
			if got.VendorScore != tt.metadata.Score {
				t.Errorf("VendorScore = %v, want %v", got.VendorScore, tt.metadata.Score)
			}
		})
	}
}

func TestEvaluate_SoftViolations(t *testing.T) {
	s := newDefaultScorer(t)
	m := goodMetadata(0.9)
	m.Keywords = []string{"glacier"}
	m.Title = strings.Repeat("t", 140)

	got := s.Evaluate(m)
	if !got.PassesAutoApprove {
		t.Error("soft violations must not block auto-approval")
	}
	if len(got.Violations) != 2 {
		t.Errorf("expected 2 violations, got %+v", got.Violations)
	}
	if got.FieldScores["title"] != 0.5 {
		t.Errorf("title score = %v, want 0.5", got.FieldScores["title"])
	}
}

func TestFromConfig(t *testing.T) {
	rules, weights := FromConfig(config.QualityConfig{
		AltMaxLength:         100,
		ForbiddenPhrases:     []string{"  Picture Of "},
		AutoApproveThreshold: 0.7,
		Weights:              config.WeightsConfig{Alt: 1},
	})
	s, err := NewScorer(rules, weights)
	if err != nil {
		t.Fatalf("NewScorer() error: %v", err)
	}
	if got := s.Evaluate(domain.Metadata{Alt: "A picture of a dog", Score: 0.9}); got.PassesAutoApprove {
		t.Error("configured forbidden phrase should match case-insensitively")
	}
}
