// Package tokens estimates input token counts for vision requests when a
// vendor reply carries no usage data.
package tokens

import (
	"math"
	"unicode/utf8"

	"github.com/timmy/alttext/internal/config"
	"github.com/timmy/alttext/internal/domain"
)

// Params are the vendor image-accounting constants. Vendors revise these, so
// they are loaded from configuration rather than fixed in code.
type Params struct {
	OpenAIMaxDimension    int
	OpenAIShortSide       int
	OpenAITileSize        int
	OpenAIBaseTokens      int
	OpenAITileTokens      int
	AnthropicMaxDimension int
	AnthropicPixelDivisor int
	AnthropicMaxTokens    int
	GoogleTileSize        int
	GoogleTileTokens      int
	CharsPerToken         int
}

// DefaultParams returns the published vendor constants.
func DefaultParams() Params {
	return Params{
		OpenAIMaxDimension:    2048,
		OpenAIShortSide:       768,
		OpenAITileSize:        512,
		OpenAIBaseTokens:      85,
		OpenAITileTokens:      170,
		AnthropicMaxDimension: 1568,
		AnthropicPixelDivisor: 750,
		AnthropicMaxTokens:    1600,
		GoogleTileSize:        768,
		GoogleTileTokens:      258,
		CharsPerToken:         4,
	}
}

// ParamsFromConfig overlays configured values on the defaults; zero keeps the default.
func ParamsFromConfig(cfg config.TokensConfig) Params {
	p := DefaultParams()
	set := func(dst *int, v int) {
		if v > 0 {
			*dst = v
		}
	}
	set(&p.OpenAIMaxDimension, cfg.OpenAIMaxDimension)
	set(&p.OpenAIShortSide, cfg.OpenAIShortSide)
	set(&p.OpenAITileSize, cfg.OpenAITileSize)
	set(&p.OpenAIBaseTokens, cfg.OpenAIBaseTokens)
	set(&p.OpenAITileTokens, cfg.OpenAITileTokens)
	set(&p.AnthropicMaxDimension, cfg.AnthropicMaxDimension)
	set(&p.AnthropicPixelDivisor, cfg.AnthropicPixelDivisor)
	set(&p.AnthropicMaxTokens, cfg.AnthropicMaxTokens)
	set(&p.GoogleTileSize, cfg.GoogleTileSize)
	set(&p.GoogleTileTokens, cfg.GoogleTileTokens)
	set(&p.CharsPerToken, cfg.CharsPerToken)
	return p
}

// Estimator is stateless and safe for concurrent use.
type Estimator struct {
	p Params
}

// NewEstimator creates an estimator with the given constants.
func NewEstimator(p Params) *Estimator {
	return &Estimator{p: p}
}

// EstimateInputTokens returns image tokens plus prompt text tokens.
func (e *Estimator) EstimateInputTokens(width, height int, provider domain.ProviderName, prompt string) int {
	return e.ImageTokens(width, height, provider) + e.TextTokens(prompt)
}

// TextTokens is ceil(characters / CharsPerToken), counting runes.
func (e *Estimator) TextTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return ceilDiv(n, e.p.CharsPerToken)
}

// ImageTokens applies the provider's tiling rule. Non-positive dimensions count as no image.
func (e *Estimator) ImageTokens(width, height int, provider domain.ProviderName) int {
	if width <= 0 || height <= 0 {
		return 0
	}
	switch provider {
	case domain.ProviderOpenAI:
		return e.openAI(width, height)
	case domain.ProviderAnthropic:
		return e.anthropic(width, height)
	case domain.ProviderGoogle:
		return e.google(width, height)
	}
	return 0
}

// openAI: fit within MaxDimension square, shrink the short side to ShortSide,
// then count TileSize tiles.
func (e *Estimator) openAI(width, height int) int {
	w, h := float64(width), float64(height)

	maxDim := float64(e.p.OpenAIMaxDimension)
	if longest := math.Max(w, h); longest > maxDim {
		scale := maxDim / longest
		w, h = w*scale, h*scale
	}

	short := float64(e.p.OpenAIShortSide)
	if shortest := math.Min(w, h); shortest > short {
		scale := short / shortest
		w, h = w*scale, h*scale
	}

	tile := float64(e.p.OpenAITileSize)
	tiles := int(math.Ceil(math.Floor(w)/tile) * math.Ceil(math.Floor(h)/tile))
	return e.p.OpenAIBaseTokens + e.p.OpenAITileTokens*tiles
}

// anthropic: shrink the long side to MaxDimension, then pixels / PixelDivisor, capped.
func (e *Estimator) anthropic(width, height int) int {
	w, h := float64(width), float64(height)

	maxDim := float64(e.p.AnthropicMaxDimension)
	if longest := math.Max(w, h); longest > maxDim {
		scale := maxDim / longest
		w, h = math.Floor(w*scale), math.Floor(h*scale)
	}

	tokens := int(math.Floor(w * h / float64(e.p.AnthropicPixelDivisor)))
	if tokens > e.p.AnthropicMaxTokens {
		tokens = e.p.AnthropicMaxTokens
	}
	return tokens
}

// google: TileSize tiles over the original dimensions.
func (e *Estimator) google(width, height int) int {
	tiles := ceilDiv(width, e.p.GoogleTileSize) * ceilDiv(height, e.p.GoogleTileSize)
	return tiles * e.p.GoogleTileTokens
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
