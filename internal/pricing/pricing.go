// Package pricing estimates production costs and enforces the daily budget.
//
// Cost estimation is a pure function of configured unit prices; it performs
// no I/O and never mutates state. All amounts are EUR.
package pricing

import (
	"fmt"

	"github.com/shortfab/shortfab/internal/domain"
)

// Provider unit prices, USD. Token prices are per 1M tokens, image prices
// per image, speech per 1000 characters.
type tokenPrice struct {
	Input  float64
	Output float64
}

var (
	textModels = map[string]tokenPrice{
		"gpt-4o":      {Input: 5.00, Output: 15.00},
		"gpt-4-turbo": {Input: 10.00, Output: 30.00},
	}

	imageModels = map[string]map[string]float64{
		"dall-e-3": {
			"standard":   0.04,
			"hd":         0.08,
			"quality_hd": 0.12,
		},
	}

	speechModels = map[string]float64{
		"tts-1": 0.015, // per 1000 characters
	}
)

const usdToEur = 0.93

// Default usage estimates for one video.
const (
	defaultInputTokens  = 500
	defaultOutputTokens = 1500
	defaultSpeechChars  = 100
)

// ErrUnknownModel is returned when an estimate references a model that has
// no configured price. The scheduler treats this as fatal for the slot only.
type ErrUnknownModel struct {
	Model string
}

func (e ErrUnknownModel) Error() string {
	return fmt.Sprintf("pricing: unknown model %q", e.Model)
}

// Calculator estimates per-video costs from configured model choices.
type Calculator struct {
	textModel    string
	imageModel   string
	imageQuality string
	speechModel  string
}

// NewCalculator returns a Calculator using the default model stack.
func NewCalculator() *Calculator {
	return &Calculator{
		textModel:    "gpt-4o",
		imageModel:   "dall-e-3",
		imageQuality: "standard",
		speechModel:  "tts-1",
	}
}

// WithModels overrides the model selection. Unknown names surface as
// ErrUnknownModel at estimate time, not here.
func (c *Calculator) WithModels(text, image, quality, speech string) *Calculator {
	c.textModel = text
	c.imageModel = image
	c.imageQuality = quality
	c.speechModel = speech
	return c
}

// EstimateScriptCost estimates the text-generation cost for one episode
// script, in EUR.
func (c *Calculator) EstimateScriptCost(inputTokens, outputTokens int) (float64, error) {
	price, ok := textModels[c.textModel]
	if !ok {
		return 0, ErrUnknownModel{Model: c.textModel}
	}
	usd := float64(inputTokens)/1_000_000*price.Input + float64(outputTokens)/1_000_000*price.Output
	return usd * usdToEur, nil
}

// EstimateImageCost estimates the cost of one generated still, in EUR.
func (c *Calculator) EstimateImageCost() (float64, error) {
	qualities, ok := imageModels[c.imageModel]
	if !ok {
		return 0, ErrUnknownModel{Model: c.imageModel}
	}
	usd, ok := qualities[c.imageQuality]
	if !ok {
		return 0, fmt.Errorf("pricing: unknown quality %q for model %q", c.imageQuality, c.imageModel)
	}
	return usd * usdToEur, nil
}

// EstimateSpeechCost estimates the voice-synthesis cost for a script of the
// given character length, in EUR.
func (c *Calculator) EstimateSpeechCost(chars int) (float64, error) {
	perThousand, ok := speechModels[c.speechModel]
	if !ok {
		return 0, ErrUnknownModel{Model: c.speechModel}
	}
	usd := float64(chars) / 1000 * perThousand
	return usd * usdToEur, nil
}

// EstimateVideoCost estimates the total cost of producing one video of the
// given format, in EUR. The format must be one of the configured formats;
// per-format usage currently uses the shared defaults.
func (c *Calculator) EstimateVideoCost(format domain.VideoFormat) (float64, error) {
	if !domain.ValidFormat(format) {
		return 0, fmt.Errorf("pricing: unknown format %q", format)
	}

	script, err := c.EstimateScriptCost(defaultInputTokens, defaultOutputTokens)
	if err != nil {
		return 0, err
	}
	image, err := c.EstimateImageCost()
	if err != nil {
		return 0, err
	}
	speech, err := c.EstimateSpeechCost(defaultSpeechChars)
	if err != nil {
		return 0, err
	}
	return script + image + speech, nil
}

// CheckCompliance decides whether one more video may be produced today.
// The item cap is checked before the budget; the first failing condition
// determines the reported reason. Pure: identical inputs give identical
// results.
func CheckCompliance(dailyCost, budget float64, videoCount, maxVideos int) (bool, string) {
	if videoCount >= maxVideos {
		return false, fmt.Sprintf("maximum daily videos reached (%d)", maxVideos)
	}
	if dailyCost >= budget {
		return false, fmt.Sprintf("daily budget exceeded (EUR %.2f)", budget)
	}
	return true, "budget compliant"
}
