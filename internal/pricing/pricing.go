// Package pricing computes the credit cost of a generation request. Costs are
// integers rounded up so the service never under-charges.
package pricing

import (
	"strings"

	"creditjobs/internal/domain"
)

const (
	// MaxImageQuantity caps images per request.
	MaxImageQuantity = 10
	// MaxVideoSeconds caps video length.
	MaxVideoSeconds = 60
	// MaxTrainingSteps caps fine-tuning steps.
	MaxTrainingSteps = 10000

	DefaultQuality = "standard"

	imageCreditsPerUnit    = 1
	videoCreditsPerSlice   = 4
	videoSliceSeconds      = 5
	defaultVideoSeconds    = 5
	trainingBaseCredits    = 10
	trainingStepsPerCredit = 100
	defaultTrainingSteps   = 500
)

// qualityPercent scales the base price; hd and ultra cost more.
var qualityPercent = map[string]int64{
	"standard": 100,
	"hd":       150,
	"ultra":    200,
}

// Cost returns the price in credits of a request. It is pure and always
// returns at least 1 for valid input.
func Cost(category domain.Category, params domain.Parameters) (int64, error) {
	quality := strings.ToLower(strings.TrimSpace(params.Quality))
	if quality == "" {
		quality = DefaultQuality
	}
	pct, ok := qualityPercent[quality]
	if !ok {
		return 0, domain.Invalid("quality", "must be one of standard, hd, ultra")
	}

	var base int64
	switch category {
	case domain.CategoryImage:
		qty := params.Quantity
		if qty == 0 {
			qty = 1
		}
		if qty < 1 || qty > MaxImageQuantity {
			return 0, domain.Invalid("quantity", "must be between 1 and %d", MaxImageQuantity)
		}
		base = int64(qty) * imageCreditsPerUnit
	case domain.CategoryVideo:
		secs := params.DurationSeconds
		if secs == 0 {
			secs = defaultVideoSeconds
		}
		if secs < 1 || secs > MaxVideoSeconds {
			return 0, domain.Invalid("duration_seconds", "must be between 1 and %d", MaxVideoSeconds)
		}
		base = ceilDiv(int64(secs), videoSliceSeconds) * videoCreditsPerSlice
	case domain.CategoryTraining:
		steps := params.Steps
		if steps == 0 {
			steps = defaultTrainingSteps
		}
		if steps < 1 || steps > MaxTrainingSteps {
			return 0, domain.Invalid("steps", "must be between 1 and %d", MaxTrainingSteps)
		}
		base = trainingBaseCredits + ceilDiv(int64(steps), trainingStepsPerCredit)
	default:
		return 0, domain.Invalid("category", "unsupported category %q", category)
	}

	cost := ceilDiv(base*pct, 100)
	if cost < 1 {
		cost = 1
	}
	return cost, nil
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}
