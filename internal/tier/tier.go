package tier

import (
	"fmt"

	"github.com/babymaxMAX/autosub/internal/models"
)

// Limits describes what a subscription tier is allowed to do.
type Limits struct {
	MaxDuration   float64 // seconds of source media
	MaxQuality    string
	DailyTasks    int
	Watermark     bool
	PriorityClass int // lower is dequeued first
	Translation   bool
	Voiceover     bool
}

var limitsByTier = map[models.Tier]Limits{
	models.TierFree: {
		MaxDuration:   60,
		MaxQuality:    "720p",
		DailyTasks:    3,
		Watermark:     true,
		PriorityClass: 3,
	},
	models.TierPro: {
		MaxDuration:   600,
		MaxQuality:    "1080p",
		DailyTasks:    50,
		Watermark:     false,
		PriorityClass: 2,
		Translation:   true,
	},
	models.TierCreator: {
		MaxDuration:   1800,
		MaxQuality:    "1080p",
		DailyTasks:    200,
		Watermark:     false,
		PriorityClass: 1,
		Translation:   true,
		Voiceover:     true,
	},
}

// For returns the limits for the given tier. An unknown tier is a programming
// error, not a condition callers are expected to handle.
func For(t models.Tier) Limits {
	limits, ok := limitsByTier[t]
	if !ok {
		panic(fmt.Sprintf("tier: no limits defined for %q", t))
	}
	return limits
}

// Allows reports whether the tier may use the requested processing options.
func (l Limits) Allows(opts models.ProcessingOptions) bool {
	if opts.Translate && !l.Translation {
		return false
	}
	if opts.Voiceover && !l.Voiceover {
		return false
	}
	return true
}

// Price is a subscription price in the provider's minor currency unit.
type Price struct {
	Monthly float64
	Yearly  float64
}

var pricing = map[models.Tier]Price{
	models.TierPro:     {Monthly: 299, Yearly: 2990},
	models.TierCreator: {Monthly: 599, Yearly: 5990},
}

// PriceFor returns the subscription price for a paid tier and period.
func PriceFor(t models.Tier, period string) (float64, error) {
	p, ok := pricing[t]
	if !ok {
		return 0, fmt.Errorf("tier %q is not purchasable", t)
	}
	switch period {
	case models.PeriodMonthly:
		return p.Monthly, nil
	case models.PeriodYearly:
		return p.Yearly, nil
	default:
		return 0, fmt.Errorf("unknown subscription period %q", period)
	}
}
