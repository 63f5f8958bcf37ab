// Package scoring maps fully-enriched chart entries to clone-opportunity
// scores. Every function here is pure and defensive: missing enrichment
// fields fall back to documented neutral defaults, never to an error.
package scoring

import (
	"math"
	"strings"

	"github.com/Cyb3rEchos/trend-scout/internal/domain"
)

// Total weight split across the four factors. Moat risk enters inverted, so a
// risky app is penalized rather than rewarded.
const (
	weightDemand        = 0.35
	weightMonetization  = 0.25
	weightLowComplexity = 0.25
	weightMoatRisk      = 0.15
)

// Score computes all four sub-scores and the weighted total for one entry.
// Deterministic given identical input; re-scoring a batch for an idempotent
// re-publish yields byte-identical rows.
func Score(entry domain.EnrichedEntry) domain.ScoredEntry {
	demand := DemandScore(entry.RankDelta7d, entry.RatingCount, entry.RecentReviews)
	monetization := MonetizationScore(entry.Price, entry.HasIAP, entry.Description)
	lowComplexity := LowComplexityScore(entry.Name, entry.Description)
	moatRisk := MoatRiskScore(entry.Name, entry.Description)

	return domain.ScoredEntry{
		EnrichedEntry: entry,
		Demand:        demand,
		Monetization:  monetization,
		LowComplexity: lowComplexity,
		MoatRisk:      moatRisk,
		Total:         TotalScore(demand, monetization, lowComplexity, moatRisk),
	}
}

// DemandScore rates market pull from rank movement (primary), rating volume
// (secondary), and review velocity. A nil delta contributes nothing, which is
// the neutral midpoint between improvement and decline.
func DemandScore(rankDelta7d *int, ratingCount int, recentReviews []string) float64 {
	score := 1.0

	if rankDelta7d != nil {
		switch delta := *rankDelta7d; {
		case delta <= -10:
			score += 2.0
		case delta <= -5:
			score += 1.5
		case delta <= -1:
			score += 1.0
		case delta == 0:
			score += 0.5
		case delta <= 5:
			// slight decline, no bonus
		default:
			score -= 0.5
		}
	}

	switch {
	case ratingCount >= 10000:
		score += 1.0
	case ratingCount >= 1000:
		score += 0.5
	case ratingCount >= 100:
		score += 0.25
	}

	if len(recentReviews) >= 3 {
		score += 0.5
	}

	return clamp(score, 1.0, 5.0)
}

// MonetizationScore bands by pricing model: free without IAP is a dead end
// (1.0), paid with IAP is the ceiling (5.0). A free app with IAP lands at 4.0
// only when its description shows several paywall signals, otherwise 3.0.
func MonetizationScore(price float64, hasIAP bool, description string) float64 {
	if price > 0 {
		if hasIAP {
			return 5.0
		}
		return 3.0
	}

	if !hasIAP {
		return 1.0
	}

	if countMatches(strings.ToLower(description), paywallIndicators) >= 3 {
		return 4.0
	}
	return 3.0
}

// LowComplexityScore estimates how easy the app is to rebuild. Simple-utility
// keyword matches raise the score; engineering-depth vocabulary lowers it.
func LowComplexityScore(name, description string) float64 {
	text := strings.ToLower(name + " " + description)

	switch matches := countMatches(text, lowComplexityKeywords); {
	case matches >= 3:
		return 5.0
	case matches >= 2:
		return 4.0
	case matches >= 1:
		return 3.0
	}

	switch countMatches(text, complexityIndicators) {
	case 0:
		return 2.5
	case 1:
		return 2.0
	default:
		return 1.0
	}
}

// MoatRiskScore estimates trademark/brand exposure. Higher means riskier; the
// total inverts it via (5 - risk).
func MoatRiskScore(name, description string) float64 {
	text := strings.ToLower(name + " " + description)

	switch matches := countMatches(text, highMoatKeywords); {
	case matches >= 2:
		return 5.0
	case matches >= 1:
		return 4.0
	}

	if countMatches(text, trademarkIndicators) >= 1 {
		return 3.0
	}
	return 1.0
}

// TotalScore applies the fixed weighting, rounds to two decimals, and clamps
// the result into [0,5] in case of floating drift.
func TotalScore(demand, monetization, lowComplexity, moatRisk float64) float64 {
	total := weightDemand*demand +
		weightMonetization*monetization +
		weightLowComplexity*lowComplexity +
		weightMoatRisk*(5.0-moatRisk)

	return clamp(math.Round(total*100)/100, 0.0, 5.0)
}

func countMatches(text string, keywords []string) int {
	count := 0
	for _, keyword := range keywords {
		if strings.Contains(text, keyword) {
			count++
		}
	}
	return count
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
