package engine

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// AllocationReport is the full analytics response for one allocation run.
// It echoes the input returns so callers can render rows without keeping
// their request around.
type AllocationReport struct {
	ExpectedReturns []float64 `json:"expected_returns"`
	Weights         []float64 `json:"weights"`

	// Entropy is Σ −ωᵢ ln ωᵢ; MaxEntropy is ln N, reached by the uniform
	// allocation.
	Entropy    float64 `json:"entropy"`
	MaxEntropy float64 `json:"max_entropy"`
	// PortfolioReturn is Σ μᵢ ωᵢ under the computed weights.
	PortfolioReturn float64 `json:"portfolio_return"`

	// HHI is the Herfindahl-Hirschman Index (sum of squared weights);
	// 1/N means perfectly diversified, 1 means fully concentrated.
	HHI float64 `json:"hhi"`
	// EffectiveAssets is exp(entropy), the number of equally-weighted
	// assets with the same diversification.
	EffectiveAssets float64 `json:"effective_assets"`

	Assets []AssetWeight `json:"assets"`
}

// AssetWeight is one row of the per-asset breakdown.
type AssetWeight struct {
	Index          int     `json:"index"`
	ExpectedReturn float64 `json:"expected_return"`
	Weight         float64 `json:"weight"`
	WeightPct      float64 `json:"weight_pct"`
}

// AllocationSuggestion recommends moving allocation toward the computed
// optimum from a caller-supplied current allocation.
type AllocationSuggestion struct {
	Index      int     `json:"index"`
	Action     string  `json:"action"` // "increase", "decrease", "hold"
	CurrentPct float64 `json:"current_pct"`
	OptimalPct float64 `json:"optimal_pct"`
	DeltaPct   float64 `json:"delta_pct"` // optimal - current
	Reason     string  `json:"reason"`
}

// Analyze builds the analytics report for a computed weight vector.
// mu and weights must be index-aligned.
func Analyze(mu, weights []float64) *AllocationReport {
	n := len(weights)
	report := &AllocationReport{
		ExpectedReturns: mu,
		Weights:         weights,
		Entropy:         stat.Entropy(weights),
		MaxEntropy:      math.Log(float64(n)),
		PortfolioReturn: floats.Dot(mu, weights),
		Assets:          make([]AssetWeight, n),
	}

	for i, w := range weights {
		report.HHI += w * w
		report.Assets[i] = AssetWeight{
			Index:          i,
			ExpectedReturn: mu[i],
			Weight:         w,
			WeightPct:      w * 100,
		}
	}
	report.EffectiveAssets = math.Exp(report.Entropy)

	return report
}

// Suggestions compares a current allocation against the report's optimal
// weights and recommends rebalancing moves. thresholdPct is the minimal
// percentage-point delta that triggers an increase/decrease.
func Suggestions(report *AllocationReport, current []float64, thresholdPct float64) []AllocationSuggestion {
	if thresholdPct <= 0 {
		thresholdPct = 3
	}

	avgReturn := report.PortfolioReturn
	var suggestions []AllocationSuggestion
	for i, a := range report.Assets {
		curPct := current[i] * 100
		optPct := a.Weight * 100
		delta := optPct - curPct

		action := "hold"
		reason := ""
		if delta > thresholdPct {
			action = "increase"
			if a.ExpectedReturn > avgReturn {
				reason = "above_portfolio_return"
			} else {
				reason = "diversification"
			}
		} else if delta < -thresholdPct {
			action = "decrease"
			if a.ExpectedReturn < avgReturn {
				reason = "below_portfolio_return"
			} else {
				reason = "overweight"
			}
		}

		suggestions = append(suggestions, AllocationSuggestion{
			Index:      i,
			Action:     action,
			CurrentPct: curPct,
			OptimalPct: optPct,
			DeltaPct:   delta,
			Reason:     reason,
		})
	}

	// Decreases first, then increases, largest move first within each group.
	order := map[string]int{"decrease": 0, "increase": 1, "hold": 2}
	sort.Slice(suggestions, func(i, j int) bool {
		if suggestions[i].Action != suggestions[j].Action {
			return order[suggestions[i].Action] < order[suggestions[j].Action]
		}
		return math.Abs(suggestions[i].DeltaPct) > math.Abs(suggestions[j].DeltaPct)
	})

	return suggestions
}
