package engine

import (
	"context"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"entropic/internal/allocator"
)

// FrontierPoint is one point on the diversification frontier: the
// maximum-entropy allocation for μ scaled by the return-emphasis λ.
type FrontierPoint struct {
	Lambda          float64   `json:"lambda"`
	Entropy         float64   `json:"entropy"`
	PortfolioReturn float64   `json:"portfolio_return"`
	Weights         []float64 `json:"weights"`
}

// frontierConcurrency caps the parallel solver invocations for one sweep.
const frontierConcurrency = 8

// ComputeFrontier traces the entropy/return tradeoff by sweeping a
// return-emphasis multiplier λ over logarithmic spacing and solving one
// maximum-entropy allocation per level. λ=0 yields the uniform (maximum
// entropy) portfolio; large λ concentrates on the best returns. Allocations
// are independent, so the sweep runs them concurrently.
//
// Dominated points are pruned: moving along the result, portfolio return
// rises as entropy is given up.
func ComputeFrontier(ctx context.Context, alloc *allocator.Allocator, mu []float64, numPoints int) ([]FrontierPoint, error) {
	if numPoints < 2 {
		numPoints = 2
	}

	raw := make([]FrontierPoint, numPoints*2)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(frontierConcurrency)

	for k := range raw {
		var lambda float64
		if k > 0 {
			// 0.01 .. 100, logarithmic.
			t := float64(k) / float64(len(raw)-1)
			lambda = 0.01 * math.Pow(10000, t)
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			scaled := make([]float64, len(mu))
			for i, v := range mu {
				scaled[i] = v * lambda
			}
			w, err := alloc.Allocate(scaled)
			if err != nil {
				return err
			}
			report := Analyze(mu, w)
			raw[k] = FrontierPoint{
				Lambda:          lambda,
				Entropy:         report.Entropy,
				PortfolioReturn: report.PortfolioReturn,
				Weights:         w,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Most diversified first.
	sort.Slice(raw, func(i, j int) bool {
		return raw[i].Entropy > raw[j].Entropy
	})

	// Keep only points that buy extra return with the entropy given up.
	var frontier []FrontierPoint
	maxReturn := math.Inf(-1)
	for _, p := range raw {
		if p.PortfolioReturn > maxReturn {
			frontier = append(frontier, p)
			maxReturn = p.PortfolioReturn
		}
	}

	// Downsample to the requested number of points.
	if len(frontier) > numPoints {
		sampled := make([]FrontierPoint, numPoints)
		for i := 0; i < numPoints; i++ {
			idx := i * (len(frontier) - 1) / (numPoints - 1)
			sampled[i] = frontier[idx]
		}
		frontier = sampled
	}

	return frontier, nil
}
