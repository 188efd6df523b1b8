package config

// Config holds application settings (in-memory representation).
// Persistence is handled by internal/db package.
type Config struct {
	// Floor is the solver's lower box bound for raw weight components.
	Floor float64 `json:"floor"`
	// MaxIterations bounds each solver invocation.
	MaxIterations int `json:"max_iterations"`
	// FrontierPoints is how many points a frontier sweep returns.
	FrontierPoints int `json:"frontier_points"`
	// HistoryLimit is the default number of runs returned by the history API.
	HistoryLimit int `json:"history_limit"`
	// SuggestionThresholdPct is the minimal percentage-point delta that
	// turns a rebalancing suggestion into an increase/decrease.
	SuggestionThresholdPct float64 `json:"suggestion_threshold_pct"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Floor:                  1e-4,
		MaxIterations:          500,
		FrontierPoints:         30,
		HistoryLimit:           50,
		SuggestionThresholdPct: 3,
	}
}
