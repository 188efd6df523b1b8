package db

import (
	"fmt"
	"strconv"

	"entropic/internal/config"
)

// LoadConfig reads config from SQLite. If empty (or d is nil), returns defaults.
func (d *DB) LoadConfig() *config.Config {
	cfg := config.Default()
	if d == nil {
		return cfg
	}

	rows, err := d.sql.Query("SELECT key, value FROM config")
	if err != nil {
		return cfg
	}
	defer rows.Close()

	m := make(map[string]string)
	for rows.Next() {
		var k, v string
		rows.Scan(&k, &v)
		m[k] = v
	}

	if len(m) == 0 {
		return cfg
	}

	if v, ok := m["floor"]; ok {
		cfg.Floor, _ = strconv.ParseFloat(v, 64)
	}
	if v, ok := m["max_iterations"]; ok {
		cfg.MaxIterations, _ = strconv.Atoi(v)
	}
	if v, ok := m["frontier_points"]; ok {
		cfg.FrontierPoints, _ = strconv.Atoi(v)
	}
	if v, ok := m["history_limit"]; ok {
		cfg.HistoryLimit, _ = strconv.Atoi(v)
	}
	if v, ok := m["suggestion_threshold_pct"]; ok {
		cfg.SuggestionThresholdPct, _ = strconv.ParseFloat(v, 64)
	}

	return cfg
}

// SaveConfig writes config to SQLite as key/value pairs.
func (d *DB) SaveConfig(cfg *config.Config) error {
	pairs := map[string]string{
		"floor":                    strconv.FormatFloat(cfg.Floor, 'g', -1, 64),
		"max_iterations":           strconv.Itoa(cfg.MaxIterations),
		"frontier_points":          strconv.Itoa(cfg.FrontierPoints),
		"history_limit":            strconv.Itoa(cfg.HistoryLimit),
		"suggestion_threshold_pct": strconv.FormatFloat(cfg.SuggestionThresholdPct, 'g', -1, 64),
	}

	tx, err := d.sql.Begin()
	if err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	for k, v := range pairs {
		tx.Exec("INSERT INTO config (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value", k, v)
	}
	return tx.Commit()
}
