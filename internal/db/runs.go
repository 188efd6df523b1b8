package db

import (
	"encoding/json"
	"log"
	"time"
)

// RunRecord represents one persisted allocation run.
type RunRecord struct {
	ID              int64           `json:"id"`
	Timestamp       string          `json:"timestamp"`
	Label           string          `json:"label"`
	AssetCount      int             `json:"asset_count"`
	Entropy         float64         `json:"entropy"`
	PortfolioReturn float64         `json:"portfolio_return"`
	DurationMs      int64           `json:"duration_ms"`
	Params          json.RawMessage `json:"params"`
}

// InsertRun inserts an allocation run record and returns its ID.
func (d *DB) InsertRun(label string, assetCount int, entropy, portfolioReturn float64, durationMs int64, params interface{}) int64 {
	paramsJSON, _ := json.Marshal(params)
	result, err := d.sql.Exec(
		"INSERT INTO allocation_history (timestamp, label, asset_count, entropy, portfolio_return, duration_ms, params_json) VALUES (?, ?, ?, ?, ?, ?, ?)",
		time.Now().Format(time.RFC3339), label, assetCount, entropy, portfolioReturn, durationMs, string(paramsJSON),
	)
	if err != nil {
		return 0
	}
	id, _ := result.LastInsertId()
	return id
}

// InsertWeights bulk-inserts the per-asset weights for a run.
// mu and weights must be index-aligned.
func (d *DB) InsertWeights(runID int64, mu, weights []float64) {
	if runID == 0 || len(weights) == 0 {
		return
	}

	tx, err := d.sql.Begin()
	if err != nil {
		log.Printf("[DB] InsertWeights begin tx: %v", err)
		return
	}

	stmt, err := tx.Prepare("INSERT INTO allocation_weights (run_id, idx, expected_return, weight) VALUES (?, ?, ?, ?)")
	if err != nil {
		tx.Rollback()
		log.Printf("[DB] InsertWeights prepare: %v", err)
		return
	}
	defer stmt.Close()

	for i, w := range weights {
		stmt.Exec(runID, i, mu[i], w)
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[DB] InsertWeights commit: %v", err)
	}
}

// GetWeights retrieves the stored returns and weights for a run, in index order.
func (d *DB) GetWeights(runID int64) (mu, weights []float64) {
	rows, err := d.sql.Query(
		"SELECT expected_return, weight FROM allocation_weights WHERE run_id = ? ORDER BY idx",
		runID,
	)
	if err != nil {
		return nil, nil
	}
	defer rows.Close()

	for rows.Next() {
		var m, w float64
		rows.Scan(&m, &w)
		mu = append(mu, m)
		weights = append(weights, w)
	}
	return mu, weights
}

// GetRuns returns the last N allocation runs (newest first).
func (d *DB) GetRuns(limit int) []RunRecord {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.sql.Query(
		`SELECT id, timestamp, label, asset_count, entropy, portfolio_return,
		 COALESCE(duration_ms, 0), COALESCE(params_json, '{}')
		 FROM allocation_history ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return []RunRecord{}
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var r RunRecord
		var paramsStr string
		rows.Scan(&r.ID, &r.Timestamp, &r.Label, &r.AssetCount, &r.Entropy, &r.PortfolioReturn, &r.DurationMs, &paramsStr)
		r.Params = json.RawMessage(paramsStr)
		records = append(records, r)
	}
	if records == nil {
		return []RunRecord{}
	}
	return records
}

// GetRunByID returns a single allocation run record.
func (d *DB) GetRunByID(id int64) *RunRecord {
	row := d.sql.QueryRow(
		`SELECT id, timestamp, label, asset_count, entropy, portfolio_return,
		 COALESCE(duration_ms, 0), COALESCE(params_json, '{}')
		 FROM allocation_history WHERE id = ?`,
		id,
	)
	var r RunRecord
	var paramsStr string
	if err := row.Scan(&r.ID, &r.Timestamp, &r.Label, &r.AssetCount, &r.Entropy, &r.PortfolioReturn, &r.DurationMs, &paramsStr); err != nil {
		return nil
	}
	r.Params = json.RawMessage(paramsStr)
	return &r
}

// CountRuns returns the number of stored allocation runs.
func (d *DB) CountRuns() int {
	var n int
	d.sql.QueryRow("SELECT COUNT(*) FROM allocation_history").Scan(&n)
	return n
}

// DeleteRun deletes an allocation run and its stored weights.
func (d *DB) DeleteRun(id int64) error {
	tx, err := d.sql.Begin()
	if err != nil {
		return err
	}
	tx.Exec("DELETE FROM allocation_weights WHERE run_id = ?", id)
	tx.Exec("DELETE FROM allocation_history WHERE id = ?", id)
	return tx.Commit()
}

// ClearRuns deletes all allocation runs older than given days.
func (d *DB) ClearRuns(olderThanDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -olderThanDays).Format(time.RFC3339)

	rows, err := d.sql.Query("SELECT id FROM allocation_history WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		rows.Scan(&id)
		ids = append(ids, id)
	}
	rows.Close()

	tx, err := d.sql.Begin()
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		tx.Exec("DELETE FROM allocation_weights WHERE run_id = ?", id)
		tx.Exec("DELETE FROM allocation_history WHERE id = ?", id)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}
