// Package report models per-target-area projection strength tables and
// persists them in a portable tabular form readable by downstream analysis
// tools: a SQLite database (the binary interchange format) with an optional
// CSV export.
package report

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Row is one (source area, target area, normalization mode) record.
type Row struct {
	SourceArea         string
	TargetArea         string
	Strength           float64
	NormalizedBySource bool
	NormalizedByTarget bool

	// FilterArea is the label of the structure filter applied to the source
	// volume upstream, empty when no filter was used.
	FilterArea string
}

// AreaReport is an immutable table of projection strengths produced by one
// aggregation call. Rows keep the order of the requested target list.
type AreaReport struct {
	RunID   string
	Created time.Time
	Rows    []Row
}

// New builds a report around the given rows, stamping it with a fresh run id.
func New(rows []Row) *AreaReport {
	return &AreaReport{
		RunID:   uuid.NewString(),
		Created: time.Now().UTC(),
		Rows:    rows,
	}
}

// WriteSQLite persists the report into the database at path, creating the
// schema if needed. Reports from multiple runs accumulate in the same file,
// distinguished by run id.
func (r *AreaReport) WriteSQLite(path string) error {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=10000&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("report: open %s: %w", path, err)
	}
	defer db.Close()

	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS proj_by_area (
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		source_area TEXT NOT NULL,
		target_area TEXT NOT NULL,
		strength REAL NOT NULL,
		normalized_by_source INTEGER NOT NULL,
		normalized_by_target INTEGER NOT NULL,
		filter_area TEXT,
		PRIMARY KEY (run_id, seq),
		FOREIGN KEY (run_id) REFERENCES runs(run_id)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("report: initialize schema: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("report: begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO runs (run_id, created_at) VALUES (?, ?)`,
		r.RunID, r.Created.Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("report: insert run: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO proj_by_area
		(run_id, seq, source_area, target_area, strength, normalized_by_source, normalized_by_target, filter_area)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("report: prepare insert: %w", err)
	}
	defer stmt.Close()

	for seq, row := range r.Rows {
		var filter any
		if row.FilterArea != "" {
			filter = row.FilterArea
		}
		if _, err := stmt.Exec(r.RunID, seq, row.SourceArea, row.TargetArea, row.Strength,
			boolToInt(row.NormalizedBySource), boolToInt(row.NormalizedByTarget), filter); err != nil {
			return fmt.Errorf("report: insert row %d: %w", seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("report: commit: %w", err)
	}
	return nil
}

// ReadSQLite loads every row of the given run from the database, in the
// original row order. It is primarily for downstream consumers and tests.
func ReadSQLite(path, runID string) (*AreaReport, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=10000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("report: open %s: %w", path, err)
	}
	defer db.Close()

	var createdRaw string
	if err := db.QueryRow(`SELECT created_at FROM runs WHERE run_id = ?`, runID).Scan(&createdRaw); err != nil {
		return nil, fmt.Errorf("report: run %s: %w", runID, err)
	}
	created, err := time.Parse(time.RFC3339Nano, createdRaw)
	if err != nil {
		return nil, fmt.Errorf("report: run %s: parse created_at: %w", runID, err)
	}

	rows, err := db.Query(`SELECT source_area, target_area, strength,
		normalized_by_source, normalized_by_target, filter_area
		FROM proj_by_area WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("report: query run %s: %w", runID, err)
	}
	defer rows.Close()

	out := &AreaReport{RunID: runID, Created: created}
	for rows.Next() {
		var row Row
		var normSource, normTarget int
		var filter sql.NullString
		if err := rows.Scan(&row.SourceArea, &row.TargetArea, &row.Strength,
			&normSource, &normTarget, &filter); err != nil {
			return nil, fmt.Errorf("report: scan row: %w", err)
		}
		row.NormalizedBySource = normSource != 0
		row.NormalizedByTarget = normTarget != 0
		row.FilterArea = filter.String
		out.Rows = append(out.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("report: iterate rows: %w", err)
	}
	return out, nil
}

// WriteCSV exports the report as a CSV file with a header row.
func (r *AreaReport) WriteCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{"source_area", "target_area", "strength",
		"normalized_by_source", "normalized_by_target", "filter_area"}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("report: write header: %w", err)
	}
	for _, row := range r.Rows {
		record := []string{
			row.SourceArea,
			row.TargetArea,
			strconv.FormatFloat(row.Strength, 'g', -1, 64),
			strconv.FormatBool(row.NormalizedBySource),
			strconv.FormatBool(row.NormalizedByTarget),
			row.FilterArea,
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("report: write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("report: flush: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
