package sink

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/crimestats/crimestats/internal/errors"
	"github.com/crimestats/crimestats/pkg/types"
)

const createIncidentsSQL = `
	CREATE TABLE incidents (
		reported_date TEXT NOT NULL,
		suburb TEXT NOT NULL,
		postcode TEXT NOT NULL,
		offence_level_1 TEXT NOT NULL,
		offence_level_2 TEXT NOT NULL,
		offence_level_3 TEXT NOT NULL,
		offence_count INTEGER NOT NULL
	)
`

const createMetadataSQL = `
	CREATE TABLE _crimestats_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	) WITHOUT ROWID
`

// SQLiteSink writes the table into a SQLite database file. Rows keep the
// table order through the implicit rowid; dates are stored as yyyy-mm-dd.
type SQLiteSink struct {
	Path string
}

// NewSQLiteSink creates a SQLiteSink.
func NewSQLiteSink(path string) *SQLiteSink {
	return &SQLiteSink{Path: path}
}

// Name returns the database path.
func (s *SQLiteSink) Name() string { return s.Path }

// Write builds a fresh database and renames it over Path.
func (s *SQLiteSink) Write(ctx context.Context, t types.Table) error {
	tmp, err := stagePath(s.Path)
	if err != nil {
		return err
	}
	if err := buildSQLite(ctx, tmp, t); err != nil {
		os.Remove(tmp)
		os.Remove(tmp + "-journal")
		return writeFailed(s.Path, err)
	}
	return commit(tmp, s.Path)
}

func buildSQLite(ctx context.Context, path string, t types.Table) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("failed to create SQLite database: %w", err)
	}
	defer db.Close()

	for _, stmt := range []string{
		createIncidentsSQL,
		"CREATE INDEX idx_incidents_key ON incidents(reported_date, suburb, postcode, offence_level_1, offence_level_2, offence_level_3)",
		"CREATE INDEX idx_incidents_suburb ON incidents(suburb)",
		createMetadataSQL,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	insert, err := tx.PrepareContext(ctx, `INSERT INTO incidents
		(reported_date, suburb, postcode, offence_level_1, offence_level_2, offence_level_3, offence_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}
	defer insert.Close()

	for _, in := range t {
		if _, err := insert.ExecContext(ctx,
			in.ReportedDate.Format(types.LayoutISO),
			in.Suburb, in.Postcode,
			in.OffenceLevel1, in.OffenceLevel2, in.OffenceLevel3,
			in.OffenceCount,
		); err != nil {
			return fmt.Errorf("failed to insert row: %w", err)
		}
	}

	meta := map[string]string{
		"fingerprint": t.Fingerprint(),
		"rows":        fmt.Sprint(len(t)),
		"total_count": fmt.Sprint(t.TotalCount()),
		"created_at":  time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx, "INSERT INTO _crimestats_meta (key, value) VALUES (?, ?)", k, v); err != nil {
			return fmt.Errorf("failed to write metadata: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return db.Close()
}

// LoadSQLite reads a table written by SQLiteSink, in its original order.
func LoadSQLite(ctx context.Context, path string) (types.Table, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.NewSourceError(errors.CodeUnreadable, fmt.Sprintf("cannot open %s", path), err)
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, errors.NewSourceError(errors.CodeUnreadable, fmt.Sprintf("cannot open %s", path), err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `SELECT reported_date, suburb, postcode,
		offence_level_1, offence_level_2, offence_level_3, offence_count
		FROM incidents ORDER BY rowid`)
	if err != nil {
		return nil, errors.NewSourceError(errors.CodeParseFailed, fmt.Sprintf("cannot query %s", path), err)
	}
	defer rows.Close()

	iso := types.ISODateFormat()
	var out types.Table
	for rows.Next() {
		var (
			in   types.Incident
			date string
		)
		if err := rows.Scan(&date, &in.Suburb, &in.Postcode,
			&in.OffenceLevel1, &in.OffenceLevel2, &in.OffenceLevel3, &in.OffenceCount); err != nil {
			return nil, errors.NewSourceError(errors.CodeParseFailed, fmt.Sprintf("cannot scan %s", path), err)
		}
		if in.ReportedDate, err = iso.ParseDate(date); err != nil {
			return nil, errors.NewSourceError(errors.CodeParseFailed, fmt.Sprintf("bad date in %s", path), err)
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewSourceError(errors.CodeParseFailed, fmt.Sprintf("cannot read %s", path), err)
	}
	return out, nil
}

// Fingerprint returns the fingerprint recorded when the database was written.
func Fingerprint(ctx context.Context, path string) (string, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return "", err
	}
	defer db.Close()

	var fp string
	err = db.QueryRowContext(ctx, "SELECT value FROM _crimestats_meta WHERE key = 'fingerprint'").Scan(&fp)
	return fp, err
}
