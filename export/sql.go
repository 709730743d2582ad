package export

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/golang/glog"
)

const (
	sqlSampleCountInfo = 10000

	sqlCreateTableTmpl = `CREATE TABLE IF NOT EXISTS finechan (
		"ID"             INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
		"Run"            TEXT NOT NULL,
		"Source"         TEXT NOT NULL,
		"Round"          INTEGER,
		"Rounds"         INTEGER,
		"CoarseChan"     INTEGER,
		"FineChan"       INTEGER,
		"Segments"       INTEGER,
		"Value"          REAL,
		"TimeUnixMilli"  INTEGER
	);`
	sqlCreateIndexTmpl  = `CREATE INDEX IF NOT EXISTS finechan_run ON finechan (Run, CoarseChan, Round);`
	sqlInsertSampleTmpl = `INSERT INTO finechan (
		Run,
		Source,
		Round,
		Rounds,
		CoarseChan,
		FineChan,
		Segments,
		Value,
		TimeUnixMilli
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);`
)

// SQL stores one row per fine channel in a sqlite database.
type SQL struct {
	DB *sql.DB

	ready bool
}

func (s *SQL) Write(ctx context.Context, spectra []Spectrum) error {
	if !s.ready {
		if err := sqlCreateTableIfNotExists(ctx, s.DB, sqlCreateTableTmpl, sqlCreateIndexTmpl); err != nil {
			return fmt.Errorf("unable to create table: %s", err)
		}
		s.ready = true
	}
	return sqlInsert(ctx, s.DB, sqlInsertSampleTmpl, spectra)
}

func (s *SQL) Close() error {
	return s.DB.Close()
}

func sqlCreateTableIfNotExists(ctx context.Context, db *sql.DB, stmts ...string) error {
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// sqlInsert writes all rows of one call in a single transaction. Failed rows
// are logged and skipped.
func sqlInsert(ctx context.Context, db *sql.DB, insert string, spectra []Spectrum) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("unable to start transaction: %w", err)
	}
	statement, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("unable to prepare insert: %w", err)
	}
	defer statement.Close()

	c := newCounts()
	for _, s := range spectra {
		for bin, v := range s.Values {
			c["total"] += 1
			if _, err := statement.ExecContext(ctx, s.Run, s.Source, s.Round, s.Rounds, s.CoarseChan, bin, s.Segments, v, s.Time.UnixMilli()); err != nil {
				c["error"] += 1
				glog.Warningf("error storing in SQL DB: %s\n", err)
				continue
			}
			c["success"] += 1
			if c["total"]%sqlSampleCountInfo == 0 {
				glog.Infof("Spectrum export counts: %+v\n", c)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("unable to commit: %w", err)
	}
	glog.V(1).Infof("Spectrum export counts: %+v\n", c)
	return nil
}
