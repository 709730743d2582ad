package export

import (
	"context"
	"database/sql"
	"fmt"
)

const (
	mysqlCreateTableTmpl = "CREATE TABLE IF NOT EXISTS finechan (" +
		"`ID`            BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY," +
		"`Run`           VARCHAR(64) NOT NULL," +
		"`Source`        VARCHAR(255) NOT NULL," +
		"`Round`         INTEGER," +
		"`Rounds`        INTEGER," +
		"`CoarseChan`    INTEGER," +
		"`FineChan`      INTEGER," +
		"`Segments`      INTEGER," +
		"`Value`         DOUBLE," +
		"`TimeUnixMilli` BIGINT," +
		"INDEX `finechan_run` (`Run`, `CoarseChan`, `Round`)" +
		");"
)

type MySQL struct {
	DB *sql.DB

	ready bool
}

func (m *MySQL) Write(ctx context.Context, spectra []Spectrum) error {
	if !m.ready {
		if err := sqlCreateTableIfNotExists(ctx, m.DB, mysqlCreateTableTmpl); err != nil {
			return fmt.Errorf("unable to create table: %s", err)
		}
		m.ready = true
	}
	return sqlInsert(ctx, m.DB, sqlInsertSampleTmpl, spectra)
}

func (m *MySQL) Close() error {
	return m.DB.Close()
}
