// Package extraction reads stored runs back from the SQL store written by
// export.SQL and export.MySQL.
package extraction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/hb9tf/finechan/export"
)

var ErrNotFound = errors.New("not found")

const (
	getRunsTmpl = `SELECT
		Run,
		Source,
		MAX(Rounds),
		MAX(FineChan) + 1,
		MIN(TimeUnixMilli),
		MAX(TimeUnixMilli)
	FROM
		finechan
	GROUP BY
		Run, Source
	ORDER BY
		MIN(TimeUnixMilli) ASC;`
	getRunChannelsTmpl = `SELECT DISTINCT
		CoarseChan
	FROM
		finechan
	WHERE
		Run = ?
	ORDER BY
		CoarseChan ASC;`
	getLatestRoundTmpl = `SELECT
		MAX(Round)
	FROM
		finechan
	WHERE
		Run = ?;`
	getSpectrumTmpl = `SELECT
		Source,
		Rounds,
		CoarseChan,
		FineChan,
		Segments,
		Value,
		TimeUnixMilli
	FROM
		finechan
	WHERE
		Run = ?
		AND Round = ?
	ORDER BY
		CoarseChan ASC,
		FineChan ASC;`
	getWaterfallTmpl = `SELECT
		Round,
		Rounds,
		FineChan,
		Value,
		TimeUnixMilli
	FROM
		finechan
	WHERE
		Run = ?
		AND CoarseChan = ?
	ORDER BY
		Round ASC,
		FineChan ASC;`
)

type Run struct {
	Run       string    `json:"run"`
	Source    string    `json:"source"`
	Rounds    int       `json:"rounds"`
	FineChans int       `json:"fineChans"`
	Channels  []int     `json:"channels"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
}

func GetRuns(ctx context.Context, db *sql.DB) ([]Run, error) {
	rows, err := db.QueryContext(ctx, getRunsTmpl)
	if err != nil {
		return nil, err
	}
	var runs []Run
	for rows.Next() {
		var r Run
		var start, end int64
		if err := rows.Scan(&r.Run, &r.Source, &r.Rounds, &r.FineChans, &start, &end); err != nil {
			glog.Warningf("unable to get run from DB: %s\n", err)
			continue
		}
		r.Start = time.UnixMilli(start)
		r.End = time.UnixMilli(end)
		runs = append(runs, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range runs {
		chans, err := getChannels(ctx, db, runs[i].Run)
		if err != nil {
			return nil, err
		}
		runs[i].Channels = chans
	}
	return runs, nil
}

func getChannels(ctx context.Context, db *sql.DB, run string) ([]int, error) {
	rows, err := db.QueryContext(ctx, getRunChannelsTmpl, run)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var chans []int
	for rows.Next() {
		var ch int
		if err := rows.Scan(&ch); err != nil {
			return nil, err
		}
		chans = append(chans, ch)
	}
	return chans, rows.Err()
}

// LatestRound returns the highest round stored for run.
func LatestRound(ctx context.Context, db *sql.DB, run string) (int, error) {
	var round sql.NullInt64
	if err := db.QueryRowContext(ctx, getLatestRoundTmpl, run).Scan(&round); err != nil {
		return 0, err
	}
	if !round.Valid {
		return 0, fmt.Errorf("run %q: %w", run, ErrNotFound)
	}
	return int(round.Int64), nil
}

// GetSpectrum returns the cumulative spectra of all channels of run after
// round. A negative round selects the latest one.
func GetSpectrum(ctx context.Context, db *sql.DB, run string, round int) ([]export.Spectrum, error) {
	if round < 0 {
		var err error
		if round, err = LatestRound(ctx, db, run); err != nil {
			return nil, err
		}
	}

	rows, err := db.QueryContext(ctx, getSpectrumTmpl, run, round)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var spectra []export.Spectrum
	for rows.Next() {
		var s export.Spectrum
		var fineChan int
		var value float64
		var t int64
		if err := rows.Scan(&s.Source, &s.Rounds, &s.CoarseChan, &fineChan, &s.Segments, &value, &t); err != nil {
			return nil, err
		}
		if len(spectra) == 0 || spectra[len(spectra)-1].CoarseChan != s.CoarseChan {
			s.Run = run
			s.Round = round
			s.Time = time.UnixMilli(t)
			spectra = append(spectra, s)
		}
		last := &spectra[len(spectra)-1]
		last.Values = setBin(last.Values, fineChan, value)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(spectra) == 0 {
		return nil, fmt.Errorf("run %q round %d: %w", run, round, ErrNotFound)
	}
	return spectra, nil
}

func setBin(values []float64, bin int, v float64) []float64 {
	for len(values) <= bin {
		values = append(values, 0)
	}
	values[bin] = v
	return values
}

// Waterfall holds the evolution of one channel over the rounds of a run. Each
// row is the cumulative spectrum divided by the number of accumulated rounds.
type Waterfall struct {
	Run        string
	CoarseChan int
	Rounds     []int
	Rows       [][]float64
	Start      time.Time
	End        time.Time
}

func GetWaterfall(ctx context.Context, db *sql.DB, run string, ch int) (*Waterfall, error) {
	rows, err := db.QueryContext(ctx, getWaterfallTmpl, run, ch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	w := &Waterfall{
		Run:        run,
		CoarseChan: ch,
	}
	for rows.Next() {
		var round, rounds, fineChan int
		var value float64
		var t int64
		if err := rows.Scan(&round, &rounds, &fineChan, &value, &t); err != nil {
			return nil, err
		}
		if n := len(w.Rounds); n == 0 || w.Rounds[n-1] != round {
			w.Rounds = append(w.Rounds, round)
			w.Rows = append(w.Rows, nil)
		}
		if rounds > 0 {
			value /= float64(rounds)
		}
		idx := len(w.Rows) - 1
		w.Rows[idx] = setBin(w.Rows[idx], fineChan, value)

		ts := time.UnixMilli(t)
		if w.Start.IsZero() || ts.Before(w.Start) {
			w.Start = ts
		}
		if ts.After(w.End) {
			w.End = ts
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(w.Rows) == 0 {
		return nil, fmt.Errorf("run %q channel %d: %w", run, ch, ErrNotFound)
	}
	return w, nil
}
