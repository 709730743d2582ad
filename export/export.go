package export

import (
	"context"
	"time"

	"github.com/hb9tf/finechan/fine"
)

// Spectrum is the cumulative fine spectrum of one coarse channel after a
// given round.
type Spectrum struct {
	Run        string    `json:"run" yaml:"run" datastore:"run"`
	Source     string    `json:"source" yaml:"source" datastore:"source"`
	Round      int       `json:"round" yaml:"round" datastore:"round"`
	Rounds     int       `json:"rounds" yaml:"rounds" datastore:"rounds"`
	CoarseChan int       `json:"coarseChan" yaml:"coarseChan" datastore:"coarseChan"`
	Segments   int       `json:"segments" yaml:"segments" datastore:"segments"`
	Values     []float64 `json:"values" yaml:"values,flow" datastore:"values,noindex"`
	Time       time.Time `json:"time" yaml:"time" datastore:"time"`
}

type Exporter interface {
	Write(context.Context, []Spectrum) error
	Close() error
}

// FromSpectrum converts the accumulated state of s into one Spectrum per
// channel, ordered by channel.
func FromSpectrum(run, source string, round int, s *fine.Spectrum, t time.Time) []Spectrum {
	var out []Spectrum
	for _, ch := range s.Channels() {
		out = append(out, Spectrum{
			Run:        run,
			Source:     source,
			Round:      round,
			Rounds:     s.Rounds(),
			CoarseChan: ch,
			Segments:   s.Segments(ch),
			Values:     s.Channel(ch),
			Time:       t,
		})
	}
	return out
}

type counts map[string]int

func newCounts() counts {
	return counts{
		"error":   0,
		"success": 0,
		"total":   0,
	}
}
