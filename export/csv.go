package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/golang/glog"
)

var csvHeader = []string{
	"Run",
	"Source",
	"Round",
	"Rounds",
	"CoarseChan",
	"FineChan",
	"Segments",
	"Value",
	"TimeUnixMilli",
}

// CSV writes one line per fine channel. Output goes to stdout unless W is set.
type CSV struct {
	W io.Writer

	w *csv.Writer
}

func (c *CSV) Write(ctx context.Context, spectra []Spectrum) error {
	if c.w == nil {
		out := c.W
		if out == nil {
			out = os.Stdout
		}
		c.w = csv.NewWriter(out)
		if err := c.w.Write(csvHeader); err != nil {
			return fmt.Errorf("unable to write CSV header: %w", err)
		}
	}

	for _, s := range spectra {
		for bin, v := range s.Values {
			if err := c.w.Write([]string{
				s.Run,
				s.Source,
				fmt.Sprintf("%d", s.Round),
				fmt.Sprintf("%d", s.Rounds),
				fmt.Sprintf("%d", s.CoarseChan),
				fmt.Sprintf("%d", bin),
				fmt.Sprintf("%d", s.Segments),
				fmt.Sprintf("%f", v),
				fmt.Sprintf("%d", s.Time.UnixMilli()),
			}); err != nil {
				glog.Warningf("error while writing CSV line: %s\n", err)
			}
		}
	}

	c.w.Flush()
	if err := c.w.Error(); err != nil {
		glog.Warningf("error flushing CSV: %s\n", err)
	}
	return nil
}

func (c *CSV) Close() error {
	if c.w == nil {
		return nil
	}
	c.w.Flush()
	return c.w.Error()
}
