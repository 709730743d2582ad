package fine

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang/glog"

	"github.com/hb9tf/finechan/demux"
	"github.com/hb9tf/finechan/source"
)

// RequiredBatches returns how many snapshot polls are needed for every
// channel to collect nChans samples, i.e. one fine FFT segment. The count is
// nChans / (snapLen / (2*coarseChans)) rounded up rather than down, so it
// only differs from floor division when the division is not exact.
func RequiredBatches(nChans, snapLen, coarseChans int) (int, error) {
	perSnap := demux.SamplesPerSnapshot(snapLen, coarseChans)
	if perSnap <= 0 {
		return 0, fmt.Errorf("snapshot of %d samples holds no data for %d coarse channels", snapLen, coarseChans)
	}
	if nChans <= 0 {
		return 0, fmt.Errorf("fine channel count must be positive, got %d", nChans)
	}
	return (nChans + perSnap - 1) / perSnap, nil
}

// RoundResult is the data gathered during one acquisition round.
type RoundResult struct {
	Series  source.Batch
	Batches int
	// Exhausted is set when the source ran out of data before the round
	// reached its batch target.
	Exhausted bool
}

// AccumulateRound reads required batches from src and concatenates them per
// channel, in read order. A source reporting source.ErrEndOfCapture ends the
// round early without error.
func AccumulateRound(ctx context.Context, src source.Source, channels []int, required int) (*RoundResult, error) {
	res := &RoundResult{
		Series: make(source.Batch, len(channels)),
	}
	for _, ch := range channels {
		res.Series[ch] = nil
	}

	for res.Batches < required {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		glog.V(2).Infof("grabbing snapshot %4d/%4d from %s", res.Batches+1, required, src.Name())

		b, err := src.Next(ctx, channels)
		if errors.Is(err, source.ErrEndOfCapture) {
			res.Exhausted = true
			glog.V(1).Infof("%s exhausted after %d of %d batches", src.Name(), res.Batches, required)
			break
		}
		if err != nil {
			// Drivers may surface an interrupt as their own failure.
			if ctxErr := ctx.Err(); ctxErr != nil {
				glog.V(1).Infof("%s interrupted during batch %d/%d: %s", src.Name(), res.Batches+1, required, err)
				return res, ctxErr
			}
			return res, fmt.Errorf("batch %d/%d: %w", res.Batches+1, required, err)
		}

		for _, ch := range channels {
			res.Series[ch] = append(res.Series[ch], b[ch]...)
		}
		res.Batches++
	}
	return res, nil
}
