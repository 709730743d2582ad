package source

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/golang/glog"

	"github.com/hb9tf/finechan/corr"
	"github.com/hb9tf/finechan/demux"
)

// ErrEndOfCapture is returned by replaying sources once all recorded data has
// been handed out.
var ErrEndOfCapture = errors.New("end of capture")

// Batch maps a coarse channel to the samples one read contributed to it.
type Batch map[int][]complex128

// Channels returns the channels present in b in ascending order.
func (b Batch) Channels() []int {
	chans := make([]int, 0, len(b))
	for ch := range b {
		chans = append(chans, ch)
	}
	sort.Ints(chans)
	return chans
}

// Extend appends other's samples to b channel by channel.
func (b Batch) Extend(other Batch) {
	for ch, samples := range other {
		b[ch] = append(b[ch], samples...)
	}
}

// Source supplies successive batches of per-channel samples. Calls block
// until data is available; there is never more than one call in flight.
type Source interface {
	Name() string
	Next(ctx context.Context, channels []int) (Batch, error)
}

// Live polls the correlator's snapshot block once per Next call and
// demultiplexes the snapshot for the requested channels.
type Live struct {
	Device  corr.Correlator
	Antenna string
	Pol     int

	polls int
}

func NewLive(dev corr.Correlator, antenna string, pol int) *Live {
	return &Live{
		Device:  dev,
		Antenna: antenna,
		Pol:     pol,
	}
}

func (l *Live) Name() string {
	return l.Device.Name()
}

func (l *Live) Next(ctx context.Context, channels []int) (Batch, error) {
	cfg := l.Device.Config()
	snap, err := l.Device.PollSnapshot(ctx, l.Antenna, l.Pol)
	if err != nil {
		return nil, err
	}
	if len(snap) != cfg.Snapshot.SnapLen {
		return nil, corr.NewDeviceError(l.Device.Name(), "poll snapshot",
			fmt.Errorf("snapshot has %d samples, expected %d", len(snap), cfg.Snapshot.SnapLen))
	}
	l.polls++
	glog.V(2).Infof("snapshot %d from antenna %s pol %d: %d samples", l.polls, l.Antenna, l.Pol, len(snap))

	b, err := demux.Channels(snap, cfg.Correlator.CoarseChans, channels)
	if err != nil {
		return nil, err
	}
	return Batch(b), nil
}
