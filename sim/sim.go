// Package sim provides a correlator stand-in that emits the same snapshot
// layout as the hardware. Stream k carries a continuous complex tone at fine
// bin (ToneBin + k) mod n_chans, optionally with Gaussian noise, so a fine
// FFT of any stream peaks at a known bin.
package sim

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"
	"math/rand"

	"github.com/golang/glog"

	"github.com/hb9tf/finechan/corr"
)

const SourceName = "sim"

type Correlator struct {
	Cfg *corr.Config

	connected bool
	pol       int
	// t counts the samples each stream has produced so far.
	t   int
	rng *rand.Rand
}

func New(cfg *corr.Config) *Correlator {
	return &Correlator{
		Cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Sim.Seed)),
	}
}

func (c *Correlator) Name() string {
	return SourceName
}

func (c *Correlator) Config() *corr.Config {
	return c.Cfg
}

func (c *Correlator) IsNarrowband() bool {
	return c.Cfg.Narrowband()
}

func (c *Correlator) Connect(ctx context.Context) error {
	c.connected = true
	glog.Infof("simulated correlator ready: %d coarse chans, snap_len %d", c.Cfg.Correlator.CoarseChans, c.Cfg.Snapshot.SnapLen)
	return nil
}

func (c *Correlator) Disconnect() error {
	c.connected = false
	return nil
}

func (c *Correlator) SelectPolarization(ctx context.Context, pol int) error {
	if !c.connected {
		return corr.NewDeviceError(c.Name(), "select polarization", fmt.Errorf("not connected"))
	}
	c.pol = pol
	return nil
}

// ToneBin returns the fine bin the tone of stream k falls into.
func (c *Correlator) ToneBin(k int) int {
	return (c.Cfg.Sim.ToneBin + k) % c.Cfg.Correlator.NChans
}

func (c *Correlator) PollSnapshot(ctx context.Context, antenna string, pol int) (corr.Snapshot, error) {
	if !c.connected {
		return nil, corr.NewDeviceError(c.Name(), "poll snapshot", fmt.Errorf("not connected"))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	streams := c.Cfg.Streams()
	nChans := float64(c.Cfg.Correlator.NChans)
	amp := c.Cfg.Sim.Amplitude
	// The second polarization is attenuated so the two are distinguishable.
	if pol == 1 {
		amp /= 2
	}

	snap := make(corr.Snapshot, c.Cfg.Snapshot.SnapLen)
	for i := range snap {
		k := i % streams
		t := c.t + i/streams
		phase := 2 * math.Pi * float64(c.ToneBin(k)) * float64(t) / nChans
		v := complex(amp, 0) * cmplx.Exp(complex(0, phase))
		if c.Cfg.Sim.Noise > 0 {
			v += complex(c.rng.NormFloat64()*c.Cfg.Sim.Noise, c.rng.NormFloat64()*c.Cfg.Sim.Noise)
		}
		snap[i] = v
	}
	c.t += len(snap) / streams
	return snap, nil
}
