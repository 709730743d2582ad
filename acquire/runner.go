package acquire

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/hb9tf/finechan/capture"
	"github.com/hb9tf/finechan/corr"
	"github.com/hb9tf/finechan/filter"
	"github.com/hb9tf/finechan/fine"
	"github.com/hb9tf/finechan/metrics"
	"github.com/hb9tf/finechan/source"
)

type State int

const (
	StateInit State = iota
	StateConnecting
	StateConfigured
	StateAcquiring
	StateAccumulating
	StateDone
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateConnecting:
		return "CONNECTING"
	case StateConfigured:
		return "CONFIGURED"
	case StateAcquiring:
		return "ACQUIRING"
	case StateAccumulating:
		return "ACCUMULATING"
	case StateDone:
		return "DONE"
	case StateDisconnecting:
		return "DISCONNECTING"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Reporter is called with the cumulative spectrum after every round.
type Reporter func(ctx context.Context, round int, spectrum *fine.Spectrum) error

// Runner drives one acquisition: it validates the options, connects the
// correlator, runs the acquisition/accumulation rounds and always releases
// the correlator once it has been contacted.
type Runner struct {
	Device   corr.Correlator
	Options  Options
	Metrics  *metrics.Metrics
	Reporter Reporter
	// OnState observes every state transition.
	OnState func(State)

	state        State
	disconnected bool
	spectrum     *fine.Spectrum
	channels     []int
}

func NewRunner(dev corr.Correlator, opts Options) *Runner {
	return &Runner{
		Device:  dev,
		Options: opts,
	}
}

func (r *Runner) State() State {
	return r.state
}

// Spectrum returns the accumulation of the last Run, which may be partial if
// the run was interrupted.
func (r *Runner) Spectrum() *fine.Spectrum {
	return r.spectrum
}

// Channels returns the active channel set after filtering.
func (r *Runner) Channels() []int {
	return r.channels
}

func (r *Runner) setState(s State) {
	glog.V(1).Infof("acquisition state %s -> %s", r.state, s)
	r.state = s
	if r.OnState != nil {
		r.OnState(s)
	}
}

func (r *Runner) disconnect() {
	if r.disconnected {
		return
	}
	r.disconnected = true
	r.setState(StateDisconnecting)
	if err := r.Device.Disconnect(); err != nil {
		glog.Warningf("error disconnecting from %s: %s", r.Device.Name(), err)
	}
}

// Run executes the acquisition. On error the partially accumulated spectrum
// is still returned when one exists.
func (r *Runner) Run(ctx context.Context) (*fine.Spectrum, error) {
	opts := r.Options
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	cfg := r.Device.Config()

	kept, dropped := filter.Filter(opts.Channels, []filter.Filterer{
		&filter.FilterRange{CoarseChans: cfg.Correlator.CoarseChans},
	})
	if len(dropped) > 0 {
		var reasons []string
		for _, ch := range opts.Channels {
			if reason, ok := dropped[ch]; ok {
				reasons = append(reasons, reason)
			}
		}
		return nil, configErrorf("coarse_chans", "%s", strings.Join(reasons, "; "))
	}
	channels := kept

	var src source.Source
	if opts.ReadFile != "" {
		replay, err := capture.NewReplay(opts.ReadFile)
		if err != nil {
			return nil, err
		}
		channels = filter.Drop(channels, &filter.FilterAvailable{
			Source:    opts.ReadFile,
			Available: replay.Channels(),
		})
		r.Metrics.DroppedChannels(len(kept) - len(channels))
		if len(channels) == 0 {
			return nil, configErrorf("coarse_chans", "none of the requested channels are present in %s", opts.ReadFile)
		}
		if opts.Accumulations != 1 {
			glog.Info("Setting accumulations to 1.")
			opts.Accumulations = 1
		}
		src = replay
	}

	var rec *capture.Recorder
	if opts.WriteFile != "" {
		var err error
		if rec, err = capture.NewRecorder(opts.WriteFile, opts.Run); err != nil {
			return nil, err
		}
	}
	r.channels = channels

	nChans := cfg.Correlator.NChans
	if opts.FineChans > 0 {
		nChans = opts.FineChans
	}
	required, err := fine.RequiredBatches(nChans, cfg.Snapshot.SnapLen, cfg.Correlator.CoarseChans)
	if err != nil {
		return nil, configErrorf("finechans", "%s", err)
	}
	spectrum, err := fine.NewSpectrum(nChans, channels)
	if err != nil {
		return nil, configErrorf("finechans", "%s", err)
	}
	r.spectrum = spectrum

	r.setState(StateConnecting)
	defer r.disconnect()
	if !r.Device.IsNarrowband() {
		return nil, corr.NewDeviceError(r.Device.Name(), "connect", fmt.Errorf("only valid for narrowband modes, config mode is %q", cfg.Correlator.Mode))
	}
	if err := r.Device.Connect(ctx); err != nil {
		return nil, err
	}
	glog.Infof("Connected to %s", r.Device.Name())

	glog.Infof("Loading coarse data for one fine FFT. Need to read snap %d times.", required)
	glog.Infof("Will get data for %v", channels)
	glog.Infof("Selecting pol %d", opts.Pol)
	if err := r.Device.SelectPolarization(ctx, opts.Pol); err != nil {
		return nil, err
	}
	if src == nil {
		src = source.NewLive(r.Device, opts.Antenna, opts.Pol)
	}
	r.setState(StateConfigured)

	for round := 0; opts.Accumulations == Unlimited || round < opts.Accumulations; round++ {
		r.setState(StateAcquiring)
		glog.Infof("Reading snapshot set %d now.", round)
		start := time.Now()

		res, err := fine.AccumulateRound(ctx, src, channels, required)
		if res != nil {
			r.Metrics.Snapshots(res.Batches)
		}
		if err != nil {
			return spectrum, fmt.Errorf("round %d: %w", round, err)
		}

		if rec != nil {
			glog.Infof("Writing round %d to file %s", round, rec.Path)
			if err := rec.Write(round, res.Series); err != nil {
				return spectrum, err
			}
		}

		r.setState(StateAccumulating)
		done := spectrum.AddRound(res.Series)
		for _, ch := range channels {
			glog.V(1).Infof("chan(%d,%d)", ch, done[ch])
		}
		r.Metrics.Round(time.Since(start), done)

		if r.Reporter != nil {
			if err := r.Reporter(ctx, round, spectrum); err != nil {
				return spectrum, fmt.Errorf("reporting round %d: %w", round, err)
			}
		}
	}

	r.setState(StateDone)
	return spectrum, nil
}
