// Package snaptool drives a correlator through an external snapshot tool.
//
// The tool is invoked once per operation as
//
//	<command> [--host HOST] ping
//	<command> [--host HOST] pol <0|1>
//	<command> [--host HOST] snap <antenna> <pol>
//	<command> [--host HOST] disconnect
//
// and "snap" prints one sample per line, either "re im", "re,im" or "re".
package snaptool

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/hb9tf/finechan/corr"
)

const SourceName = "snaptool"

// waitDelay bounds how long a cancelled tool may keep its output open, e.g.
// through a child process it spawned.
const waitDelay = 500 * time.Millisecond

type Correlator struct {
	Cfg *corr.Config

	connected bool
	// run executes the tool; replaced in tests.
	run func(ctx context.Context, args ...string) ([]byte, error)
}

func New(cfg *corr.Config) *Correlator {
	c := &Correlator{Cfg: cfg}
	c.run = c.exec
	return c
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

// exec runs the tool once. When ctx is cancelled while the tool runs, the
// tool is killed and ctx's error is returned instead of the exit status.
func (c *Correlator) exec(ctx context.Context, args ...string) ([]byte, error) {
	runCtx := ctx
	if c.Cfg.Snapshot.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.Cfg.Snapshot.Timeout)
		defer cancel()
	}
	if c.Cfg.Snapshot.Host != "" {
		args = append([]string{"--host", c.Cfg.Snapshot.Host}, args...)
	}
	cmd := exec.CommandContext(runCtx, c.Cfg.Snapshot.Command, args...)
	cmd.WaitDelay = waitDelay
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	glog.V(2).Infof("running snapshot tool: %q", cmd)
	out, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			glog.V(1).Infof("snapshot tool %q interrupted: %s", args, err)
			return nil, ctxErr
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %s", err, msg)
		}
		return nil, err
	}
	return out, nil
}

func (c *Correlator) Connect(ctx context.Context) error {
	glog.Infof("Connecting to correlator via %s...", c.Cfg.Snapshot.Command)
	if _, err := c.run(ctx, "ping"); err != nil {
		return corr.NewDeviceError(c.Name(), "connect", err)
	}
	c.connected = true
	return nil
}

func (c *Correlator) Disconnect() error {
	if !c.connected {
		return nil
	}
	c.connected = false
	if _, err := c.run(context.Background(), "disconnect"); err != nil {
		return corr.NewDeviceError(c.Name(), "disconnect", err)
	}
	return nil
}

func (c *Correlator) SelectPolarization(ctx context.Context, pol int) error {
	if !c.connected {
		return corr.NewDeviceError(c.Name(), "select polarization", fmt.Errorf("not connected"))
	}
	if _, err := c.run(ctx, "pol", strconv.Itoa(pol)); err != nil {
		return corr.NewDeviceError(c.Name(), "select polarization", err)
	}
	return nil
}

func (c *Correlator) PollSnapshot(ctx context.Context, antenna string, pol int) (corr.Snapshot, error) {
	if !c.connected {
		return nil, corr.NewDeviceError(c.Name(), "poll snapshot", fmt.Errorf("not connected"))
	}
	out, err := c.run(ctx, "snap", antenna, strconv.Itoa(pol))
	if err != nil {
		return nil, corr.NewDeviceError(c.Name(), "poll snapshot", err)
	}
	snap, err := ParseSnapshot(bytes.NewReader(out), c.Cfg.Snapshot.SnapLen)
	if err != nil {
		return nil, corr.NewDeviceError(c.Name(), "poll snapshot", err)
	}
	return snap, nil
}

// ParseSnapshot reads one sample per line until EOF. Blank lines and lines
// starting with '#' are skipped. size is a capacity hint.
func ParseSnapshot(r io.Reader, size int) (corr.Snapshot, error) {
	snap := make(corr.Snapshot, 0, size)
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		s, err := parseSample(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		snap = append(snap, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return snap, nil
}

func parseSample(text string) (complex128, error) {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	switch len(fields) {
	case 1:
		re, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return 0, err
		}
		return complex(re, 0), nil
	case 2:
		re, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return 0, err
		}
		im, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return 0, err
		}
		return complex(re, im), nil
	default:
		return 0, fmt.Errorf("expected 1 or 2 values, got %d in %q", len(fields), text)
	}
}
