package corr

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultSnapLen = 1024

	DriverSnapTool = "snaptool"
	DriverSim      = "sim"
)

// Config is the correlator configuration file. Only the values the fine
// channelizer needs are decoded, everything else in the file is ignored.
type Config struct {
	Path string `mapstructure:"-"`

	Correlator CorrelatorConfig `mapstructure:"correlator"`
	Snapshot   SnapshotConfig   `mapstructure:"snapshot"`
	Sim        SimConfig        `mapstructure:"sim"`
}

type CorrelatorConfig struct {
	Mode        string `mapstructure:"mode"`
	NChans      int    `mapstructure:"n_chans"`
	CoarseChans int    `mapstructure:"coarse_chans"`
}

type SnapshotConfig struct {
	// SnapLen is the number of samples in one snapshot poll.
	SnapLen int           `mapstructure:"snap_len"`
	Driver  string        `mapstructure:"driver"`
	Command string        `mapstructure:"command"`
	Host    string        `mapstructure:"host"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SimConfig struct {
	ToneBin   int     `mapstructure:"tone_bin"`
	Amplitude float64 `mapstructure:"amplitude"`
	Noise     float64 `mapstructure:"noise"`
	Seed      int64   `mapstructure:"seed"`
}

// Narrowband reports whether the configured mode is one of the narrowband modes.
func (c *Config) Narrowband() bool {
	mode := strings.ToLower(strings.TrimSpace(c.Correlator.Mode))
	return strings.HasPrefix(mode, "nb") || strings.HasPrefix(mode, "narrowband")
}

// Streams is the number of interleaved streams in a snapshot, which is also
// the demultiplexing stride.
func (c *Config) Streams() int {
	return 2 * c.Correlator.CoarseChans
}

// LoadConfig reads the correlator configuration file at path. Files with an
// extension viper does not know are parsed as TOML, which accepts the
// [section] key = value layout of classic correlator config files.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("no correlator config file specified")
	}

	v := viper.New()
	v.SetConfigFile(path)
	switch ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")); ext {
	case "json", "toml", "yaml", "yml":
		v.SetConfigType(ext)
	default:
		v.SetConfigType("toml")
	}
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("unable to read correlator config %q: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode correlator config %q: %w", path, err)
	}
	cfg.Path = path

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid correlator config %q: %w", path, err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("snapshot.snap_len", DefaultSnapLen)
	v.SetDefault("snapshot.driver", DriverSnapTool)
	v.SetDefault("snapshot.command", "corr_snap")
	v.SetDefault("snapshot.timeout", 10*time.Second)

	v.SetDefault("sim.tone_bin", 0)
	v.SetDefault("sim.amplitude", 1.0)
	v.SetDefault("sim.noise", 0.0)
	v.SetDefault("sim.seed", 1)
}

func (c *Config) Validate() error {
	if c.Correlator.CoarseChans <= 0 {
		return fmt.Errorf("coarse_chans must be positive, got %d", c.Correlator.CoarseChans)
	}
	if c.Correlator.NChans <= 0 {
		return fmt.Errorf("n_chans must be positive, got %d", c.Correlator.NChans)
	}
	if c.Snapshot.SnapLen <= 0 {
		return fmt.Errorf("snap_len must be positive, got %d", c.Snapshot.SnapLen)
	}
	if c.Snapshot.SnapLen%c.Streams() != 0 {
		return fmt.Errorf("snap_len %d is not a multiple of 2 x coarse_chans (%d)", c.Snapshot.SnapLen, c.Streams())
	}
	switch c.Snapshot.Driver {
	case DriverSnapTool, DriverSim:
	default:
		return fmt.Errorf("%q is not a supported snapshot driver, pick one of: %s, %s", c.Snapshot.Driver, DriverSnapTool, DriverSim)
	}
	return nil
}
