package corr

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigSectionFile(t *testing.T) {
	path := writeConfig(t, "nb.conf", `
[correlator]
mode = "narrowband"
n_chans = 4096
coarse_chans = 4

[snapshot]
driver = "sim"
timeout = "3s"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, 4096, cfg.Correlator.NChans)
	assert.Equal(t, 4, cfg.Correlator.CoarseChans)
	assert.Equal(t, DefaultSnapLen, cfg.Snapshot.SnapLen)
	assert.Equal(t, DriverSim, cfg.Snapshot.Driver)
	assert.Equal(t, 3*time.Second, cfg.Snapshot.Timeout)
	assert.Equal(t, 8, cfg.Streams())
	assert.True(t, cfg.Narrowband())
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeConfig(t, "corr.yaml", `
correlator:
  mode: wb
  n_chans: 4
  coarse_chans: 2
snapshot:
  snap_len: 8
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Snapshot.SnapLen)
	assert.Equal(t, DriverSnapTool, cfg.Snapshot.Driver)
	assert.False(t, cfg.Narrowband())
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no coarse chans", "[correlator]\nn_chans = 16\n"},
		{"no fine chans", "[correlator]\ncoarse_chans = 2\n"},
		{"snap len not multiple", "[correlator]\nn_chans = 16\ncoarse_chans = 3\n[snapshot]\nsnap_len = 8\n"},
		{"unknown driver", "[correlator]\nn_chans = 16\ncoarse_chans = 2\n[snapshot]\ndriver = \"roach\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, "c.conf", tt.content))
			assert.Error(t, err)
		})
	}

	_, err := LoadConfig("")
	assert.Error(t, err)
	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.conf"))
	assert.Error(t, err)
}

func TestDeviceError(t *testing.T) {
	cause := os.ErrDeadlineExceeded
	err := NewDeviceError("roach", "connect", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "roach: connect failed: "+cause.Error(), err.Error())
}

func TestOffline(t *testing.T) {
	o := &Offline{Cfg: &Config{Correlator: CorrelatorConfig{Mode: "nb_4k"}}}
	assert.True(t, o.IsNarrowband())
	assert.NoError(t, o.Connect(context.Background()))
	_, err := o.PollSnapshot(context.Background(), "0x", 0)
	var devErr *DeviceError
	assert.ErrorAs(t, err, &devErr)
}
