package corr

import (
	"context"
	"fmt"
)

// Snapshot is one poll of the coarse channelizer snapshot block: SnapLen
// time-interleaved complex samples spanning 2 x CoarseChans logical streams.
type Snapshot []complex128

// Correlator is the hardware collaborator. Implementations only wrap a vendor
// tool or device; they do not buffer or reorder snapshot data.
type Correlator interface {
	Name() string
	Config() *Config
	IsNarrowband() bool

	Connect(ctx context.Context) error
	Disconnect() error

	// SelectPolarization routes the given polarization into the snapshot block.
	SelectPolarization(ctx context.Context, pol int) error
	// PollSnapshot reads one snapshot for antenna and the selected polarization.
	PollSnapshot(ctx context.Context, antenna string, pol int) (Snapshot, error)
}

type DeviceError struct {
	Device string
	Op     string
	Err    error
}

func (e *DeviceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s failed: %s", e.Device, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s failed", e.Device, e.Op)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

func NewDeviceError(device, op string, err error) *DeviceError {
	return &DeviceError{
		Device: device,
		Op:     op,
		Err:    err,
	}
}

// Offline exposes a correlator configuration without any hardware behind it.
// It is used when replaying a capture file.
type Offline struct {
	Cfg *Config
}

func (o *Offline) Name() string {
	return "offline"
}

func (o *Offline) Config() *Config {
	return o.Cfg
}

func (o *Offline) IsNarrowband() bool {
	return o.Cfg.Narrowband()
}

func (o *Offline) Connect(ctx context.Context) error {
	return nil
}

func (o *Offline) Disconnect() error {
	return nil
}

func (o *Offline) SelectPolarization(ctx context.Context, pol int) error {
	return nil
}

func (o *Offline) PollSnapshot(ctx context.Context, antenna string, pol int) (Snapshot, error) {
	return nil, NewDeviceError(o.Name(), "poll snapshot", fmt.Errorf("no hardware attached"))
}
