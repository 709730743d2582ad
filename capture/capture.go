// Package capture persists raw per-channel acquisition data and replays it.
//
// A capture file is a plain concatenation of records without header or
// record count. Every record is one zstd frame holding one JSON document, so
// a record can be appended without reading the file and the file can be
// decoded as a single stream.
package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/golang/glog"
	"github.com/klauspost/compress/zstd"

	"github.com/hb9tf/finechan/source"
)

var (
	ErrCaptureFileConflict   = errors.New("capture file already exists")
	ErrCaptureFileUnreadable = errors.New("capture file unreadable")
)

// Record is the raw data of one acquisition round.
type Record struct {
	Run     string
	Round   int
	Time    time.Time
	Samples source.Batch
}

// record is the on-disk form of Record. JSON has no complex numbers, samples
// are stored as [re, im] pairs.
type record struct {
	Run     string               `json:"run,omitempty"`
	Round   int                  `json:"round"`
	Time    int64                `json:"timeUnixMilli,omitempty"`
	Samples map[int][][2]float64 `json:"samples"`
}

func toDisk(r Record) record {
	out := record{
		Run:     r.Run,
		Round:   r.Round,
		Samples: make(map[int][][2]float64, len(r.Samples)),
	}
	if !r.Time.IsZero() {
		out.Time = r.Time.UnixMilli()
	}
	for ch, samples := range r.Samples {
		pairs := make([][2]float64, len(samples))
		for i, s := range samples {
			pairs[i] = [2]float64{real(s), imag(s)}
		}
		out.Samples[ch] = pairs
	}
	return out
}

func fromDisk(r record) Record {
	out := Record{
		Run:     r.Run,
		Round:   r.Round,
		Samples: make(source.Batch, len(r.Samples)),
	}
	if r.Time != 0 {
		out.Time = time.UnixMilli(r.Time)
	}
	for ch, pairs := range r.Samples {
		samples := make([]complex128, len(pairs))
		for i, p := range pairs {
			samples[i] = complex(p[0], p[1])
		}
		out.Samples[ch] = samples
	}
	return out
}

// Recorder appends records to a capture file. The file is opened and closed
// for every record so a crash only loses the record being written.
type Recorder struct {
	Path string
	Run  string

	written int
}

// NewRecorder claims path for writing. It refuses to touch an existing file.
func NewRecorder(path, run string) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: refusing to overwrite %q", ErrCaptureFileConflict, path)
		}
		return nil, fmt.Errorf("unable to create capture file %q: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("unable to create capture file %q: %w", path, err)
	}
	return &Recorder{
		Path: path,
		Run:  run,
	}, nil
}

// Written returns the number of records appended by this recorder.
func (r *Recorder) Written() int {
	return r.written
}

// Write appends the per-channel data of one round as a single record.
func (r *Recorder) Write(round int, samples source.Batch) error {
	body, err := json.Marshal(toDisk(Record{
		Run:     r.Run,
		Round:   round,
		Time:    time.Now(),
		Samples: samples,
	}))
	if err != nil {
		return fmt.Errorf("unable to encode capture record: %w", err)
	}

	f, err := os.OpenFile(r.Path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("unable to open capture file %q: %w", r.Path, err)
	}
	zw, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return err
	}
	if _, err := zw.Write(body); err != nil {
		zw.Close()
		f.Close()
		return fmt.Errorf("unable to write capture record to %q: %w", r.Path, err)
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return fmt.Errorf("unable to write capture record to %q: %w", r.Path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("unable to close capture file %q: %w", r.Path, err)
	}
	r.written++
	glog.V(1).Infof("wrote capture record %d (round %d, %d channels) to %s", r.written, round, len(samples), r.Path)
	return nil
}

// ReadAll decodes every record of the capture file in file order. A record
// cut short at the end of the file is skipped with a warning.
func ReadAll(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %s", ErrCaptureFileUnreadable, path, err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads records from r until the end of the stream.
func Decode(r io.Reader) ([]Record, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var records []Record
	dec := json.NewDecoder(zr)
	for {
		var rec record
		err := dec.Decode(&rec)
		if err == io.EOF {
			return records, nil
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			glog.Warningf("capture ends with a truncated record after %d records, ignoring it", len(records))
			return records, nil
		}
		if err != nil {
			return records, fmt.Errorf("unable to decode capture record %d: %w", len(records)+1, err)
		}
		records = append(records, fromDisk(rec))
	}
}

// Merge concatenates the samples of same-channel records in record order.
func Merge(records []Record) source.Batch {
	merged := source.Batch{}
	for _, rec := range records {
		merged.Extend(rec.Samples)
	}
	return merged
}

// Replay serves the merged content of a capture file as a single batch and
// reports source.ErrEndOfCapture afterwards.
type Replay struct {
	Path string

	data   source.Batch
	served bool
}

func NewReplay(path string) (*Replay, error) {
	glog.Infof("Reading from file %s", path)
	records, err := ReadAll(path)
	if err != nil {
		return nil, err
	}
	glog.V(1).Infof("read %d capture records from %s", len(records), path)
	return &Replay{
		Path: path,
		data: Merge(records),
	}, nil
}

func (r *Replay) Name() string {
	return "replay:" + r.Path
}

// Channels returns the channels present in the capture file.
func (r *Replay) Channels() []int {
	return r.data.Channels()
}

func (r *Replay) Next(ctx context.Context, channels []int) (source.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.served {
		return nil, source.ErrEndOfCapture
	}
	r.served = true

	out := make(source.Batch, len(channels))
	for _, ch := range channels {
		if samples, ok := r.data[ch]; ok {
			out[ch] = samples
		}
	}
	return out, nil
}
