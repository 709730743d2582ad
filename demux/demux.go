// Package demux de-interleaves coarse channelizer snapshots.
//
// A snapshot carries 2 x coarseChans interleaved streams: the real/imag pair
// layout of each coarse channel is doubled because the hardware runs two
// parallel data paths. Stream k of a snapshot is every (2 x coarseChans)-th
// sample starting at offset k.
package demux

import "fmt"

// Stride returns the distance between consecutive samples of one stream.
func Stride(coarseChans int) int {
	return 2 * coarseChans
}

// ValidChannel reports whether channel addresses a stream of the snapshot.
func ValidChannel(coarseChans, channel int) bool {
	return channel >= 0 && channel < Stride(coarseChans)
}

// Channel returns raw[channel], raw[channel+stride], ... in order.
// The result is a new slice; raw is not modified.
func Channel(raw []complex128, coarseChans, channel int) []complex128 {
	stride := Stride(coarseChans)
	if stride <= 0 || channel < 0 || channel >= len(raw) {
		return nil
	}
	out := make([]complex128, 0, (len(raw)-channel-1)/stride+1)
	for i := channel; i < len(raw); i += stride {
		out = append(out, raw[i])
	}
	return out
}

// Channels demultiplexes raw once for every requested channel.
func Channels(raw []complex128, coarseChans int, channels []int) (map[int][]complex128, error) {
	out := make(map[int][]complex128, len(channels))
	for _, ch := range channels {
		if !ValidChannel(coarseChans, ch) {
			return nil, fmt.Errorf("channel %d out of range [0, %d)", ch, Stride(coarseChans))
		}
		out[ch] = Channel(raw, coarseChans, ch)
	}
	return out, nil
}

// SamplesPerSnapshot is the number of samples one channel receives from a
// snapshot of snapLen samples.
func SamplesPerSnapshot(snapLen, coarseChans int) int {
	if coarseChans <= 0 {
		return 0
	}
	return snapLen / Stride(coarseChans)
}
