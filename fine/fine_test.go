package fine

import (
	"context"
	"errors"
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hb9tf/finechan/demux"
	"github.com/hb9tf/finechan/source"
)

// dft is the textbook O(n^2) transform used as reference.
func dft(x []complex128) []complex128 {
	n := len(x)
	out := make([]complex128, n)
	for k := 0; k < n; k++ {
		for j, v := range x {
			out[k] += v * cmplx.Exp(complex(0, -2*math.Pi*float64(j*k)/float64(n)))
		}
	}
	return out
}

func absAll(x []complex128) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = cmplx.Abs(v)
	}
	return out
}

// snapshotSource demultiplexes a fixed list of snapshots, then reports the
// end of the capture.
type snapshotSource struct {
	coarse int
	snaps  [][]complex128
	reads  int
}

func (s *snapshotSource) Name() string { return "snapshots" }

func (s *snapshotSource) Next(ctx context.Context, channels []int) (source.Batch, error) {
	if s.reads >= len(s.snaps) {
		return nil, source.ErrEndOfCapture
	}
	b, err := demux.Channels(s.snaps[s.reads], s.coarse, channels)
	s.reads++
	return source.Batch(b), err
}

type failingSource struct{ err error }

func (f failingSource) Name() string { return "failing" }
func (f failingSource) Next(ctx context.Context, channels []int) (source.Batch, error) {
	return nil, f.err
}

// interruptedSource delivers one snapshot, then cancels the round's context
// and fails the way a killed driver does.
type interruptedSource struct {
	snapshotSource
	cancel context.CancelFunc
}

func (s *interruptedSource) Next(ctx context.Context, channels []int) (source.Batch, error) {
	if s.reads == 0 {
		return s.snapshotSource.Next(ctx, channels)
	}
	s.cancel()
	return nil, errors.New("signal: killed")
}

func TestRequiredBatches(t *testing.T) {
	n, err := RequiredBatches(4, 8, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = RequiredBatches(4096, 1024, 4)
	require.NoError(t, err)
	assert.Equal(t, 32, n)

	n, err = RequiredBatches(3, 8, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = RequiredBatches(4, 2, 2)
	assert.Error(t, err)
	_, err = RequiredBatches(0, 8, 2)
	assert.Error(t, err)
}

func TestAccumulateRound(t *testing.T) {
	src := &snapshotSource{
		coarse: 2,
		snaps: [][]complex128{
			{0, 1, 2, 3, 4, 5, 6, 7},
			{8, 9, 10, 11, 12, 13, 14, 15},
			{16, 17, 18, 19, 20, 21, 22, 23},
		},
	}
	res, err := AccumulateRound(context.Background(), src, []int{1, 2}, 2)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Batches)
	assert.False(t, res.Exhausted)
	assert.Equal(t, []complex128{1, 5, 9, 13}, res.Series[1])
	assert.Equal(t, []complex128{2, 6, 10, 14}, res.Series[2])
	assert.Equal(t, 2, src.reads)
}

func TestAccumulateRoundExhausted(t *testing.T) {
	src := &snapshotSource{coarse: 2, snaps: [][]complex128{{0, 1, 2, 3, 4, 5, 6, 7}}}
	res, err := AccumulateRound(context.Background(), src, []int{0}, 5)
	require.NoError(t, err)

	assert.True(t, res.Exhausted)
	assert.Equal(t, 1, res.Batches)
	assert.Equal(t, []complex128{0, 4}, res.Series[0])

	empty := &snapshotSource{coarse: 2}
	res, err = AccumulateRound(context.Background(), empty, []int{0}, 5)
	require.NoError(t, err)
	assert.True(t, res.Exhausted)
	assert.Empty(t, res.Series[0])
	assert.Contains(t, res.Series, 0)
}

func TestAccumulateRoundErrors(t *testing.T) {
	cause := errors.New("device gone")
	_, err := AccumulateRound(context.Background(), failingSource{cause}, []int{0}, 2)
	assert.ErrorIs(t, err, cause)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &snapshotSource{coarse: 2, snaps: [][]complex128{{0, 1, 2, 3, 4, 5, 6, 7}}}
	_, err = AccumulateRound(ctx, src, []int{0}, 2)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, src.reads)
}

func TestAccumulateRoundInterruptedDuringRead(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &interruptedSource{
		snapshotSource: snapshotSource{coarse: 2, snaps: [][]complex128{{0, 1, 2, 3, 4, 5, 6, 7}}},
		cancel:         cancel,
	}

	res, err := AccumulateRound(ctx, src, []int{1}, 3)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotContains(t, err.Error(), "killed")
	assert.Equal(t, 1, res.Batches)
	assert.Equal(t, []complex128{1, 5}, res.Series[1])
}

func TestAddRoundSingleSegment(t *testing.T) {
	s, err := NewSpectrum(4, []int{1})
	require.NoError(t, err)

	series := []complex128{1, 5, 9, 13}
	done := s.AddRound(source.Batch{1: series})

	assert.Equal(t, map[int]int{1: 1}, done)
	assert.InDeltaSlice(t, absAll(dft(series)), s.Channel(1), 1e-9)
	assert.Equal(t, 1, s.Rounds())
	assert.Equal(t, 1, s.Segments(1))
}

func TestAddRoundEndToEnd(t *testing.T) {
	src := &snapshotSource{
		coarse: 2,
		snaps: [][]complex128{
			{0, 1, 2, 3, 4, 5, 6, 7},
			{8, 9, 10, 11, 12, 13, 14, 15},
		},
	}
	required, err := RequiredBatches(4, 8, 2)
	require.NoError(t, err)
	res, err := AccumulateRound(context.Background(), src, []int{1}, required)
	require.NoError(t, err)

	s, err := NewSpectrum(4, []int{1})
	require.NoError(t, err)
	s.AddRound(res.Series)

	// |FFT([1,5,9,13])| = [28, |-8+8i|, 8, |-8-8i|]
	want := []float64{28, 8 * math.Sqrt2, 8, 8 * math.Sqrt2}
	assert.InDeltaSlice(t, want, s.Channel(1), 1e-9)
}

func TestAddRoundRepeatedScales(t *testing.T) {
	series := source.Batch{
		0: {1, 2i, -3, 4 - 1i, 0.5, -2i, 7, 1 + 1i},
		3: {2, 2, 2, 2, -1, 1, -1, 1},
	}
	single, err := NewSpectrum(4, []int{0, 3})
	require.NoError(t, err)
	single.AddRound(series)

	const rounds = 7
	repeated, err := NewSpectrum(4, []int{0, 3})
	require.NoError(t, err)
	for i := 0; i < rounds; i++ {
		repeated.AddRound(series)
	}

	for _, ch := range []int{0, 3} {
		want := single.Channel(ch)
		for i := range want {
			want[i] *= rounds
		}
		assert.InDeltaSlice(t, want, repeated.Channel(ch), 1e-9)
		assert.Equal(t, 2*rounds, repeated.Segments(ch))
	}
	assert.Equal(t, rounds, repeated.Rounds())
}

func TestAddRoundDiscardsRemainder(t *testing.T) {
	const nChans = 4
	series := []complex128{1, 2, 3, 4, 5, 6, 7, 8, 100, 200}
	s, err := NewSpectrum(nChans, []int{0})
	require.NoError(t, err)

	done := s.AddRound(source.Batch{0: series})
	assert.Equal(t, 2, done[0])

	want := absAll(dft(series[:4]))
	second := absAll(dft(series[4:8]))
	for i := range want {
		want[i] += second[i]
	}
	assert.InDeltaSlice(t, want, s.Channel(0), 1e-9)

	// Nothing carries over into the next round.
	done = s.AddRound(source.Batch{0: nil})
	assert.Equal(t, 0, done[0])
	assert.InDeltaSlice(t, want, s.Channel(0), 1e-9)
}

func TestAddRoundMonotonic(t *testing.T) {
	s, err := NewSpectrum(8, []int{2})
	require.NoError(t, err)
	prev := s.Channel(2)
	for r := 0; r < 5; r++ {
		series := make([]complex128, 8*(r+1))
		for i := range series {
			series[i] = complex(math.Sin(float64(i*r)), math.Cos(float64(i)))
		}
		s.AddRound(source.Batch{2: series})
		cur := s.Channel(2)
		for i := range cur {
			assert.GreaterOrEqual(t, cur[i], prev[i])
		}
		prev = cur
	}
}

func TestSpectrumChannels(t *testing.T) {
	s, err := NewSpectrum(4, []int{5, 1, 3})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 5}, s.Channels())
	assert.Equal(t, 4, s.NChans())

	assert.Nil(t, s.Channel(2))

	// Unknown channels in a round are ignored.
	done := s.AddRound(source.Batch{9: {1, 2, 3, 4}})
	assert.NotContains(t, done, 9)

	_, err = NewSpectrum(0, nil)
	assert.Error(t, err)
}
