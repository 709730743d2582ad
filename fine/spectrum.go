package fine

import (
	"fmt"
	"math/cmplx"
	"sort"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"

	"github.com/hb9tf/finechan/source"
)

// Spectrum is the running sum of fine FFT magnitudes per coarse channel.
// Values only ever grow; the spectrum is owned by a single accumulation loop.
type Spectrum struct {
	nChans int
	fft    *fourier.CmplxFFT

	acc      map[int][]float64
	segments map[int]int
	rounds   int

	// scratch buffers reused across segments.
	coeffs []complex128
	mag    []float64
}

func NewSpectrum(nChans int, channels []int) (*Spectrum, error) {
	if nChans <= 0 {
		return nil, fmt.Errorf("fine channel count must be positive, got %d", nChans)
	}
	s := &Spectrum{
		nChans:   nChans,
		fft:      fourier.NewCmplxFFT(nChans),
		acc:      make(map[int][]float64, len(channels)),
		segments: make(map[int]int, len(channels)),
		coeffs:   make([]complex128, nChans),
		mag:      make([]float64, nChans),
	}
	for _, ch := range channels {
		s.acc[ch] = make([]float64, nChans)
	}
	return s, nil
}

func (s *Spectrum) NChans() int {
	return s.nChans
}

// Rounds returns the number of completed AddRound calls.
func (s *Spectrum) Rounds() int {
	return s.rounds
}

// Channels returns the accumulated channels in ascending order.
func (s *Spectrum) Channels() []int {
	chans := make([]int, 0, len(s.acc))
	for ch := range s.acc {
		chans = append(chans, ch)
	}
	sort.Ints(chans)
	return chans
}

// Channel returns a copy of the accumulated magnitudes of ch, or nil if ch is
// not accumulated.
func (s *Spectrum) Channel(ch int) []float64 {
	v, ok := s.acc[ch]
	if !ok {
		return nil
	}
	return append([]float64(nil), v...)
}

// Segments returns how many fine FFT segments have been summed into ch.
func (s *Spectrum) Segments(ch int) int {
	return s.segments[ch]
}

// AddRound sums |FFT| of every complete nChans-long segment of each
// channel's series into the accumulation. Trailing samples that do not fill a
// segment are discarded, they are not kept for the next round. Series for
// channels that are not accumulated are ignored. It returns the number of
// segments processed per channel.
func (s *Spectrum) AddRound(series source.Batch) map[int]int {
	done := make(map[int]int, len(s.acc))
	for ch, acc := range s.acc {
		data := series[ch]
		n := len(data) / s.nChans
		for i := 0; i < n; i++ {
			s.magnitude(data[i*s.nChans : (i+1)*s.nChans])
			floats.Add(acc, s.mag)
		}
		s.segments[ch] += n
		done[ch] = n
	}
	s.rounds++
	return done
}

func (s *Spectrum) magnitude(segment []complex128) {
	s.fft.Coefficients(s.coeffs, segment)
	for i, c := range s.coeffs {
		s.mag[i] = cmplx.Abs(c)
	}
}
