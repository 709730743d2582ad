package filter

import (
	"fmt"

	"github.com/golang/glog"

	"github.com/hb9tf/finechan/demux"
)

type Filterer interface {
	ShouldIgnore(channel int) bool
	// Reason explains why a channel is ignored.
	Reason(channel int) string
}

// Filter returns the channels no filter ignores, in input order, together
// with the reason for every ignored channel.
func Filter(channels []int, filters []Filterer) ([]int, map[int]string) {
	kept := make([]int, 0, len(channels))
	dropped := map[int]string{}
	for _, ch := range channels {
		skip := false
		for _, f := range filters {
			if f.ShouldIgnore(ch) {
				dropped[ch] = f.Reason(ch)
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		kept = append(kept, ch)
	}
	return kept, dropped
}

// FilterRange ignores channels that do not address a stream of the snapshot.
type FilterRange struct {
	CoarseChans int
}

func (f *FilterRange) ShouldIgnore(ch int) bool {
	return !demux.ValidChannel(f.CoarseChans, ch)
}

func (f *FilterRange) Reason(ch int) string {
	return fmt.Sprintf("channel %d out of range [0, %d)", ch, demux.Stride(f.CoarseChans))
}

// FilterAvailable ignores channels a source does not provide.
type FilterAvailable struct {
	Source    string
	Available []int
}

func (f *FilterAvailable) ShouldIgnore(ch int) bool {
	for _, a := range f.Available {
		if a == ch {
			return false
		}
	}
	return true
}

func (f *FilterAvailable) Reason(ch int) string {
	return fmt.Sprintf("can't find requested channel %d in data from %s", ch, f.Source)
}

// Drop applies filters and logs a warning for each removed channel.
func Drop(channels []int, filters ...Filterer) []int {
	kept, dropped := Filter(channels, filters)
	for _, ch := range channels {
		if reason, ok := dropped[ch]; ok {
			glog.Warningf("%s, removing from channel list", reason)
		}
	}
	return kept
}
