package acquire

import (
	"fmt"
	"strconv"
	"strings"
)

// Unlimited accumulations keep the runner going until it is interrupted.
const Unlimited = -1

// ConfigurationError reports invalid user input. It is always raised before
// the hardware is touched.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Message
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Message)
}

func configErrorf(field, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}

type Options struct {
	// Run identifies this acquisition in capture files and exports.
	Run     string
	Antenna string
	Pol     int
	// Channels are the coarse channels to process.
	Channels []int
	// Accumulations is the number of rounds, or Unlimited.
	Accumulations int
	// FineChans overrides the config's n_chans when positive.
	FineChans int
	ReadFile  string
	WriteFile string
}

func (o *Options) Validate() error {
	if len(o.Channels) == 0 {
		return configErrorf("coarse_chans", "you must specify at least one coarse channel")
	}
	if o.ReadFile != "" && o.WriteFile != "" {
		return configErrorf("readfile", "can't read from file and write to file at once")
	}
	if o.Accumulations != Unlimited && o.Accumulations < 1 {
		return configErrorf("accumulations", "must be %d or at least 1, got %d", Unlimited, o.Accumulations)
	}
	if o.FineChans != -1 && o.FineChans < 1 {
		return configErrorf("finechans", "must be -1 or at least 1, got %d", o.FineChans)
	}
	if o.Pol != 0 && o.Pol != 1 {
		return configErrorf("pol", "must be 0 or 1, got %d", o.Pol)
	}
	return nil
}

// ParseChannels parses a comma separated channel list. Duplicates are
// removed, the first occurrence keeps its position.
func ParseChannels(list string) ([]int, error) {
	list = strings.TrimSpace(list)
	if list == "" {
		return nil, configErrorf("coarse_chans", "you must specify at least one coarse channel")
	}
	var chans []int
	seen := map[int]bool{}
	for _, s := range strings.Split(list, ",") {
		ch, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return nil, configErrorf("coarse_chans", "%q is not a channel number", s)
		}
		if seen[ch] {
			continue
		}
		seen[ch] = true
		chans = append(chans, ch)
	}
	return chans, nil
}
