package export

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// YAML emits one document per Write call.
type YAML struct {
	W io.Writer

	enc *yaml.Encoder
}

func (y *YAML) Write(ctx context.Context, spectra []Spectrum) error {
	if y.enc == nil {
		out := y.W
		if out == nil {
			out = os.Stdout
		}
		y.enc = yaml.NewEncoder(out)
		y.enc.SetIndent(2)
	}
	if err := y.enc.Encode(spectra); err != nil {
		return fmt.Errorf("unable to encode YAML report: %w", err)
	}
	return nil
}

func (y *YAML) Close() error {
	if y.enc == nil {
		return nil
	}
	return y.enc.Close()
}
