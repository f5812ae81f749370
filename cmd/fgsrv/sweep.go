package main

import (
	"fmt"
	"io"
	"time"

	"github.com/golab-hw/fgctl/rigol"
	"github.com/golab-hw/fgctl/scpi"
	"github.com/golab-hw/fgctl/util"
	"github.com/sirupsen/logrus"
	"github.com/theckman/yacspin"
	"go.uber.org/multierr"
)

// Sweep is a stepped sine frequency sweep on one channel
type Sweep struct {
	Start, Stop, Step float64
	Channel           int
	Amplitude         float64
	Offset            float64
	Phase             float64
	Impedance         rigol.Impedance
	Dwell             time.Duration
}

// DefaultSweep steps from 1 kHz up to, not including, 2 kHz in 5 Hz steps,
// 0.5 Vpp at 90 degrees on channel 1, holding each frequency for 1 s
func DefaultSweep() Sweep {
	return Sweep{
		Start:     1000,
		Stop:      2000,
		Step:      5,
		Channel:   1,
		Amplitude: 0.5,
		Phase:     90,
		Impedance: rigol.HighZ,
		Dwell:     time.Second,
	}
}

// Configs returns the sine configuration of every step, validated up front
// so a bad sweep fails before the generator is touched
func (s Sweep) Configs() ([]rigol.SineConfig, error) {
	freqs := util.Arange(s.Start, s.Stop, s.Step)
	if len(freqs) == 0 {
		return nil, fmt.Errorf("sweep from %g to %g in steps of %g has no steps", s.Start, s.Stop, s.Step)
	}
	out := make([]rigol.SineConfig, len(freqs))
	for i, f := range freqs {
		c := rigol.SineConfig{
			Frequency: f,
			Channel:   s.Channel,
			Amplitude: s.Amplitude,
			Offset:    s.Offset,
			Phase:     s.Phase,
			Impedance: s.Impedance,
		}
		if err := c.Validate(); err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

type sweeper interface {
	Sine(rigol.SineConfig) error
	Activate(int) error
	DeactivateAll() error
	ClearErrors() ([]scpi.ErrorRecord, error)
}

// RunSweep steps fg through s, showing progress on w.  Both channels are
// turned off when the sweep ends, successfully or not, and any errors the
// generator queued are returned.
func RunSweep(fg sweeper, s Sweep, w io.Writer, log logrus.FieldLogger) (err error) {
	cfgs, err := s.Configs()
	if err != nil {
		return err
	}
	spinner, err := yacspin.New(yacspin.Config{
		Writer:            w,
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[11],
		Suffix:            " sweeping",
		SuffixAutoColon:   true,
		StopCharacter:     "✓",
		StopMessage:       "done",
		StopFailCharacter: "✗",
		StopFailMessage:   "failed",
	})
	if err != nil {
		return err
	}
	if err = spinner.Start(); err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, fg.DeactivateAll())
		recs, qerr := fg.ClearErrors()
		err = multierr.Combine(err, qerr, scpi.Combine(recs))
		if err != nil {
			spinner.StopFail()
			return
		}
		spinner.Stop()
	}()

	for i, c := range cfgs {
		spinner.Message(fmt.Sprintf("%d/%d %g Hz", i+1, len(cfgs), c.Frequency))
		if err = fg.Sine(c); err != nil {
			return err
		}
		if err = fg.Activate(c.Channel); err != nil {
			return err
		}
		log.WithField("frequency", c.Frequency).Debug("sweep step")
		time.Sleep(s.Dwell)
	}
	return nil
}
