package rigol

import "math"

const (
	// MinFrequency is the lowest sine frequency, in Hz
	MinFrequency = 100e-3

	// MaxFrequency is the highest sine frequency, in Hz
	MaxFrequency = 25e6
)

// SineConfig is the configuration of a sine wave on one channel.
// Amplitude is in Vpp, Offset in V, Phase in degrees.
type SineConfig struct {
	Frequency float64   `json:"frequency"`
	Channel   int       `json:"channel"`
	Amplitude float64   `json:"amplitude"`
	Offset    float64   `json:"offset"`
	Phase     float64   `json:"phase"`
	Impedance Impedance `json:"impedance"`
}

// NewSineConfig returns a 100 mVpp sine with no offset or phase on channel 1,
// calibrated for a high impedance load
func NewSineConfig(frequency float64) SineConfig {
	return SineConfig{
		Frequency: frequency,
		Channel:   1,
		Amplitude: 0.1,
		Impedance: HighZ,
	}
}

// Validate returns a *UsageError naming the first constraint c violates
func (c SineConfig) Validate() error {
	const op = "sine"
	if !c.Impedance.Valid() {
		return usage(op, "impedance must be 50ohm or highz, got %v", c.Impedance)
	}
	for _, v := range []float64{c.Frequency, c.Amplitude, c.Offset, c.Phase} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return usage(op, "parameters must be finite, got %v", c)
		}
	}
	if c.Frequency < MinFrequency || c.Frequency > MaxFrequency {
		return usage(op, "frequency must be in [%g, %g] Hz, got %g", MinFrequency, MaxFrequency, c.Frequency)
	}
	if err := checkChannel(op, c.Channel); err != nil {
		return err
	}
	minAmp, maxSwing := 20e-3, 5.0
	if c.Impedance == FiftyOhm {
		minAmp, maxSwing = 10e-3, 2.5
	}
	if c.Amplitude < minAmp {
		return usage(op, "amplitude into %v must be at least %g V, got %g", c.Impedance, minAmp, c.Amplitude)
	}
	if c.Amplitude+c.Offset >= maxSwing {
		return usage(op, "amplitude + offset into %v must be below %g V, got %g", c.Impedance, maxSwing, c.Amplitude+c.Offset)
	}
	if c.Offset < 0 {
		return usage(op, "offset must not be negative, got %g", c.Offset)
	}
	if c.Phase < 0 || c.Phase > 360 {
		return usage(op, "phase must be in [0, 360] degrees, got %g", c.Phase)
	}
	return nil
}

// Sine configures a channel to output a sine wave.  The channel is turned
// off first and left off; call Activate to energize the output.  Nothing is
// sent if the configuration is invalid.
func (f *FunctionGenerator) Sine(c SineConfig) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := f.Deactivate(c.Channel); err != nil {
		return err
	}
	cmds := [][2]string{
		{"function", "sinusoid"},
		{"frequency", formatFloat(c.Frequency)},
		{"voltage", formatFloat(c.Amplitude)},
		{"voltage:offset", formatFloat(c.Offset)},
		{"phase", formatFloat(c.Phase)},
		{"output:impedance", c.Impedance.Command()},
	}
	for _, cmd := range cmds {
		if err := f.scpi.Write(source(c.Channel, cmd[0]), cmd[1]); err != nil {
			return err
		}
	}
	f.log.WithField("channel", c.Channel).Debugf("configured %g Hz sine, %g Vpp", c.Frequency, c.Amplitude)
	return nil
}
