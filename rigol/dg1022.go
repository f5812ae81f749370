// Package rigol provides an interface to Rigol DG1000 series function generators
package rigol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/golab-hw/fgctl/comm"
	"github.com/golab-hw/fgctl/scpi"
	"github.com/gotmc/query"
	"github.com/sirupsen/logrus"
)

const (
	// DACMin is the lowest sample value the arbitrary waveform DAC accepts
	DACMin = 0

	// DACMax is the highest sample value the arbitrary waveform DAC accepts (14 bits)
	DACMax = 16383

	// MaxSamples is the longest arbitrary waveform the generator stores
	MaxSamples = 4096

	// BlockSize is the number of samples sent per upload command
	BlockSize = 512
)

const (
	// DefaultModel is the only model this package has been tested against
	DefaultModel = "DG1022"

	// Manufacturer is the manufacturer reported in response to *IDN?
	Manufacturer = "RIGOL TECHNOLOGIES"

	idnPattern   = `(?P<manufacturer>[a-zA-Z0-9 ]+),(?P<model>[a-zA-Z0-9 ]+),(?P<serial>[A-Z0-9]+),(?P<edition>[0-9\.]+)`
	errorPattern = `(?P<errno>[+-][0-9]+),"(?P<errdesc>[a-zA-Z0-9 ]+)"`
)

// Grammars returns the response grammars for a generator whose model starts
// with one of models, or DefaultModel if none are given
func Grammars(models ...string) scpi.Table {
	if len(models) == 0 {
		models = []string{DefaultModel}
	}
	return scpi.Table{
		scpi.RequestIDN: scpi.MustGrammar(idnPattern, map[string][]string{
			"manufacturer": {Manufacturer},
			"model":        models,
		}),
		scpi.RequestError: scpi.MustGrammar(errorPattern, nil),
	}
}

// ErrUsage is matched by every *UsageError via errors.Is
var ErrUsage = errors.New("invalid usage")

// UsageError is a parameter outside what the generator accepts.  It is
// returned before any command is sent.
type UsageError struct {
	Op         string
	Constraint string
}

// Error satisfies stdlib error interface
func (e *UsageError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Constraint)
}

// Is makes errors.Is(err, ErrUsage) hold
func (e *UsageError) Is(target error) bool {
	return target == ErrUsage
}

// BadRequest is true; a UsageError is always the fault of the caller
func (e *UsageError) BadRequest() bool {
	return true
}

func usage(op, format string, a ...interface{}) error {
	return &UsageError{Op: op, Constraint: fmt.Sprintf(format, a...)}
}

// Impedance is the load the output is calibrated for
type Impedance int

const (
	// HighZ calibrates the output for a high impedance load
	HighZ Impedance = iota

	// FiftyOhm calibrates the output for a 50 ohm load
	FiftyOhm
)

// Command is the argument of source{ch}:output:impedance
func (i Impedance) Command() string {
	switch i {
	case FiftyOhm:
		return "fifty"
	case HighZ:
		return "omeg"
	default:
		return ""
	}
}

func (i Impedance) String() string {
	switch i {
	case FiftyOhm:
		return "50ohm"
	case HighZ:
		return "highz"
	default:
		return fmt.Sprintf("Impedance(%d)", int(i))
	}
}

// Valid is true for FiftyOhm and HighZ
func (i Impedance) Valid() bool {
	return i == FiftyOhm || i == HighZ
}

// MarshalText encodes the impedance as a string, e.g. in JSON
func (i Impedance) MarshalText() ([]byte, error) {
	if !i.Valid() {
		return nil, fmt.Errorf("invalid impedance %d", int(i))
	}
	return []byte(i.String()), nil
}

// UnmarshalText decodes the impedance from any of the strings ParseImpedance understands
func (i *Impedance) UnmarshalText(b []byte) error {
	v, err := ParseImpedance(string(b))
	if err != nil {
		return err
	}
	*i = v
	return nil
}

// ParseImpedance converts a string such as "50", "50ohm", "fifty",
// "highz" or "omeg" into an Impedance
func ParseImpedance(s string) (Impedance, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "50", "50ohm", "fifty":
		return FiftyOhm, nil
	case "highz", "high-z", "hiz", "omeg", "inf":
		return HighZ, nil
	default:
		return 0, fmt.Errorf("%w: impedance %q, must be 50ohm or highz", ErrUsage, s)
	}
}

func checkChannel(op string, ch int) error {
	if ch != 1 && ch != 2 {
		return usage(op, "channel must be 1 or 2, got %d", ch)
	}
	return nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'G', -1, 64)
}

// FunctionGenerator is an interface to a DG1022.  It holds no lock; only
// one goroutine may use a FunctionGenerator at a time.
type FunctionGenerator struct {
	scpi  *scpi.SCPI
	queue *scpi.ErrorQueue
	id    scpi.Identity
	log   logrus.FieldLogger
}

type options struct {
	models   []string
	log      logrus.FieldLogger
	maxDrain int
}

// Option configures a FunctionGenerator
type Option func(*options)

// WithModels replaces the supported model allow-list, e.g. to admit a DG1022U
func WithModels(models ...string) Option {
	return func(o *options) { o.models = models }
}

// WithLogger sets the logger for the generator and its SCPI traffic
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.log = l }
}

// WithMaxDrain bounds ClearErrors, see scpi.ErrorQueue.MaxDrain
func WithMaxDrain(n int) Option {
	return func(o *options) { o.maxDrain = n }
}

// NewFunctionGenerator identifies the instrument on t and returns a
// FunctionGenerator if it is a supported model.  An unsupported instrument
// is a *scpi.ProtocolViolation.
func NewFunctionGenerator(t comm.Transport, opts ...Option) (*FunctionGenerator, error) {
	o := options{log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	grammars := Grammars(o.models...)
	s := &scpi.SCPI{T: t, Log: o.log}
	id, err := scpi.Identify(s, grammars)
	if err != nil {
		return nil, fmt.Errorf("identifying function generator: %w", err)
	}
	o.log.Infof("Discovered a %s from %s", id.Model, id.Manufacturer)
	return &FunctionGenerator{
		scpi:  s,
		queue: &scpi.ErrorQueue{SCPI: s, Grammars: grammars, MaxDrain: o.maxDrain},
		id:    id,
		log:   o.log,
	}, nil
}

// Identity returns the identification read when the generator was created
func (f *FunctionGenerator) Identity() scpi.Identity {
	return f.id
}

// Raw sends a command to the generator and returns a response if it was a query
func (f *FunctionGenerator) Raw(s string) (string, error) {
	return f.scpi.Raw(s)
}

// ClearError pops one entry of the error queue, nil if it is empty
func (f *FunctionGenerator) ClearError() (*scpi.ErrorRecord, error) {
	return f.queue.ClearError()
}

// ClearErrors drains the error queue, in the order the generator reported the errors
func (f *FunctionGenerator) ClearErrors() ([]scpi.ErrorRecord, error) {
	errs, err := f.queue.ClearErrors()
	for _, e := range errs {
		f.log.WithField("code", e.Code).Warnf("function generator error: %s", e.Description)
	}
	return errs, err
}

// SetDisplayLuminance sets the brightness of the front panel, 1..31
func (f *FunctionGenerator) SetDisplayLuminance(n int) error {
	if n < 1 || n > 31 {
		return usage("display luminance", "must be in 1..31, got %d", n)
	}
	return f.scpi.Write("DISPlay:LUMInance", strconv.Itoa(n))
}

// SetDisplayContrast sets the contrast of the front panel, 0..31
func (f *FunctionGenerator) SetDisplayContrast(n int) error {
	if n < 0 || n > 31 {
		return usage("display contrast", "must be in 0..31, got %d", n)
	}
	return f.scpi.Write("DISPlay:CONTRAST", strconv.Itoa(n))
}

// SetClockSource selects the internal or the external (rear panel) reference clock
func (f *FunctionGenerator) SetClockSource(internal bool) error {
	src := "EXT"
	if internal {
		src = "INT"
	}
	return f.scpi.Write("SYSTem:CLKSRC", src)
}

func source(ch int, sub string) string {
	return "source" + strconv.Itoa(ch) + ":" + sub
}

// Activate turns on the output of a channel
func (f *FunctionGenerator) Activate(ch int) error {
	if err := checkChannel("activate", ch); err != nil {
		return err
	}
	return f.scpi.Write(source(ch, "output"), "1")
}

// Deactivate turns off the output of a channel
func (f *FunctionGenerator) Deactivate(ch int) error {
	if err := checkChannel("deactivate", ch); err != nil {
		return err
	}
	return f.scpi.Write(source(ch, "output"), "0")
}

// DeactivateAll turns off channel 1, then channel 2
func (f *FunctionGenerator) DeactivateAll() error {
	for ch := 1; ch <= 2; ch++ {
		if err := f.Deactivate(ch); err != nil {
			return err
		}
	}
	return nil
}

// GetFrequency returns the frequency of a channel in Hz
func (f *FunctionGenerator) GetFrequency(ch int) (float64, error) {
	if err := checkChannel("frequency", ch); err != nil {
		return 0, err
	}
	return query.Float64(f.scpi, source(ch, "frequency?"))
}

// GetVoltage returns the amplitude of a channel in Vpp
func (f *FunctionGenerator) GetVoltage(ch int) (float64, error) {
	if err := checkChannel("voltage", ch); err != nil {
		return 0, err
	}
	return query.Float64(f.scpi, source(ch, "voltage?"))
}

// GetOffset returns the DC offset of a channel in volts
func (f *FunctionGenerator) GetOffset(ch int) (float64, error) {
	if err := checkChannel("offset", ch); err != nil {
		return 0, err
	}
	return query.Float64(f.scpi, source(ch, "voltage:offset?"))
}

// GetFunction returns the waveform shape of a channel, e.g. SIN
func (f *FunctionGenerator) GetFunction(ch int) (string, error) {
	if err := checkChannel("function", ch); err != nil {
		return "", err
	}
	return query.String(f.scpi, source(ch, "function?"))
}

// GetOutput returns true if a channel is outputting a signal
func (f *FunctionGenerator) GetOutput(ch int) (bool, error) {
	if err := checkChannel("output", ch); err != nil {
		return false, err
	}
	s, err := query.String(f.scpi, source(ch, "output?"))
	if err != nil {
		return false, err
	}
	// the DG1022 answers ON/OFF, other firmware 1/0
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ON", "1":
		return true, nil
	case "OFF", "0":
		return false, nil
	default:
		return false, fmt.Errorf("output state of channel %d: unexpected response %q", ch, s)
	}
}
