package rigol

import (
	"errors"
	"testing"

	"github.com/golab-hw/fgctl/comm"
	"github.com/golab-hw/fgctl/scpi"
	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

const testIDN = "RIGOL TECHNOLOGIES,DG1022 ,DG1D123456789,00.03.00.09.00.02.11"

// newTestGenerator returns a generator on a Script which has already
// answered *IDN? and has no other writes recorded
func newTestGenerator(t *testing.T, responses ...string) (*FunctionGenerator, *comm.Script) {
	t.Helper()
	s := comm.NewScript(append([]string{testIDN}, responses...)...)
	log, _ := test.NewNullLogger()
	f, err := NewFunctionGenerator(s, WithLogger(log))
	if err != nil {
		t.Fatal(err)
	}
	s.Written = nil
	return f, s
}

func TestNewFunctionGeneratorIdentifies(t *testing.T) {
	s := comm.NewScript(testIDN)
	log, hook := test.NewNullLogger()
	f, err := NewFunctionGenerator(s, WithLogger(log))
	if err != nil {
		t.Fatal(err)
	}
	want := scpi.Identity{
		Manufacturer: "RIGOL TECHNOLOGIES",
		Model:        "DG1022",
		Serial:       "DG1D123456789",
		Edition:      "00.03.00.09.00.02.11",
	}
	if diff := cmp.Diff(want, f.Identity()); diff != "" {
		t.Errorf("identity mismatch (-want +got):\n%s", diff)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.InfoLevel || entry.Message != "Discovered a DG1022 from RIGOL TECHNOLOGIES" {
		t.Errorf("expected discovery to be logged, got %v", entry)
	}
}

func TestNewFunctionGeneratorRejectsUnsupportedModel(t *testing.T) {
	log, _ := test.NewNullLogger()
	_, err := NewFunctionGenerator(comm.NewScript("RIGOL TECHNOLOGIES,MSO5104,MS5A0001,00.01.01"), WithLogger(log))
	var pv *scpi.ProtocolViolation
	if !errors.As(err, &pv) || pv.Field != "model" {
		t.Errorf("expected model to be rejected, got %v", err)
	}
}

func TestWithModelsExtendsAllowList(t *testing.T) {
	log, _ := test.NewNullLogger()
	_, err := NewFunctionGenerator(comm.NewScript("RIGOL TECHNOLOGIES,DG1032Z,DG1ZA1,01.01"),
		WithLogger(log), WithModels(DefaultModel, "DG1032Z"))
	if err != nil {
		t.Errorf("expected DG1032Z to be admitted, got %v", err)
	}
}

func TestNewFunctionGeneratorTimeout(t *testing.T) {
	log, _ := test.NewNullLogger()
	_, err := NewFunctionGenerator(comm.NewScript(), WithLogger(log))
	if !comm.IsTimeout(err) {
		t.Errorf("expected timeout, got %v", err)
	}
}

func TestActivateDeactivate(t *testing.T) {
	f, s := newTestGenerator(t)
	if err := f.Activate(2); err != nil {
		t.Fatal(err)
	}
	if err := f.Deactivate(1); err != nil {
		t.Fatal(err)
	}
	want := []string{"source2:output 1", "source1:output 0"}
	if diff := cmp.Diff(want, s.Written); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestActivateRejectsBadChannel(t *testing.T) {
	f, s := newTestGenerator(t)
	for _, ch := range []int{0, 3, -1} {
		if err := f.Activate(ch); !errors.Is(err, ErrUsage) {
			t.Errorf("activate(%d): expected usage error, got %v", ch, err)
		}
		if err := f.Deactivate(ch); !errors.Is(err, ErrUsage) {
			t.Errorf("deactivate(%d): expected usage error, got %v", ch, err)
		}
	}
	if len(s.Written) != 0 {
		t.Errorf("expected nothing sent, got %v", s.Written)
	}
}

func TestDeactivateAll(t *testing.T) {
	f, s := newTestGenerator(t)
	if err := f.DeactivateAll(); err != nil {
		t.Fatal(err)
	}
	want := []string{"source1:output 0", "source2:output 0"}
	if diff := cmp.Diff(want, s.Written); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestDisplayAndClock(t *testing.T) {
	f, s := newTestGenerator(t)
	if err := f.SetDisplayLuminance(31); err != nil {
		t.Fatal(err)
	}
	if err := f.SetDisplayContrast(0); err != nil {
		t.Fatal(err)
	}
	if err := f.SetClockSource(false); err != nil {
		t.Fatal(err)
	}
	if err := f.SetDisplayLuminance(0); !errors.Is(err, ErrUsage) {
		t.Errorf("expected usage error for luminance 0, got %v", err)
	}
	if err := f.SetDisplayContrast(32); !errors.Is(err, ErrUsage) {
		t.Errorf("expected usage error for contrast 32, got %v", err)
	}
	want := []string{"DISPlay:LUMInance 31", "DISPlay:CONTRAST 0", "SYSTem:CLKSRC EXT"}
	if diff := cmp.Diff(want, s.Written); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestClearErrorsDelegates(t *testing.T) {
	f, s := newTestGenerator(t, `-113,"Undefined header"`, scpi.NoError)
	errs, err := f.ClearErrors()
	if err != nil {
		t.Fatal(err)
	}
	want := []scpi.ErrorRecord{{Code: -113, Description: "Undefined header"}}
	if diff := cmp.Diff(want, errs); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
	if len(s.Written) != 2 {
		t.Errorf("expected 2 error queries, got %v", s.Written)
	}
}

func TestReadbacks(t *testing.T) {
	f, s := newTestGenerator(t, "1000", "0.5", "0", "SIN", "ON")
	hz, err := f.GetFrequency(1)
	if err != nil || hz != 1000 {
		t.Errorf("frequency: got %v, %v", hz, err)
	}
	v, err := f.GetVoltage(1)
	if err != nil || v != 0.5 {
		t.Errorf("voltage: got %v, %v", v, err)
	}
	off, err := f.GetOffset(1)
	if err != nil || off != 0 {
		t.Errorf("offset: got %v, %v", off, err)
	}
	fcn, err := f.GetFunction(1)
	if err != nil || fcn != "SIN" {
		t.Errorf("function: got %v, %v", fcn, err)
	}
	on, err := f.GetOutput(1)
	if err != nil || !on {
		t.Errorf("output: got %v, %v", on, err)
	}
	want := []string{"source1:frequency?", "source1:voltage?", "source1:voltage:offset?", "source1:function?", "source1:output?"}
	if diff := cmp.Diff(want, s.Written); diff != "" {
		t.Errorf("queries mismatch (-want +got):\n%s", diff)
	}
}

func TestParseImpedance(t *testing.T) {
	cases := map[string]Impedance{"50": FiftyOhm, "fifty": FiftyOhm, "50ohm": FiftyOhm, "HighZ": HighZ, "omeg": HighZ}
	for in, want := range cases {
		got, err := ParseImpedance(in)
		if err != nil || got != want {
			t.Errorf("ParseImpedance(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseImpedance("75"); !errors.Is(err, ErrUsage) {
		t.Errorf("expected usage error for 75 ohm, got %v", err)
	}
}
