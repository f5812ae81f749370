package rigol

import (
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
)

func TestMockRoundTrip(t *testing.T) {
	log, _ := test.NewNullLogger()
	f, err := NewFunctionGenerator(NewMock(), WithLogger(log))
	if err != nil {
		t.Fatal(err)
	}
	c := NewSineConfig(1234.5)
	c.Channel = 2
	c.Amplitude = 0.5
	if err := f.Sine(c); err != nil {
		t.Fatal(err)
	}
	if err := f.Activate(2); err != nil {
		t.Fatal(err)
	}
	hz, err := f.GetFrequency(2)
	if err != nil || hz != 1234.5 {
		t.Errorf("frequency: got %v, %v", hz, err)
	}
	on, err := f.GetOutput(2)
	if err != nil || !on {
		t.Errorf("output: got %v, %v", on, err)
	}
	errs, err := f.ClearErrors()
	if err != nil || len(errs) != 0 {
		t.Errorf("expected empty error queue, got %v, %v", errs, err)
	}
}

func TestMockQueuesErrors(t *testing.T) {
	log, _ := test.NewNullLogger()
	m := NewMock()
	f, err := NewFunctionGenerator(m, WithLogger(log))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Raw("source3:output 1"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Raw("bogus"); err != nil {
		t.Fatal(err)
	}
	errs, err := f.ClearErrors()
	if err != nil {
		t.Fatal(err)
	}
	if len(errs) != 2 || errs[0].Code != -114 || errs[1].Code != -113 {
		t.Errorf("unexpected errors %v", errs)
	}
}
