package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golab-hw/fgctl/comm"
	"github.com/golab-hw/fgctl/rigol"
	"github.com/golab-hw/fgctl/scpi"
	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus/hooks/test"
)

func mockConfig() Config {
	c := DefaultConfig()
	c.Mock = true
	c.Nodes = append(c.Nodes, Node{Endpoint: "/lab/fg2/"})
	return c
}

func TestBuildMuxServesMockNodes(t *testing.T) {
	log, _ := test.NewNullLogger()
	mux, closer, err := BuildMux(mockConfig(), log)
	if err != nil {
		t.Fatal(err)
	}
	defer closer.Close()

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("POST", "/lab/fg2/ch1/sine", strings.NewReader(`{"frequency":1500,"amplitude":0.5}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 from sine, got %d %s", w.Code, w.Body.String())
	}
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/lab/fg2/ch1/frequency", nil))
	if got := strings.TrimSpace(w.Body.String()); got != `{"f64":1500}` {
		t.Errorf("unexpected frequency %q", got)
	}

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/endpoints", nil))
	graph := map[string][]string{}
	if err := json.NewDecoder(w.Body).Decode(&graph); err != nil {
		t.Fatal(err)
	}
	if len(graph) != 2 || len(graph["/fg"]) == 0 {
		t.Errorf("expected both nodes in the endpoint graph, got %v", graph)
	}

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(w.Body.String(), `fgctl_commands_written_total{device="/lab/fg2/"}`) {
		t.Error("expected per node write counters in /metrics")
	}
}

func TestBuildMuxLock(t *testing.T) {
	log, _ := test.NewNullLogger()
	mux, closer, err := BuildMux(mockConfig(), log)
	if err != nil {
		t.Fatal(err)
	}
	defer closer.Close()
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("POST", "/fg/lock", strings.NewReader(`{"bool":true}`)))
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("POST", "/fg/ch1/output", strings.NewReader(`{"bool":true}`)))
	if w.Code != http.StatusLocked {
		t.Errorf("expected 423 on a locked node, got %d", w.Code)
	}
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("POST", "/lab/fg2/ch1/output", strings.NewReader(`{"bool":true}`)))
	if w.Code != http.StatusOK {
		t.Errorf("expected the other node to stay unlocked, got %d", w.Code)
	}
}

func TestOpenTransportUnknownKind(t *testing.T) {
	log, _ := test.NewNullLogger()
	_, _, err := OpenTransport(Node{Endpoint: "fg", Kind: "carrier pigeon"}, false, log)
	if !errors.Is(err, comm.ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
	_, _, err = OpenTransport(Node{Endpoint: "fg", Kind: "tcp", Timeout: "soon"}, false, log)
	if err == nil {
		t.Error("expected a bad timeout to be rejected")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger(Config{LogLevel: "debug", LogFormat: "json"}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	log.Debug("hello")
	if !strings.Contains(buf.String(), `"msg":"hello"`) {
		t.Errorf("expected a json debug line, got %q", buf.String())
	}
	if _, err := NewLogger(Config{LogFormat: "xml"}, &buf); err == nil {
		t.Error("expected unknown format to be rejected")
	}
}

func TestFindNode(t *testing.T) {
	c := mockConfig()
	n, err := FindNode(c, "lab/fg2")
	if err != nil || n.Endpoint != "/lab/fg2/" {
		t.Errorf("expected to find lab/fg2, got %v, %v", n, err)
	}
	if _, err := FindNode(c, "nope"); err == nil {
		t.Error("expected missing node to be an error")
	}
	if _, err := FindNode(Config{}, ""); err == nil {
		t.Error("expected no nodes to be an error")
	}
}

func TestSweepConfigs(t *testing.T) {
	cfgs, err := DefaultSweep().Configs()
	if err != nil {
		t.Fatal(err)
	}
	if len(cfgs) != 200 || cfgs[0].Frequency != 1000 || cfgs[199].Frequency != 1995 {
		t.Errorf("expected 200 steps from 1000 to 1995 Hz, got %d", len(cfgs))
	}
	if d := DefaultSweep().Dwell; d != time.Second {
		t.Errorf("expected a 1s dwell, got %v", d)
	}
	s := DefaultSweep()
	s.Stop = 30e6
	s.Step = 1e6
	if _, err := s.Configs(); !errors.Is(err, rigol.ErrUsage) {
		t.Errorf("expected a sweep past 25 MHz to be rejected, got %v", err)
	}
}

func TestRunSweep(t *testing.T) {
	log, _ := test.NewNullLogger()
	s := comm.NewScript("RIGOL TECHNOLOGIES,DG1022 ,DG1D123456789,00.03.00.09.00.02.11")
	fg, err := rigol.NewFunctionGenerator(s, rigol.WithLogger(log))
	if err != nil {
		t.Fatal(err)
	}
	s.Written = nil
	s.Responses = []comm.Response{{Text: scpi.NoError}}

	sw := Sweep{Start: 1000, Stop: 1015, Step: 5, Channel: 1, Amplitude: 0.5, Phase: 90, Impedance: rigol.HighZ, Dwell: time.Millisecond}
	var out bytes.Buffer
	if err := RunSweep(fg, sw, &out, log); err != nil {
		t.Fatal(err)
	}
	var freqs []string
	for _, cmd := range s.Written {
		if strings.HasPrefix(cmd, "source1:frequency") {
			freqs = append(freqs, cmd)
		}
	}
	want := []string{"source1:frequency 1000", "source1:frequency 1005", "source1:frequency 1010"}
	if diff := cmp.Diff(want, freqs); diff != "" {
		t.Errorf("frequencies mismatch (-want +got):\n%s", diff)
	}
	tail := s.Written[len(s.Written)-3:]
	if diff := cmp.Diff([]string{"source1:output 0", "source2:output 0", "SYSTem:ERRor?"}, tail); diff != "" {
		t.Errorf("expected the sweep to end with both channels off and a drain (-want +got):\n%s", diff)
	}
}

func TestRunSweepReportsQueuedErrors(t *testing.T) {
	log, _ := test.NewNullLogger()
	fg, err := rigol.NewFunctionGenerator(rigol.NewMock(), rigol.WithLogger(log))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fg.Raw("bogus"); err != nil {
		t.Fatal(err)
	}
	sw := Sweep{Start: 1000, Stop: 1005, Step: 5, Channel: 2, Amplitude: 0.5, Impedance: rigol.HighZ}
	var out bytes.Buffer
	err = RunSweep(fg, sw, &out, log)
	var rec scpi.ErrorRecord
	if !errors.As(err, &rec) || rec.Code != -113 {
		t.Errorf("expected the queued -113 to be reported, got %v", err)
	}
}
