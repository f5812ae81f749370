// Package tmc provides an HTTP interface to test and measurement devices
package tmc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/golab-hw/fgctl/generichttp"
	"github.com/golab-hw/fgctl/generichttp/ascii"
	"github.com/golab-hw/fgctl/metrics"
	"github.com/golab-hw/fgctl/rigol"
	"github.com/golab-hw/fgctl/scpi"
	"github.com/golab-hw/fgctl/server"
)

// FunctionGenerator describes an interface to a two channel function generator
type FunctionGenerator interface {
	// Identity returns the identification of the instrument
	Identity() scpi.Identity

	// ClearErrors drains the error queue of the instrument
	ClearErrors() ([]scpi.ErrorRecord, error)

	// Sine configures a channel for a sine wave, leaving its output off
	Sine(rigol.SineConfig) error

	// Activate turns on the output of a channel
	Activate(int) error

	// Deactivate turns off the output of a channel
	Deactivate(int) error

	// GetFrequency gets the frequency of the output waveform
	GetFrequency(int) (float64, error)

	// GetVoltage retrieves the voltage of the output waveform
	GetVoltage(int) (float64, error)

	// GetOffset retrieves the offset of the output waveform
	GetOffset(int) (float64, error)

	// GetFunction returns the current function type used
	GetFunction(int) (string, error)

	// GetOutput queries if the generator output is active
	GetOutput(int) (bool, error)

	// Raw sends a command and returns the response if it was a query
	Raw(string) (string, error)
}

// Channels are the channels routes are generated for
var Channels = []int{1, 2}

// HTTPFunctionGenerator wraps a function generator in an HTTP interface.
// Requests are served one at a time.
type HTTPFunctionGenerator struct {
	FG FunctionGenerator

	// Name labels the metrics of this generator
	Name string

	// Metrics, if not nil, counts drained errors and protocol violations
	Metrics *metrics.Collector

	mu sync.Mutex
	rt generichttp.RouteTable
}

// NewHTTPFunctionGenerator returns a new HTTP wrapper with a populated route table
func NewHTTPFunctionGenerator(fg FunctionGenerator, name string, m *metrics.Collector) *HTTPFunctionGenerator {
	h := &HTTPFunctionGenerator{FG: fg, Name: name, Metrics: m, rt: generichttp.RouteTable{}}
	get := func(path string, hf http.HandlerFunc) {
		h.rt[generichttp.MethodPath{Method: http.MethodGet, Path: path}] = hf
	}
	post := func(path string, hf http.HandlerFunc) {
		h.rt[generichttp.MethodPath{Method: http.MethodPost, Path: path}] = hf
	}
	get("/identity", h.Identity)
	get("/errors", h.Errors)
	for _, ch := range Channels {
		ch := ch
		stem := fmt.Sprintf("/ch%d", ch)
		post(stem+"/sine", h.Sine(ch))
		post(stem+"/output", generichttp.SetBool(func(b bool) error {
			if b {
				return observe0(h, func() error { return fg.Activate(ch) })
			}
			return observe0(h, func() error { return fg.Deactivate(ch) })
		}))
		get(stem+"/output", generichttp.GetBool(observe(h, func() (bool, error) { return fg.GetOutput(ch) })))
		get(stem+"/frequency", generichttp.GetFloat(observe(h, func() (float64, error) { return fg.GetFrequency(ch) })))
		get(stem+"/voltage", generichttp.GetFloat(observe(h, func() (float64, error) { return fg.GetVoltage(ch) })))
		get(stem+"/offset", generichttp.GetFloat(observe(h, func() (float64, error) { return fg.GetOffset(ch) })))
		get(stem+"/function", generichttp.GetString(observe(h, func() (string, error) { return fg.GetFunction(ch) })))
	}
	ascii.InjectRawComm(h.rt, rawFunc(func(s string) (string, error) {
		return observe(h, func() (string, error) { return fg.Raw(s) })()
	}))
	for k, hf := range h.rt {
		h.rt[k] = h.serialize(hf)
	}
	return h
}

// RT satisfies generichttp.HTTPer
func (h *HTTPFunctionGenerator) RT() generichttp.RouteTable {
	return h.rt
}

type rawFunc func(string) (string, error)

func (f rawFunc) Raw(s string) (string, error) { return f(s) }

// serialize makes hf hold the generator for the duration of the request
func (h *HTTPFunctionGenerator) serialize(hf http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		defer h.mu.Unlock()
		hf(w, r)
	}
}

func (h *HTTPFunctionGenerator) observeErr(err error) {
	if err != nil && h.Metrics != nil && errors.Is(err, scpi.ErrProtocolViolation) {
		h.Metrics.Violation(h.Name)
	}
}

func observe[T any](h *HTTPFunctionGenerator, fcn func() (T, error)) func() (T, error) {
	return func() (T, error) {
		v, err := fcn()
		h.observeErr(err)
		return v, err
	}
}

func observe0(h *HTTPFunctionGenerator, fcn func() error) error {
	err := fcn()
	h.observeErr(err)
	return err
}

// Identity replies with the identification of the generator as JSON
func (h *HTTPFunctionGenerator) Identity(w http.ResponseWriter, r *http.Request) {
	server.EncodeJSON(w, h.FG.Identity())
}

type errorRecord struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
}

// Errors drains the error queue and replies with the records as a JSON array
func (h *HTTPFunctionGenerator) Errors(w http.ResponseWriter, r *http.Request) {
	recs, err := h.FG.ClearErrors()
	if h.Metrics != nil {
		h.Metrics.DeviceError(h.Name, len(recs))
	}
	h.observeErr(err)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	out := make([]errorRecord, len(recs))
	for i, rec := range recs {
		out[i] = errorRecord{Code: rec.Code, Description: rec.Description}
	}
	server.EncodeJSON(w, out)
}

// Sine returns a handler configuring a sine wave on ch from a JSON body
// such as {"frequency": 1000, "amplitude": 0.5, "phase": 90, "impedance": "highz"}.
// Fields which are omitted take the defaults of rigol.NewSineConfig.
func (h *HTTPFunctionGenerator) Sine(ch int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := rigol.NewSineConfig(0)
		err := json.NewDecoder(r.Body).Decode(&c)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c.Channel = ch
		if err = observe0(h, func() error { return h.FG.Sine(c) }); err != nil {
			generichttp.Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
