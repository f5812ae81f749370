// Package scpi provides primitives for working with devices that
// have SCPI interfaces: command/response discipline, response grammars
// and the device error queue
package scpi

import (
	"strings"

	"github.com/golab-hw/fgctl/comm"
	"github.com/sirupsen/logrus"
)

// SCPI is a type for encapsulating SCPI communication over a transport.
// It holds no lock; callers serialize access to one device.
type SCPI struct {
	T   comm.Transport
	Log logrus.FieldLogger
}

// New returns a SCPI wrapper logging to the standard logrus logger
func New(t comm.Transport) *SCPI {
	return &SCPI{T: t, Log: logrus.StandardLogger()}
}

// Write sends a command to the device, joining cmds with spaces
func (s *SCPI) Write(cmds ...string) error {
	str := strings.Join(cmds, " ")
	s.Log.WithField("cmd", str).Debug("scpi write")
	return s.T.Write(str)
}

// Read reads one response from the device.  Timeouts are returned unchanged
// so callers can tell them apart with comm.IsTimeout
func (s *SCPI) Read() (string, error) {
	resp, err := s.T.Read()
	if err != nil {
		s.Log.WithError(err).Debug("scpi read failed")
		return resp, err
	}
	s.Log.WithField("resp", resp).Debug("scpi read")
	return resp, nil
}

// Query sends a command to the device, then reads the response
// and returns it with any trailing newline or carriage return removed.
// It satisfies the Querier interface of github.com/gotmc/query
func (s *SCPI) Query(cmd string) (string, error) {
	if err := s.Write(cmd); err != nil {
		return "", err
	}
	resp, err := s.Read()
	if err != nil {
		return "", err
	}
	return strings.TrimRight(resp, "\r\n"), nil
}

// Raw sends a command to the device and returns a response if it was a query,
// else a blank string
func (s *SCPI) Raw(str string) (string, error) {
	if strings.Contains(str, "?") {
		return s.Query(str)
	}
	return "", s.Write(str)
}
