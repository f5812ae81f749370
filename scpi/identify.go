package scpi

import (
	"fmt"
	"strings"
)

// Identity is the parsed response to *IDN?
type Identity struct {
	Manufacturer string
	Model        string
	Serial       string
	Edition      string
}

func (id Identity) String() string {
	return fmt.Sprintf("%s %s (serial %s, firmware %s)", id.Manufacturer, id.Model, id.Serial, id.Edition)
}

// Identify queries *IDN? and checks the response against the RequestIDN
// grammar of t, which must have manufacturer, model, serial and edition
// groups.  Timeouts are returned unchanged.
func Identify(s *SCPI, t Table) (Identity, error) {
	resp, err := s.Query(RequestIDN.Command())
	if err != nil {
		return Identity{}, err
	}
	f, err := t.Validate(RequestIDN, strings.TrimSpace(resp))
	if err != nil {
		return Identity{}, err
	}
	return Identity{
		Manufacturer: strings.TrimSpace(f["manufacturer"]),
		Model:        strings.TrimSpace(f["model"]),
		Serial:       strings.TrimSpace(f["serial"]),
		Edition:      strings.TrimSpace(f["edition"]),
	}, nil
}
