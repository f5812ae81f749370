package scpi

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/golab-hw/fgctl/comm"
	"go.uber.org/multierr"
)

const (
	// NoError is the response of an empty error queue
	NoError = `+0,"No Error"`

	// DefaultMaxDrain bounds ClearErrors when ErrorQueue.MaxDrain is zero
	DefaultMaxDrain = 64

	noErrorDesc = "No Error"
)

// ErrQueueNotDrained is returned by ClearErrors when the device keeps
// reporting errors past the drain limit
var ErrQueueNotDrained = errors.New("error queue not drained")

// ErrorRecord is one entry of the device error queue, e.g.
// -113,"Undefined header"
type ErrorRecord struct {
	Code        int
	Description string
}

// Error satisfies stdlib error interface
func (e ErrorRecord) Error() string {
	return fmt.Sprintf("%d - %s", e.Code, e.Description)
}

// Combine returns a single error holding every record, or nil if there are none
func Combine(records []ErrorRecord) error {
	errs := make([]error, len(records))
	for i, r := range records {
		errs[i] = r
	}
	return multierr.Combine(errs...)
}

// ErrorQueue reads and clears the error queue of a device.  Responses are
// checked against the RequestError grammar of Grammars, which must have
// errno and errdesc groups.
type ErrorQueue struct {
	SCPI     *SCPI
	Grammars Table

	// MaxDrain bounds ClearErrors.  Zero means DefaultMaxDrain, a negative
	// value drains until the device reports an empty queue, however long
	// that takes.
	MaxDrain int
}

// ClearError pops a single error from the queue on the device.  It returns
// nil without error when the queue is empty, including when the device
// does not answer in time, which happens when the queue just got empty.
func (q *ErrorQueue) ClearError() (*ErrorRecord, error) {
	if err := q.SCPI.Write(RequestError.Command()); err != nil {
		return nil, err
	}
	resp, err := q.SCPI.Read()
	if err != nil {
		if comm.IsTimeout(err) {
			return nil, nil
		}
		return nil, err
	}
	resp = strings.TrimSpace(resp)
	if resp == NoError {
		return nil, nil
	}
	fields, err := q.Grammars.Validate(RequestError, resp)
	if err != nil {
		return nil, err
	}
	code, err := strconv.Atoi(fields["errno"])
	if err != nil {
		return nil, &ProtocolViolation{Request: RequestError, Response: resp, Field: "errno",
			Value: fields["errno"], Reason: err.Error()}
	}
	if code == 0 && strings.EqualFold(strings.TrimSpace(fields["errdesc"]), noErrorDesc) {
		// DG1022 firmware answers +0,"No error"
		return nil, nil
	}
	return &ErrorRecord{Code: code, Description: fields["errdesc"]}, nil
}

// ClearErrors drains the error queue, returning the records in the order
// the device reported them.  The slice is empty, not nil, when the queue
// was already empty.
func (q *ErrorQueue) ClearErrors() ([]ErrorRecord, error) {
	limit := q.MaxDrain
	if limit == 0 {
		limit = DefaultMaxDrain
	}
	errs := []ErrorRecord{}
	for i := 0; limit < 0 || i < limit; i++ {
		rec, err := q.ClearError()
		if err != nil {
			return errs, err
		}
		if rec == nil {
			return errs, nil
		}
		errs = append(errs, *rec)
	}
	return errs, fmt.Errorf("%w after %d records", ErrQueueNotDrained, limit)
}
