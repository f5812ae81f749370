/*
Package comm provides the transport used to talk to lab hardware with ASCII
command/response protocols.

Most usages of this package will boil down to:
 1. create a RemoteDevice for the address and kind of link (tcp, serial,
    or a usbtmc device node such as /dev/usbtmc0).
 2. hand it to a driver that only knows about the Transport interface.
 3. Close the RemoteDevice when done.

A minimal example for an instrument that answers "*IDN?" on a LAN socket:

	rd := comm.NewRemoteDevice("192.168.100.123:5555", comm.KindTCP)
	defer rd.Close()
	if err := rd.Write("*IDN?"); err != nil {
		return err
	}
	idn, err := rd.Read()

A response that does not arrive within the read timeout produces an error
for which IsTimeout returns true.
*/
package comm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
	"github.com/tarm/serial"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout is the read deadline used when none is configured
	DefaultTimeout = 3 * time.Second

	readChunk = 1500
)

var (
	// ErrTimeout is generated when no response arrives within the read deadline
	ErrTimeout = errors.New("timed out waiting for response")

	// ErrUnknownKind is generated when a RemoteDevice has no way to open its link
	ErrUnknownKind = errors.New("unknown link kind and no creation function")
)

// Transport sends ASCII commands to an instrument and reads its responses.
// Read fails with an error satisfying IsTimeout if nothing arrives in time.
type Transport interface {
	Write(cmd string) error
	Read() (string, error)
}

// IsTimeout reports whether err means "no response within the deadline",
// as opposed to a broken link
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Kind is the type of link a RemoteDevice opens
type Kind string

const (
	// KindTCP is a raw socket, e.g. port 5555 on a LAN instrument
	KindTCP Kind = "tcp"

	// KindSerial is an RS232 / virtual COM port
	KindSerial Kind = "serial"

	// KindUSBTMC is a device node of the linux usbtmc kernel driver
	KindUSBTMC Kind = "usbtmc"
)

// Terminators holds the transmit and receive termination bytes
type Terminators struct {
	Tx byte
	Rx byte
}

type deadliner interface {
	SetReadDeadline(time.Time) error
}

// RemoteDevice has an address and implements Transport.
//
// Connections are drawn from a Pool of size one, so consecutive Write and
// Read calls share a link.  A RemoteDevice is not safe for concurrent use.
type RemoteDevice struct {
	Addr    string
	Kind    Kind
	Baud    int
	Term    Terminators
	Timeout time.Duration

	pool    *Pool
	maker   CreationFunc
	pace    *rate.Limiter
	log     logrus.FieldLogger
	pending []byte
}

// Option configures a RemoteDevice
type Option func(*RemoteDevice)

// WithTerminators overrides the default '\n' terminators
func WithTerminators(t Terminators) Option {
	return func(rd *RemoteDevice) { rd.Term = t }
}

// WithTimeout sets the per-read deadline
func WithTimeout(d time.Duration) Option {
	return func(rd *RemoteDevice) { rd.Timeout = d }
}

// WithBaud sets the baud rate used for serial links
func WithBaud(baud int) Option {
	return func(rd *RemoteDevice) { rd.Baud = baud }
}

// WithPacing enforces a minimum interval between writes.  Many function
// generators drop commands that arrive back to back.
func WithPacing(interval time.Duration) Option {
	return func(rd *RemoteDevice) {
		if interval > 0 {
			rd.pace = rate.NewLimiter(rate.Every(interval), 1)
		}
	}
}

// WithMaker replaces the built in dialers, e.g. with a gousb backed usbtmc device
func WithMaker(maker CreationFunc) Option {
	return func(rd *RemoteDevice) { rd.maker = maker }
}

// WithLogger sets the logger used for link events
func WithLogger(l logrus.FieldLogger) Option {
	return func(rd *RemoteDevice) { rd.log = l }
}

// NewRemoteDevice creates a new RemoteDevice instance.  No connection is made
// until the first Write or Read.
func NewRemoteDevice(addr string, kind Kind, opts ...Option) *RemoteDevice {
	rd := &RemoteDevice{
		Addr:    addr,
		Kind:    kind,
		Baud:    57600,
		Term:    Terminators{Tx: '\n', Rx: '\n'},
		Timeout: DefaultTimeout,
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(rd)
	}
	rd.pool = NewPool(1, 30*time.Second, rd.open)
	return rd
}

// open the link, using an exponential backoff; instruments do not like
// being connection thrashed
func (rd *RemoteDevice) open() (io.ReadWriteCloser, error) {
	var (
		conn      io.ReadWriteCloser
		permanent error
	)
	op := func() error {
		c, err := rd.dial()
		if err != nil {
			if errors.Is(err, ErrUnknownKind) ||
				strings.Contains(strings.ToLower(err.Error()), "refused") {
				permanent = err
				return nil
			}
			rd.log.WithField("addr", rd.Addr).WithError(err).Debug("open failed, retrying")
			return err
		}
		conn = c
		return nil
	}

	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if permanent != nil {
		return nil, permanent
	}
	if err != nil {
		return nil, fmt.Errorf("connection timeout to %s: %w", rd.Addr, err)
	}
	return conn, nil
}

func (rd *RemoteDevice) dial() (io.ReadWriteCloser, error) {
	if rd.maker != nil {
		return rd.maker()
	}
	switch rd.Kind {
	case KindTCP:
		return net.DialTimeout("tcp", rd.Addr, rd.Timeout)
	case KindSerial:
		return serial.OpenPort(&serial.Config{
			Name:        rd.Addr,
			Baud:        rd.Baud,
			Size:        8,
			Parity:      serial.ParityNone,
			StopBits:    serial.Stop1,
			ReadTimeout: rd.Timeout})
	case KindUSBTMC:
		return os.OpenFile(rd.Addr, os.O_RDWR, 0)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, rd.Kind)
	}
}

// release returns conn to the pool, or throws it away if the link broke
func (rd *RemoteDevice) release(conn io.ReadWriteCloser, err error) {
	if err != nil && !IsTimeout(err) {
		rd.pending = nil
		rd.pool.Destroy(conn)
		return
	}
	rd.pool.Put(conn)
}

// Write sends cmd to the remote with the Tx terminator appended
func (rd *RemoteDevice) Write(cmd string) (err error) {
	if rd.pace != nil {
		if err = rd.pace.Wait(context.Background()); err != nil {
			return err
		}
	}
	conn, err := rd.pool.Get()
	if err != nil {
		return err
	}
	defer func() { rd.release(conn, err) }()
	b := append([]byte(cmd), rd.Term.Tx)
	_, err = conn.Write(b)
	return err
}

// Read receives one response from the remote and strips the Rx terminator
// (and a carriage return preceding it)
func (rd *RemoteDevice) Read() (resp string, err error) {
	conn, err := rd.pool.Get()
	if err != nil {
		return "", err
	}
	defer func() { rd.release(conn, err) }()

	deadline := time.Now().Add(rd.Timeout)
	if d, ok := conn.(deadliner); ok {
		d.SetReadDeadline(deadline) // not every device node supports deadlines
	}
	buf := make([]byte, readChunk)
	for {
		if idx := bytes.IndexByte(rd.pending, rd.Term.Rx); idx >= 0 {
			resp = string(rd.pending[:idx])
			rd.pending = rd.pending[idx+1:]
			return strings.TrimSuffix(resp, "\r"), nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("%s: %w", rd.Addr, ErrTimeout)
		}
		n, rerr := conn.Read(buf)
		rd.pending = append(rd.pending, buf[:n]...)
		switch {
		case rerr == nil:
		case IsTimeout(rerr):
			return "", fmt.Errorf("%s: %w", rd.Addr, ErrTimeout)
		case errors.Is(rerr, io.EOF) && rd.Kind == KindSerial:
			// tarm/serial reports an expired ReadTimeout as EOF
			if n == 0 {
				return "", fmt.Errorf("%s: %w", rd.Addr, ErrTimeout)
			}
		default:
			return "", rerr
		}
	}
}

// Close frees the underlying connection, if any
func (rd *RemoteDevice) Close() error {
	rd.pending = nil
	return rd.pool.Close()
}
