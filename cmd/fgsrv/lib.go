package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/golab-hw/fgctl/comm"
	"github.com/golab-hw/fgctl/generichttp"
	"github.com/golab-hw/fgctl/generichttp/tmc"
	"github.com/golab-hw/fgctl/metrics"
	"github.com/golab-hw/fgctl/rigol"
	"github.com/golab-hw/fgctl/server/middleware/locker"
	"github.com/golab-hw/fgctl/usbtmc"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// Node describes one function generator and where to serve it
type Node struct {
	// Endpoint is the path the routes of this generator are served under,
	// e.g. "fg" produces /fg/ch1/sine and so on
	Endpoint string `koanf:"endpoint" yaml:"Endpoint"`

	// Addr holds the network or filesystem address of the generator,
	// e.g. 192.168.100.123:5555, /dev/ttyUSB0 or /dev/usbtmc0.
	// It is ignored for Kind "gousb"
	Addr string `koanf:"addr" yaml:"Addr"`

	// Kind is the type of link: tcp, serial, usbtmc (kernel driver) or
	// gousb (libusb, first DG1022 on the bus)
	Kind string `koanf:"kind" yaml:"Kind"`

	// Baud is the baud rate of a serial link
	Baud int `koanf:"baud" yaml:"Baud"`

	// Timeout is the read deadline, e.g. "3s"
	Timeout string `koanf:"timeout" yaml:"Timeout"`

	// Pacing is the minimum time between commands, e.g. "50ms"
	Pacing string `koanf:"pacing" yaml:"Pacing"`

	// Models is the allow-list of models, DG1022 if empty
	Models []string `koanf:"models" yaml:"Models"`

	// MaxDrain bounds the number of errors read per drain of the queue,
	// 0 for the default and -1 for no bound
	MaxDrain int `koanf:"maxdrain" yaml:"MaxDrain"`
}

// Config is a struct that holds the initialization parameters of the server
type Config struct {
	// Addr is the address to listen at
	Addr string `koanf:"addr" yaml:"Addr"`

	// LogLevel is one of the logrus levels, e.g. info or debug.
	// Debug logs every command and response
	LogLevel string `koanf:"loglevel" yaml:"LogLevel"`

	// LogFormat is text or json
	LogFormat string `koanf:"logformat" yaml:"LogFormat"`

	// Mock replaces every generator with a simulated one
	Mock bool `koanf:"mock" yaml:"Mock"`

	// Nodes is the list of generators to set up
	Nodes []Node `koanf:"nodes" yaml:"Nodes"`
}

// DefaultConfig is the configuration written by mkconf
func DefaultConfig() Config {
	return Config{
		Addr:      ":8000",
		LogLevel:  "info",
		LogFormat: "text",
		Nodes: []Node{{
			Endpoint: "fg",
			Addr:     "192.168.100.123:5555",
			Kind:     string(comm.KindTCP),
			Baud:     57600,
			Timeout:  "3s",
			Pacing:   "50ms",
			Models:   []string{rigol.DefaultModel},
		}},
	}
}

// NewLogger builds a logrus logger from the logging fields of c
func NewLogger(c Config, w io.Writer) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(w)
	lvl := c.LogLevel
	if lvl == "" {
		lvl = "info"
	}
	level, err := logrus.ParseLevel(lvl)
	if err != nil {
		return nil, err
	}
	log.SetLevel(level)
	switch strings.ToLower(c.LogFormat) {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("log format %q not understood, must be text or json", c.LogFormat)
	}
	return log, nil
}

func parseDuration(field, s string, dflt time.Duration) (time.Duration, error) {
	if s == "" {
		return dflt, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}

// OpenTransport returns the link to the generator of a node, and the means
// to close it
func OpenTransport(n Node, mock bool, log logrus.FieldLogger) (comm.Transport, io.Closer, error) {
	if mock {
		return rigol.NewMock(), nopCloser{}, nil
	}
	timeout, err := parseDuration("Timeout", n.Timeout, comm.DefaultTimeout)
	if err != nil {
		return nil, nil, err
	}
	pacing, err := parseDuration("Pacing", n.Pacing, 0)
	if err != nil {
		return nil, nil, err
	}
	opts := []comm.Option{comm.WithTimeout(timeout), comm.WithPacing(pacing), comm.WithLogger(log)}
	if n.Baud != 0 {
		opts = append(opts, comm.WithBaud(n.Baud))
	}
	kind := comm.Kind(strings.ToLower(n.Kind))
	switch kind {
	case comm.KindTCP, comm.KindSerial, comm.KindUSBTMC:
	case "gousb":
		kind = comm.KindUSBTMC
		opts = append(opts, comm.WithMaker(func() (io.ReadWriteCloser, error) {
			dev, err := usbtmc.NewUSBDevice(usbtmc.RigolVID, usbtmc.DG1022PID)
			if err != nil {
				return nil, err
			}
			dev.Timeout = timeout
			return dev, nil
		}))
	default:
		return nil, nil, fmt.Errorf("node %q: %w: %q", n.Endpoint, comm.ErrUnknownKind, n.Kind)
	}
	rd := comm.NewRemoteDevice(n.Addr, kind, opts...)
	return rd, rd, nil
}

// OpenGenerator connects to and identifies the generator of a node.
// Its traffic is counted by m under the endpoint of the node.
func OpenGenerator(n Node, mock bool, m *metrics.Collector, log logrus.FieldLogger) (*rigol.FunctionGenerator, io.Closer, error) {
	nlog := log.WithField("node", n.Endpoint)
	t, closer, err := OpenTransport(n, mock, nlog)
	if err != nil {
		return nil, nil, err
	}
	fg, err := rigol.NewFunctionGenerator(m.Wrap(n.Endpoint, t),
		rigol.WithModels(n.Models...),
		rigol.WithLogger(nlog),
		rigol.WithMaxDrain(n.MaxDrain))
	if err != nil {
		return nil, nil, multierr.Append(err, closer.Close())
	}
	return fg, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type closers []io.Closer

func (cs closers) Close() error {
	var err error
	for _, c := range cs {
		err = multierr.Append(err, c.Close())
	}
	return err
}

// BuildMux opens every node of c and mounts an HTTP interface to each on a
// chi router.  The router also serves /endpoints, a JSON map of every
// route, and /metrics.  The returned Closer releases the links.
func BuildMux(c Config, log *logrus.Logger) (chi.Router, io.Closer, error) {
	root := chi.NewRouter()
	root.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: log, NoColor: true}))
	m := metrics.New()
	supergraph := map[string][]string{}
	var cs closers
	for _, node := range c.Nodes {
		fg, closer, err := OpenGenerator(node, c.Mock, m, log)
		if err != nil {
			return nil, nil, multierr.Append(fmt.Errorf("node %q: %w", node.Endpoint, err), cs.Close())
		}
		cs = append(cs, closer)

		// prepare the URL, "fg" => "/fg"
		hndlS := generichttp.SubMuxSanitize(node.Endpoint)
		httper := tmc.NewHTTPFunctionGenerator(fg, node.Endpoint, m)

		// add a lock interface for this node
		lock := locker.New()
		locker.Inject(httper, lock)

		// add the endpoints to the graph
		supergraph[hndlS] = httper.RT().Endpoints()

		r := chi.NewRouter()
		r.Use(lock.Check)
		httper.RT().Bind(r)
		root.Mount(hndlS, r)
	}
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	root.Method(http.MethodGet, "/metrics", m.Handler())
	return root, cs, nil
}

// FindNode returns the node with the given endpoint, or the first node if
// endpoint is empty
func FindNode(c Config, endpoint string) (Node, error) {
	if len(c.Nodes) == 0 {
		return Node{}, fmt.Errorf("no nodes configured")
	}
	if endpoint == "" {
		return c.Nodes[0], nil
	}
	for _, n := range c.Nodes {
		if generichttp.SubMuxSanitize(n.Endpoint) == generichttp.SubMuxSanitize(endpoint) {
			return n, nil
		}
	}
	return Node{}, fmt.Errorf("no node with endpoint %q", endpoint)
}
