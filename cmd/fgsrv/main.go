package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/golab-hw/fgctl/comm"
	"github.com/golab-hw/fgctl/metrics"
	"github.com/golab-hw/fgctl/rigol"
	"github.com/golab-hw/fgctl/util"
	"github.com/golab-hw/fgctl/waveform"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/sirupsen/logrus"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "fgsrv.yml"

	// EnvPrefix prefixes environment variables which override the config file,
	// e.g. FGSRV_LOGLEVEL=debug
	EnvPrefix = "FGSRV_"

	k = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(DefaultConfig(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			logrus.Fatalf("error loading config: %v", err)
		}
	}
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".", -1)
	}), nil)
	if err != nil {
		logrus.Fatalf("error loading environment: %v", err)
	}
}

func loadconf() (Config, *logrus.Logger) {
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		logrus.Fatal(err)
	}
	log, err := NewLogger(c, os.Stderr)
	if err != nil {
		logrus.Fatal(err)
	}
	return c, log
}

func root() {
	str := `fgsrv drives Rigol DG1022 function generators and exposes an HTTP interface to them.

Usage:
	fgsrv <command> [flags]

Commands:
	run
	sweep
	wave
	ports
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `fgsrv is amenable to configuration via its .yml file, fgsrv.yml in the
working directory.  Generate one with "fgsrv mkconf".  Any field may be
overridden by an environment variable, e.g. FGSRV_ADDR=:9000 or
FGSRV_LOGLEVEL=debug.

Each node is one generator, reached over "tcp" (LAN socket, Addr host:5555),
"serial" (Addr /dev/ttyUSB0 or COM3), "usbtmc" (the linux kernel driver,
Addr /dev/usbtmc0) or "gousb" (libusb, no Addr).  Set Mock: true to serve
simulated generators instead.

The routes of a node at Endpoint "fg" are:
	GET  /fg/identity
	GET  /fg/errors          drains the error queue
	POST /fg/ch1/sine        {"frequency": 1000, "amplitude": 0.5, "offset": 0, "phase": 90, "impedance": "highz"}
	POST /fg/ch1/output      {"bool": true}
	GET  /fg/ch1/frequency   also voltage, offset, output, function
	POST /fg/raw             {"str": "source1:frequency?"}
	GET  /fg/lock, POST /fg/lock {"bool": true}
and likewise for ch2.  GET /endpoints lists every route, GET /metrics
serves prometheus metrics.

Commands other than run take flags; see "fgsrv <command> -h".`
	fmt.Println(str)
}

func mkconf() {
	c, _ := loadconf()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		logrus.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		logrus.Fatal(err)
	}
}

func printconf() {
	c, _ := loadconf()
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		logrus.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("fgsrv version %v\n", Version)
}

func run() {
	c, log := loadconf()
	mux, closer, err := BuildMux(c, log)
	if err != nil {
		log.Fatal(err)
	}
	defer closer.Close()
	log.Infof("now listening for requests at %s", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, mux))
}

func sweepcmd(args []string) {
	c, log := loadconf()
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	var (
		node = fs.String("node", "", "endpoint of the node to use, the first if empty")
		s    = DefaultSweep()
	)
	fs.Float64Var(&s.Start, "start", s.Start, "first frequency, Hz")
	fs.Float64Var(&s.Stop, "stop", s.Stop, "stop frequency, Hz, not swept")
	fs.Float64Var(&s.Step, "step", s.Step, "frequency step, Hz")
	fs.IntVar(&s.Channel, "ch", s.Channel, "channel, 1 or 2")
	fs.Float64Var(&s.Amplitude, "amp", s.Amplitude, "amplitude, Vpp")
	fs.Float64Var(&s.Offset, "offset", s.Offset, "offset, V")
	fs.Float64Var(&s.Phase, "phase", s.Phase, "phase, degrees")
	fs.DurationVar(&s.Dwell, "dwell", s.Dwell, "time spent at each frequency")
	fiftyOhm := fs.Bool("50", false, "calibrate the output for a 50 ohm load instead of high Z")
	fs.Parse(args)
	if *fiftyOhm {
		s.Impedance = rigol.FiftyOhm
	}

	n, err := FindNode(c, *node)
	if err != nil {
		log.Fatal(err)
	}
	fg, closer, err := OpenGenerator(n, c.Mock, metrics.New(), log)
	if err != nil {
		log.Fatal(err)
	}
	defer closer.Close()
	if err := RunSweep(fg, s, os.Stdout, log); err != nil {
		log.Fatal(err)
	}
}

func wavecmd(args []string) {
	fs := flag.NewFlagSet("wave", flag.ExitOnError)
	var (
		shape   = fs.String("shape", "sine", "sine or sinc")
		n       = fs.Int("n", rigol.MaxSamples, "number of samples")
		periods = fs.Float64("periods", 0, "number of periods, 1 for sine and 10 for sinc if 0")
		raw     = fs.Bool("raw", false, "print the reference values instead of DAC codes")
	)
	fs.Parse(args)
	var seq []float64
	switch strings.ToLower(*shape) {
	case "sine":
		if *periods == 0 {
			*periods = 1
		}
		seq = waveform.ReferenceSine(*n, *periods)
	case "sinc":
		if *periods == 0 {
			*periods = 10
		}
		seq = waveform.ReferenceSinc(*n, *periods)
	default:
		logrus.Fatalf("shape %q not understood, must be sine or sinc", *shape)
	}
	if *raw {
		fmt.Println(util.FloatSliceToCSV(seq))
		return
	}
	codes, err := waveform.Rescale(seq, rigol.DACMin, rigol.DACMax)
	if err != nil {
		logrus.Fatal(err)
	}
	fmt.Println(util.IntSliceToCSV(codes))
}

func ports() {
	list, err := comm.ListSerialPorts()
	if err != nil {
		logrus.Fatal(err)
	}
	if len(list) == 0 {
		fmt.Println("no serial ports found")
		return
	}
	for _, p := range list {
		fmt.Println(p)
	}
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "sweep":
		sweepcmd(args[2:])
		return
	case "wave":
		wavecmd(args[2:])
		return
	case "ports":
		ports()
		return
	case "version":
		pversion()
		return
	default:
		logrus.Fatal("unknown command")
	}
}
