package rigol

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/golab-hw/fgctl/comm"
)

const mockIDN = "RIGOL TECHNOLOGIES,DG1022 ,DG1D000000000,00.03.00.09.00.02.11"

type mockChannel struct {
	function  string
	frequency float64
	voltage   float64
	offset    float64
	phase     float64
	output    bool
	impedance string
}

// Mock is a comm.Transport that behaves like a DG1022 with nothing
// attached.  Unknown commands and bad arguments land in the error queue.
type Mock struct {
	sync.Mutex
	ch      map[int]*mockChannel
	errs    []string
	replies []string
}

// NewMock returns a Mock in the state of a freshly powered generator
func NewMock() *Mock {
	m := &Mock{ch: make(map[int]*mockChannel)}
	for _, ch := range []int{1, 2} {
		m.ch[ch] = &mockChannel{function: "SIN", frequency: 1e3, voltage: 5, impedance: "omeg"}
	}
	return m
}

func (m *Mock) fail(code int, desc string) {
	m.errs = append(m.errs, fmt.Sprintf("%d,\"%s\"", code, desc))
}

// Write processes one command
func (m *Mock) Write(cmd string) error {
	m.Lock()
	defer m.Unlock()
	cmd = strings.TrimSpace(cmd)
	header, arg := cmd, ""
	if idx := strings.IndexByte(cmd, ' '); idx >= 0 {
		header, arg = cmd[:idx], strings.TrimSpace(cmd[idx+1:])
	}
	header = strings.ToLower(header)
	switch header {
	case "*idn?":
		m.replies = append(m.replies, mockIDN)
		return nil
	case "system:error?":
		if len(m.errs) == 0 {
			m.replies = append(m.replies, `+0,"No error"`)
			return nil
		}
		m.replies = append(m.replies, m.errs[0])
		m.errs = m.errs[1:]
		return nil
	case "display:luminance", "display:contrast", "system:clksrc":
		return nil
	}
	if !strings.HasPrefix(header, "source") || len(header) < len("source1:") {
		m.fail(-113, "Undefined header")
		return nil
	}
	n, err := strconv.Atoi(header[len("source") : len("source")+1])
	c, ok := m.ch[n]
	if err != nil || !ok || header[len("source1")] != ':' {
		m.fail(-114, "Header suffix out of range")
		return nil
	}
	m.apply(c, header[len("source1:"):], arg)
	return nil
}

func (m *Mock) apply(c *mockChannel, sub, arg string) {
	float := func(dst *float64) {
		f, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			m.fail(-104, "Data type error")
			return
		}
		*dst = f
	}
	switch sub {
	case "output":
		switch strings.ToUpper(arg) {
		case "1", "ON":
			c.output = true
		case "0", "OFF":
			c.output = false
		default:
			m.fail(-224, "Illegal parameter value")
		}
	case "function":
		if strings.HasPrefix(strings.ToLower(arg), "sin") {
			c.function = "SIN"
		} else {
			c.function = strings.ToUpper(arg)
		}
	case "frequency":
		float(&c.frequency)
	case "voltage":
		float(&c.voltage)
	case "voltage:offset":
		float(&c.offset)
	case "phase":
		float(&c.phase)
	case "output:impedance":
		c.impedance = strings.ToLower(arg)
	case "output?":
		state := "OFF"
		if c.output {
			state = "ON"
		}
		m.replies = append(m.replies, state)
	case "function?":
		m.replies = append(m.replies, c.function)
	case "frequency?":
		m.replies = append(m.replies, formatFloat(c.frequency))
	case "voltage?":
		m.replies = append(m.replies, formatFloat(c.voltage))
	case "voltage:offset?":
		m.replies = append(m.replies, formatFloat(c.offset))
	case "phase?":
		m.replies = append(m.replies, formatFloat(c.phase))
	default:
		m.fail(-113, "Undefined header")
	}
}

// Read returns the reply to the oldest unanswered query, or times out
func (m *Mock) Read() (string, error) {
	m.Lock()
	defer m.Unlock()
	if len(m.replies) == 0 {
		return "", fmt.Errorf("mock DG1022: %w", comm.ErrTimeout)
	}
	r := m.replies[0]
	m.replies = m.replies[1:]
	return r, nil
}
