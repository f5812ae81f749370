// Package ascii exposes pass-through SCPI access to an instrument over HTTP
package ascii

import (
	"encoding/json"
	"errors"
	"go/types"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/golab-hw/fgctl/generichttp"
	"github.com/golab-hw/fgctl/server"
)

// maxCommand bounds the request body of a raw command
const maxCommand = 4096

// ErrEmptyCommand is returned for a raw request with nothing to send
var ErrEmptyCommand = errors.New("empty raw command")

// RawCommunicator sends one SCPI command, returning the reply to queries
type RawCommunicator interface {
	Raw(string) (string, error)
}

// RawWrapper serves a RawCommunicator over HTTP
type RawWrapper struct {
	Comm RawCommunicator
}

// command extracts the SCPI command from r.  A text/plain body is the
// command itself; anything else is decoded as {"str": "..."}
func command(r *http.Request) (string, error) {
	body := io.LimitReader(r.Body, maxCommand)
	var cmd string
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "text/plain" {
		b, err := io.ReadAll(body)
		if err != nil {
			return "", err
		}
		cmd = string(b)
	} else {
		str := server.StrT{}
		if err := json.NewDecoder(body).Decode(&str); err != nil {
			return "", err
		}
		cmd = str.Str
	}
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return "", ErrEmptyCommand
	}
	return cmd, nil
}

// HTTPRaw forwards the command in the body, e.g. source1:frequency?, to the
// instrument.  Queries reply with the instrument's answer and commands with
// an empty string, as JSON {"str": ...} or bare text per the Accept header.
// A body that holds no command is a 400.
func (rw *RawWrapper) HTTPRaw(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	cmd, err := command(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp, err := rw.Comm.Raw(cmd)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	hp := server.HumanPayload{T: types.String, String: strings.TrimSpace(resp)}
	hp.EncodeAndRespond(w, r)
}

// InjectRawComm adds POST /raw for raw to a route table
func InjectRawComm(rt generichttp.RouteTable, raw RawCommunicator) {
	wrap := RawWrapper{Comm: raw}
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/raw"}] = wrap.HTTPRaw
}
