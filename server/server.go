// Package server contains the payload types shared by the HTTP interfaces.
package server

import (
	"encoding/json"
	"fmt"
	"go/types"
	"net/http"
	"strconv"
	"strings"
)

// FloatT is a struct with a single float64 field, f64
type FloatT struct {
	F64 float64 `json:"f64"`
}

// IntT is a struct with a single int field, int
type IntT struct {
	Int int `json:"int"`
}

// StrT is a struct with a single string field, str
type StrT struct {
	Str string `json:"str"`
}

// BoolT is a struct with a single bool field, bool
type BoolT struct {
	Bool bool `json:"bool"`
}

// HumanPayload is a struct able to hold one of a few scalar types and
// reply with it over HTTP, as JSON or as plain text
type HumanPayload struct {
	T      types.BasicKind
	Float  float64
	Int    int
	String string
	Bool   bool
}

func (hp HumanPayload) text() string {
	switch hp.T {
	case types.Float64:
		return strconv.FormatFloat(hp.Float, 'G', -1, 64)
	case types.Int:
		return strconv.Itoa(hp.Int)
	case types.Bool:
		return strconv.FormatBool(hp.Bool)
	default:
		return hp.String
	}
}

func (hp HumanPayload) object() interface{} {
	switch hp.T {
	case types.Float64:
		return FloatT{F64: hp.Float}
	case types.Int:
		return IntT{Int: hp.Int}
	case types.Bool:
		return BoolT{Bool: hp.Bool}
	default:
		return StrT{Str: hp.String}
	}
}

// EncodeAndRespond writes the payload to w.  Clients which Accept
// text/plain get the bare value, everyone else gets JSON such as {"f64": 1}
func (hp HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	if strings.Contains(r.Header.Get("Accept"), "text/plain") {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, hp.text())
		return
	}
	EncodeJSON(w, hp.object())
}

// EncodeJSON replies with v as JSON, or an error if it cannot be encoded
func EncodeJSON(w http.ResponseWriter, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		fstr := fmt.Sprintf("error encoding response to json %q", err)
		http.Error(w, fstr, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}
