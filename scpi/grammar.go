package scpi

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// RequestKind identifies a query whose response has a known grammar
type RequestKind int

const (
	// RequestIDN is the identification query, *IDN?
	RequestIDN RequestKind = iota + 1

	// RequestError pops one entry of the error queue, SYSTem:ERRor?
	RequestError
)

// Command returns the text sent to the device for the request
func (k RequestKind) Command() string {
	switch k {
	case RequestIDN:
		return "*IDN?"
	case RequestError:
		return "SYSTem:ERRor?"
	default:
		return fmt.Sprintf("RequestKind(%d)", int(k))
	}
}

func (k RequestKind) String() string {
	return k.Command()
}

// ErrProtocolViolation is matched by every *ProtocolViolation via errors.Is
var ErrProtocolViolation = errors.New("protocol violation")

// ProtocolViolation is a response that does not fit the grammar of its
// request, or holds a field value outside the allow-list
type ProtocolViolation struct {
	Request  RequestKind
	Response string

	// Field and Value are set when an allow-list rejected the response
	Field string
	Value string

	Reason string
}

// Error satisfies stdlib error interface
func (e *ProtocolViolation) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("response %q to %q: unsupported %s %q: %s",
			e.Response, e.Request, e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("response %q to %q: %s", e.Response, e.Request, e.Reason)
}

// Is makes errors.Is(err, ErrProtocolViolation) hold
func (e *ProtocolViolation) Is(target error) bool {
	return target == ErrProtocolViolation
}

// Grammar is the expected shape of a response.  Pattern must match the
// whole response; its named groups become Fields.  Allow optionally lists,
// per named group, the patterns the (trimmed) group value may start with.
type Grammar struct {
	Pattern *regexp.Regexp
	Allow   map[string][]*regexp.Regexp
}

// MustGrammar compiles a Grammar, panicking if a pattern does not compile or
// an allow-list names a group the pattern does not have.  It is meant for
// package level tables built once at init.
func MustGrammar(pattern string, allow map[string][]string) Grammar {
	g := Grammar{Pattern: regexp.MustCompile(`^(?:` + pattern + `)$`)}
	if len(allow) == 0 {
		return g
	}
	names := map[string]bool{}
	for _, n := range g.Pattern.SubexpNames() {
		names[n] = true
	}
	g.Allow = make(map[string][]*regexp.Regexp, len(allow))
	for field, pats := range allow {
		if !names[field] {
			panic(fmt.Sprintf("scpi: allow-list for unknown group %q in %q", field, pattern))
		}
		for _, p := range pats {
			// prefix match, like a "starts with" test
			g.Allow[field] = append(g.Allow[field], regexp.MustCompile(`^(?:`+strings.TrimSpace(p)+`)`))
		}
	}
	return g
}

// Fields maps the named groups of a Grammar to the text they matched
type Fields map[string]string

// Table maps requests to the grammar of their responses.  Tables are built
// once and not modified afterwards.
type Table map[RequestKind]Grammar

// Validate matches raw against the grammar registered for kind and returns
// the named fields.  Every failure is a *ProtocolViolation.
func (t Table) Validate(kind RequestKind, raw string) (Fields, error) {
	g, ok := t[kind]
	if !ok {
		return nil, &ProtocolViolation{Request: kind, Response: raw, Reason: "no grammar registered for request"}
	}
	m := g.Pattern.FindStringSubmatch(raw)
	if m == nil {
		return nil, &ProtocolViolation{Request: kind, Response: raw, Reason: "was not expected and may be invalid"}
	}
	fields := Fields{}
	for i, name := range g.Pattern.SubexpNames() {
		if name != "" {
			fields[name] = m[i]
		}
	}
	for field, pats := range g.Allow {
		value := strings.TrimSpace(fields[field])
		matched := false
		for _, p := range pats {
			if p.MatchString(value) {
				matched = true
				break
			}
		}
		if !matched {
			return nil, &ProtocolViolation{
				Request:  kind,
				Response: raw,
				Field:    field,
				Value:    value,
				Reason:   "not supported by this software so far"}
		}
	}
	return fields, nil
}
