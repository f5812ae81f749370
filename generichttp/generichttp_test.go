package generichttp

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/golab-hw/fgctl/comm"
	"github.com/golab-hw/fgctl/scpi"
	"github.com/google/go-cmp/cmp"
)

type blame struct{}

func (blame) Error() string    { return "bad input" }
func (blame) BadRequest() bool { return true }

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("sine: %w", blame{}), http.StatusBadRequest},
		{&scpi.ProtocolViolation{Reason: "was not expected and may be invalid"}, http.StatusBadGateway},
		{fmt.Errorf("fg: %w", comm.ErrTimeout), http.StatusGatewayTimeout},
		{errors.New("broken pipe"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := StatusOf(c.err); got != c.want {
			t.Errorf("StatusOf(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestSubMuxSanitize(t *testing.T) {
	for _, in := range []string{"fg", "/fg", "fg/", "/fg/*"} {
		if got := SubMuxSanitize(in); got != "/fg" {
			t.Errorf("SubMuxSanitize(%q) = %q", in, got)
		}
	}
}

func TestEndpointsSorted(t *testing.T) {
	noop := func(http.ResponseWriter, *http.Request) {}
	rt := RouteTable{
		{http.MethodPost, "/lock"}:  noop,
		{http.MethodGet, "/lock"}:   noop,
		{http.MethodGet, "/errors"}: noop,
	}
	want := []string{"GET /errors", "GET /lock", "POST /lock"}
	if diff := cmp.Diff(want, rt.Endpoints()); diff != "" {
		t.Errorf("endpoints mismatch (-want +got):\n%s", diff)
	}
}
