package locker

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCheckBlocksWhenLocked(t *testing.T) {
	l := New()
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := l.Check(next)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/fg/ch1/sine", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected unlocked request to pass, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	l.HTTPSet(w, httptest.NewRequest("POST", "/fg/lock", strings.NewReader(`{"bool":true}`)))
	if !l.Locked() {
		t.Fatal("expected locker to be locked")
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/fg/ch1/sine", nil))
	if w.Code != http.StatusLocked {
		t.Errorf("expected 423 while locked, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/fg/lock", nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected lock route to stay reachable, got %d", w.Code)
	}
}

func TestHTTPSetRejectsGarbage(t *testing.T) {
	w := httptest.NewRecorder()
	New().HTTPSet(w, httptest.NewRequest("POST", "/lock", strings.NewReader("yes")))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestLockOnlyExemptsLockRoute(t *testing.T) {
	l := New()
	l.Lock()
	h := l.Check(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))
	for path, want := range map[string]int{
		"/fg/lock":       http.StatusOK,
		"/fg/clock":      http.StatusLocked,
		"/fg/lock/extra": http.StatusLocked,
		"/fg/ch1/sine":   http.StatusLocked,
	} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		if w.Code != want {
			t.Errorf("%s: expected %d, got %d", path, want, w.Code)
		}
	}
}

func TestHTTPSetRepliesWithState(t *testing.T) {
	l := New()
	w := httptest.NewRecorder()
	l.HTTPSet(w, httptest.NewRequest("POST", "/fg/lock", strings.NewReader(`{"bool":true}`)))
	if got := strings.TrimSpace(w.Body.String()); got != `{"bool":true}` {
		t.Errorf("expected the new state in the reply, got %s", got)
	}
	w = httptest.NewRecorder()
	l.HTTPSet(w, httptest.NewRequest("POST", "/fg/lock", strings.NewReader(`{"bool":false}`)))
	if l.Locked() || strings.TrimSpace(w.Body.String()) != `{"bool":false}` {
		t.Errorf("expected unlock, got locked=%v %s", l.Locked(), w.Body.String())
	}
}
