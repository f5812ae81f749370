// Package locker lets an operator reserve a function generator over HTTP.
// While locked, every route of the generator except its lock route answers
// 423 Locked.
package locker

import (
	"encoding/json"
	"go/types"
	"net/http"
	"path"
	"sync/atomic"

	"github.com/golab-hw/fgctl/generichttp"
	"github.com/golab-hw/fgctl/server"
)

// Inject adds GET and POST /lock for l to the route table of other
func Inject(other generichttp.HTTPer, l *Locker) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/lock"}] = l.HTTPGet
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/lock"}] = l.HTTPSet
}

// Locker is a non-blocking lock over a set of routes
type Locker struct {
	isLocked atomic.Bool

	// DoNotProtect lists final path segments that stay reachable while
	// locked, e.g. "lock" for /fg/lock
	DoNotProtect []string
}

// New returns an unlocked Locker that leaves its own lock route open
func New() *Locker {
	return &Locker{DoNotProtect: []string{"lock"}}
}

// Lock the locker
func (l *Locker) Lock() {
	l.isLocked.Store(true)
}

// Unlock the locker
func (l *Locker) Unlock() {
	l.isLocked.Store(false)
}

// Locked returns true if the locker is locked
func (l *Locker) Locked() bool {
	return l.isLocked.Load()
}

// Check is middleware answering 423 to protected routes while locked
func (l *Locker) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.Locked() && l.protects(r.URL.Path) {
			http.Error(w, r.URL.Path+" is locked", http.StatusLocked)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *Locker) protects(p string) bool {
	last := path.Base(p)
	for _, str := range l.DoNotProtect {
		if last == str {
			return false
		}
	}
	return true
}

// HTTPSet locks or unlocks from a {"bool": true} body and replies with the
// resulting state
func (l *Locker) HTTPSet(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	b := server.BoolT{}
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if b.Bool {
		l.Lock()
	} else {
		l.Unlock()
	}
	l.HTTPGet(w, r)
}

// HTTPGet replies with Locked()
func (l *Locker) HTTPGet(w http.ResponseWriter, r *http.Request) {
	hp := server.HumanPayload{T: types.Bool, Bool: l.Locked()}
	hp.EncodeAndRespond(w, r)
}
