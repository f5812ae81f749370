package comm

import (
	"io"
	"sync"
	"time"

	"go.uber.org/multierr"
)

// CreationFunc is a function which returns a new "connection" to something
// a closure should be used to encapsulate the variables and functions needed
type CreationFunc func() (io.ReadWriteCloser, error)

// Pool is a communication pool which holds one or more connections to a device
// that will be closed if they are not in use, and re-opened as needed.
// it is concurrent safe.  Pools must be created with NewPool.
type Pool struct {
	maxSize int                     // maximum number of connections, == cap(conns)
	onLease int                     // number of connections given out, <= cap(conns)
	timeout time.Duration           // time after onLease == 0 to free all connections
	conns   chan io.ReadWriteCloser // idle connections
	timer   *time.Timer             // fires reclaim once every connection is idle
	maker   CreationFunc

	mu sync.Mutex
}

// NewPool creates a pool of at most maxSize connections.  A timeout <= 0
// keeps idle connections open until Close.
func NewPool(maxSize int, timeout time.Duration, maker CreationFunc) *Pool {
	return &Pool{
		maxSize: maxSize,
		timeout: timeout,
		conns:   make(chan io.ReadWriteCloser, maxSize),
		maker:   maker,
	}
}

// Get retrieves a connection, blocking until one is available if all are in
// use.  It is guaranteed that there is no contention for the connection.
//
// When done with it, return it with Put(), or discard it with Destroy() if
// it has become no good (e.g., all calls error).
//
// If the error from Get is not nil, you must not return it to the pool.
func (p *Pool) Get() (io.ReadWriteCloser, error) {
	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
	}
	// short circuit: if a connection is idle, immediately return it
	select {
	case c := <-p.conns:
		p.onLease++
		p.mu.Unlock()
		return c, nil
	default:
	}
	if p.onLease < p.maxSize {
		// reserve a slot before dialing so concurrent Gets don't overshoot
		p.onLease++
		p.mu.Unlock()
		c, err := p.maker()
		if err != nil {
			p.mu.Lock()
			p.onLease--
			p.mu.Unlock()
		}
		return c, err
	}
	p.mu.Unlock()

	// they're all given out, wait for one to come back
	c := <-p.conns
	p.mu.Lock()
	p.onLease++
	p.mu.Unlock()
	return c, nil
}

// Put restores a connection to the pool.  It may be reused, or will be
// automatically freed after all connections are returned and the timeout
// has elapsed.
func (p *Pool) Put(c io.ReadWriteCloser) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onLease--
	p.conns <- c
	if p.onLease == 0 && p.timeout > 0 {
		p.timer = time.AfterFunc(p.timeout, p.reclaim)
	}
}

// Destroy immediately frees a connection from the pool.  This should be used
// instead of Put if the connection has gone bad.
func (p *Pool) Destroy(c io.ReadWriteCloser) {
	p.mu.Lock()
	p.onLease--
	p.mu.Unlock()
	c.Close()
}

// Size returns the number of connections in the pool, or given out from it
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns) + p.onLease
}

// Active returns the number of connections owned by the pool that are currently
// given out
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onLease
}

func (p *Pool) reclaim() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.onLease > 0 {
		return
	}
	p.drain()
}

// drain closes every idle connection; p.mu must be held
func (p *Pool) drain() error {
	var err error
	for {
		select {
		case c := <-p.conns:
			err = multierr.Append(err, c.Close())
		default:
			return err
		}
	}
}

// Close frees all idle connections.  Connections on lease are closed when
// they are returned with Destroy.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
	}
	return p.drain()
}
