package fdfs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"
)

// ErrPoolClosed is returned by a pool after Close.
var ErrPoolClosed = errors.New("fdfs: connection pool closed")

// conn is a pooled connection to one tracker or storage server.
type conn struct {
	net.Conn
	addr     string
	lastUsed time.Time
}

// connPool keeps idle connections to a single server address. Every open
// connection, idle or in use, holds one of the MaxTotal slots.
type connPool struct {
	addr        string
	dial        func(ctx context.Context, addr string) (net.Conn, error)
	idleTimeout time.Duration
	slots       chan struct{}
	idle        chan *conn

	mu     sync.Mutex
	closed bool
}

func newConnPool(addr string, cfg Config) *connPool {
	d := &net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}
	return &connPool{
		addr: addr,
		dial: func(ctx context.Context, addr string) (net.Conn, error) {
			return d.DialContext(ctx, "tcp", addr)
		},
		idleTimeout: cfg.IdleTimeout,
		slots:       make(chan struct{}, cfg.MaxTotal),
		idle:        make(chan *conn, cfg.MaxIdle),
	}
}

// get returns an idle connection or dials a new one. It blocks while
// the pool is at capacity until a connection comes back, a slot frees up
// or ctx is done.
func (p *connPool) get(ctx context.Context) (*conn, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("wait for connection to %s: %w", p.addr, err)
		}
		if p.isClosed() {
			return nil, ErrPoolClosed
		}

		var c *conn
		select {
		case c = <-p.idle:
		default:
			select {
			case c = <-p.idle:
			case p.slots <- struct{}{}:
				return p.dialNew(ctx)
			case <-ctx.Done():
				return nil, fmt.Errorf("wait for connection to %s: %w", p.addr, ctx.Err())
			}
		}

		if p.idleTimeout > 0 && time.Since(c.lastUsed) > p.idleTimeout {
			if err := activeTest(c); err != nil {
				p.discard(c)
				continue
			}
		}
		return c, nil
	}
}

func (p *connPool) dialNew(ctx context.Context) (*conn, error) {
	nc, err := p.dial(ctx, p.addr)
	if err != nil {
		<-p.slots
		return nil, fmt.Errorf("dial %s: %w", p.addr, err)
	}
	return &conn{Conn: nc, addr: p.addr}, nil
}

// put hands a connection back. Connections that saw an I/O error are
// closed instead of being reused, and so are connections that do not fit
// in the idle list.
func (p *connPool) put(c *conn, broken bool) {
	if broken {
		p.discard(c)
		return
	}
	_ = c.SetDeadline(time.Time{})
	c.lastUsed = time.Now()

	p.mu.Lock()
	if !p.closed {
		select {
		case p.idle <- c:
			p.mu.Unlock()
			return
		default:
		}
	}
	p.mu.Unlock()
	quit(c)
	<-p.slots
}

// discard closes c and frees its slot.
func (p *connPool) discard(c *conn) {
	_ = c.Close()
	<-p.slots
}

func (p *connPool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *connPool) close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	for {
		select {
		case c := <-p.idle:
			quit(c)
			<-p.slots
		default:
			return
		}
	}
}

// poolSet lazily creates one pool per server address. Storage addresses
// are only learned from tracker responses, so pools cannot be built up front.
type poolSet struct {
	cfg Config

	mu     sync.Mutex
	pools  map[string]*connPool
	closed bool
}

func newPoolSet(cfg Config) *poolSet {
	return &poolSet{cfg: cfg, pools: make(map[string]*connPool)}
}

func (s *poolSet) get(ctx context.Context, addr string) (*conn, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p, ok := s.pools[addr]
	if !ok {
		p = newConnPool(addr, s.cfg)
		s.pools[addr] = p
	}
	s.mu.Unlock()
	return p.get(ctx)
}

func (s *poolSet) put(c *conn, broken bool) {
	s.mu.Lock()
	p, ok := s.pools[c.addr]
	s.mu.Unlock()
	if !ok {
		_ = c.Close()
		return
	}
	p.put(c, broken)
}

func (s *poolSet) close() {
	s.mu.Lock()
	pools := s.pools
	s.pools = make(map[string]*connPool)
	s.closed = true
	s.mu.Unlock()

	for _, p := range pools {
		p.close()
	}
}

// activeTest checks that an idle connection is still usable.
func activeTest(c net.Conn) error {
	_ = c.SetDeadline(time.Now().Add(5 * time.Second))
	defer c.SetDeadline(time.Time{}) //nolint:errcheck

	if _, err := c.Write(header{cmd: cmdActiveTest}.encode()); err != nil {
		return err
	}
	_, err := readResponse(c, cmdActiveTest, cmdTrackerResp)
	return err
}

// quit tells the server we are done and closes the connection.
func quit(c *conn) {
	_ = c.SetWriteDeadline(time.Now().Add(time.Second))
	if _, err := c.Write(header{cmd: cmdQuit}.encode()); err != nil {
		log.Printf("fdfs: send quit to %s: %v", c.addr, err)
	}
	_ = c.Close()
}
