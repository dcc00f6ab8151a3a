package conn

import (
	"fmt"
	"sync"
)

// Pool manages reusable duplex Connections to a single logical target,
// adapted from transport/pool.go's ConnPool: a buffered channel as a FIFO
// free-list, lazy creation up to maxConns, and a borrow/return protocol.
// Unlike the teacher's client, which keeps a flat []*ClientTransport and
// round-robins across all of them for every call (every connection always
// multiplexed), Pool supports the exclusive-borrow usage pattern the
// teacher kept this type around for: one caller, one Connection, at a time.
type Pool struct {
	mu       sync.Mutex
	conns    chan *Connection
	maxConns int
	curConns int
	factory  func() (*Connection, error)
}

func NewPool(maxConns int, factory func() (*Connection, error)) *Pool {
	return &Pool{
		conns:    make(chan *Connection, maxConns),
		maxConns: maxConns,
		factory:  factory,
	}
}

// Get returns an idle Connection, creating one if under maxConns, or
// blocks until one is returned.
func (p *Pool) Get() (*Connection, error) {
	select {
	case c := <-p.conns:
		if c.State() == StateDisconnected {
			return p.createNew()
		}
		return c, nil
	default:
		p.mu.Lock()
		if p.curConns < p.maxConns {
			p.mu.Unlock()
			return p.createNew()
		}
		p.mu.Unlock()
		c := <-p.conns
		return c, nil
	}
}

// Put returns c to the pool, discarding it instead if it has disconnected.
func (p *Pool) Put(c *Connection) {
	if c.State() == StateDisconnected {
		p.mu.Lock()
		p.curConns--
		p.mu.Unlock()
		return
	}
	p.conns <- c
}

func (p *Pool) createNew() (*Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.curConns >= p.maxConns {
		return nil, fmt.Errorf("conn: pool exhausted")
	}

	c, err := p.factory()
	if err != nil {
		return nil, err
	}
	p.curConns++
	return c, nil
}

// Close disconnects every idle Connection currently sitting in the pool.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	close(p.conns)
	for c := range p.conns {
		c.Disconnect("pool closed", true)
		p.curConns--
	}
}
