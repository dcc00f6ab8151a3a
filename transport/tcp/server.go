package tcp

import (
	"net"
	"time"

	"github.com/tsrpc-go/tsrpc/conn"
	"github.com/tsrpc-go/tsrpc/logx"
	"github.com/tsrpc-go/tsrpc/servicemap"
	"github.com/tsrpc-go/tsrpc/validator"
)

// ListenOptions configures the accept side, generalizing server.go's
// Serve(network, address, advertiseAddr, reg) — discovery registration is
// handled one layer up, by the server package, so Listener only needs to
// know how to mint a Connection per accepted socket.
type ListenOptions struct {
	Addr string

	ServiceMap  *servicemap.ServiceMap
	Validator   validator.Validator
	Flows       *conn.FlowSet
	Logger      *logx.Logger
	ApiHandlers *conn.HandlerTable

	ApiCallTimeout   time.Duration
	ReturnInnerError bool

	// OnApiCallStart/OnApiCallEnd are forwarded into every accepted
	// Connection's Options so an owning server package can track
	// in-flight handler calls for graceful stop (spec.md §4.6).
	OnApiCallStart func()
	OnApiCallEnd   func()

	// OnAccept is called once per accepted connection, after MarkConnected,
	// so the owning server package can track it for broadcast/shutdown
	// (spec.md §4.6) without this package depending on server.
	OnAccept func(*conn.Connection)
}

// Listener is the accept-loop half of the duplex TCP transport, adapted
// from server.go's Serve + handleConn: one goroutine accepts, one goroutine
// per connection reads frames (now inside Transport.recvLoop), and request
// handling itself is dispatched per-request by conn.Connection.Dispatch.
type Listener struct {
	nl net.Listener
}

func Listen(opts ListenOptions) (*Listener, error) {
	nl, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return nil, err
	}
	l := &Listener{nl: nl}
	go l.acceptLoop(opts)
	return l, nil
}

func (l *Listener) acceptLoop(opts ListenOptions) {
	for {
		nc, err := l.nl.Accept()
		if err != nil {
			return
		}
		go l.handleAccept(nc, opts)
	}
}

func (l *Listener) handleAccept(nc net.Conn, opts ListenOptions) {
	t := NewTransport(nc)
	c := conn.New(conn.Options{
		Transport:        t,
		ServiceMap:       opts.ServiceMap,
		Validator:        opts.Validator,
		Flows:            opts.Flows,
		Logger:           opts.Logger,
		Side:             servicemap.SideServer,
		ApiHandlers:      opts.ApiHandlers,
		ApiCallTimeout:   opts.ApiCallTimeout,
		ReturnInnerError: opts.ReturnInnerError,
		OnApiCallStart:   opts.OnApiCallStart,
		OnApiCallEnd:     opts.OnApiCallEnd,
	})
	c.MarkConnected()
	if opts.OnAccept != nil {
		opts.OnAccept(c)
	}
}

func (l *Listener) Addr() net.Addr { return l.nl.Addr() }

func (l *Listener) Close() error { return l.nl.Close() }
