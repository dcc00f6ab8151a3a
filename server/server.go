// Package server implements Server (spec.md §4.6, C6): the process that
// owns a TCP listener, a ServiceMap, a shared HandlerTable, and the set of
// currently-connected peers it broadcasts messages to and drains on
// graceful stop. The HTTP specialization is transport/http's own Server.
//
// This generalizes server/server.go: the teacher's Server held a
// serviceMap of reflection-scanned *service values and a middleware chain
// built once at Serve time; here it holds a servicemap.ServiceMap (schema
// resolution only — dispatch goes through conn.Connection) and a
// conn.FlowSet instead of middleware.Chain, and every accepted socket
// becomes a conn.Connection added to a tracked set instead of being
// handled by a bespoke handleConn/handleRequest pair.
package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tsrpc-go/tsrpc/conn"
	"github.com/tsrpc-go/tsrpc/discovery"
	"github.com/tsrpc-go/tsrpc/errs"
	"github.com/tsrpc-go/tsrpc/logx"
	"github.com/tsrpc-go/tsrpc/servicemap"
	"github.com/tsrpc-go/tsrpc/transport/tcp"
	"github.com/tsrpc-go/tsrpc/transportdata"
	"github.com/tsrpc-go/tsrpc/validator"
	"go.uber.org/multierr"
)

func discoveryContext() context.Context { return context.Background() }

// State mirrors spec.md §3's four server lifecycle states.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateStarted
	StateStopping
)

// Options configures a Server (spec.md §4.6).
type Options struct {
	Addr string

	ServiceMap *servicemap.ServiceMap
	Validator  validator.Validator
	Flows      *conn.FlowSet
	Logger     *logx.Logger

	ApiCallTimeout   time.Duration
	ReturnInnerError bool

	// HandlerLoader auto-registers API handlers for LocalAPI services that
	// ImplementApi never registered explicitly (spec.md §4.6 "auto
	// implement" + SPEC_FULL.md §4.12). Nil disables auto-implementation.
	HandlerLoader HandlerLoader

	// Discovery, when non-nil, registers every LocalAPI service under
	// AdvertiseAddr on Start and deregisters on Stop (spec.md §4.6 + §4.11).
	Discovery     *discovery.EtcdDiscovery
	AdvertiseAddr string
	RegistryTTL   int64

	// StopGraceTimeout bounds how long Stop waits for in-flight handler
	// calls to finish before it force-disconnects everyone (spec.md §4.6
	// graceful drain vs hard stop).
	StopGraceTimeout time.Duration
}

// Server is spec.md's C6.
type Server struct {
	opts Options

	apiHandlers *conn.HandlerTable
	listener    *tcp.Listener

	mu          sync.Mutex
	state       State
	connections map[uint32]*conn.Connection

	pendingApiCallNum int64
	pendingMu         sync.Mutex
}

func New(opts Options) *Server {
	return &Server{
		opts:        opts,
		apiHandlers: conn.NewHandlerTable(),
		connections: make(map[uint32]*conn.Connection),
	}
}

// ImplementApi registers handler for apiName across every current and
// future connection this server owns (spec.md §4.6).
func (s *Server) ImplementApi(apiName string, handler conn.HandlerFunc) {
	s.apiHandlers.Set(apiName, handler)
}

func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start transitions Stopped -> Starting -> Started: binds the listener,
// auto-implements any LocalAPI service left unregistered, and registers
// with Discovery if configured (spec.md §4.6).
func (s *Server) Start() error {
	s.mu.Lock()
	if s.state != StateStopped {
		s.mu.Unlock()
		return fmt.Errorf("server: Start called from state %v, want Stopped", s.state)
	}
	s.state = StateStarting
	s.mu.Unlock()

	if s.opts.HandlerLoader != nil {
		for name, svc := range s.opts.ServiceMap.LocalAPI {
			if _, ok := s.apiHandlers.Get(name); ok {
				continue
			}
			if h, ok := s.opts.HandlerLoader.Load(svc); ok {
				s.apiHandlers.Set(name, h)
			}
		}
	}

	listener, err := tcp.Listen(tcp.ListenOptions{
		Addr:             s.opts.Addr,
		ServiceMap:       s.opts.ServiceMap,
		Validator:        s.opts.Validator,
		Flows:            s.opts.Flows,
		Logger:           s.opts.Logger,
		ApiHandlers:      s.apiHandlers,
		ApiCallTimeout:   s.opts.ApiCallTimeout,
		ReturnInnerError: s.opts.ReturnInnerError,
		OnApiCallStart:   s.OnApiCallStart,
		OnApiCallEnd:     s.OnApiCallEnd,
		OnAccept:         s.trackConnection,
	})
	if err != nil {
		s.mu.Lock()
		s.state = StateStopped
		s.mu.Unlock()
		return err
	}
	s.listener = listener

	if s.opts.Discovery != nil {
		ctx := discoveryContext()
		for name := range s.opts.ServiceMap.LocalAPI {
			if err := s.opts.Discovery.Register(ctx, name, discovery.Instance{Addr: s.opts.AdvertiseAddr}, s.opts.RegistryTTL); err != nil {
				if s.opts.Logger != nil {
					s.opts.Logger.Warn("server: discovery register failed for", name, err)
				}
			}
		}
	}

	s.mu.Lock()
	s.state = StateStarted
	s.mu.Unlock()
	return nil
}

func (s *Server) trackConnection(c *conn.Connection) {
	s.mu.Lock()
	if s.state == StateStopping || s.state == StateStopped {
		s.mu.Unlock()
		c.Disconnect("server stopping", false)
		return
	}
	s.connections[c.ID] = c
	s.mu.Unlock()
}

// Stop transitions Started -> Stopping -> Stopped: deregisters from
// discovery, stops accepting, waits up to StopGraceTimeout for in-flight
// handler calls to drain, then force-disconnects anything left (spec.md
// §4.6's graceful-then-hard stop).
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.state != StateStarted {
		s.mu.Unlock()
		return fmt.Errorf("server: Stop called from state %v, want Started", s.state)
	}
	s.state = StateStopping
	s.mu.Unlock()

	if s.opts.Discovery != nil {
		ctx := discoveryContext()
		for name := range s.opts.ServiceMap.LocalAPI {
			_ = s.opts.Discovery.Deregister(ctx, name, s.opts.AdvertiseAddr)
		}
	}

	if s.listener != nil {
		s.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		for {
			s.pendingMu.Lock()
			n := s.pendingApiCallNum
			s.pendingMu.Unlock()
			if n <= 0 {
				close(done)
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
	}()

	select {
	case <-done:
	case <-time.After(s.opts.StopGraceTimeout):
	}

	s.mu.Lock()
	for _, c := range s.connections {
		c.Disconnect("server stopped", true)
	}
	s.connections = make(map[uint32]*conn.Connection)
	s.state = StateStopped
	s.mu.Unlock()

	return nil
}

// OnApiCallStart/OnApiCallEnd back the pendingApiCallNum gauge Stop waits
// on to drain in-flight handler calls (spec.md §4.6). Wired into every
// accepted Connection via tcp.ListenOptions.
func (s *Server) OnApiCallStart() {
	s.pendingMu.Lock()
	s.pendingApiCallNum++
	s.pendingMu.Unlock()
}

func (s *Server) OnApiCallEnd() {
	s.pendingMu.Lock()
	s.pendingApiCallNum--
	s.pendingMu.Unlock()
}

// BroadcastMsg sends msgName/msg to every currently connected peer,
// encoding the body exactly once per distinct conn.DataType in play
// (spec.md §4.6's broadcast-encode-once optimization: "the message body is
// encoded exactly |{dataTypes present}| times regardless of conns.length"),
// running preSendData once per partition rather than per connection, and
// aggregating every per-connection send failure via multierr instead of
// stopping at the first (adapted from the teacher's pattern of collecting,
// not short-circuiting, background errors).
func (s *Server) BroadcastMsg(msgName string, msg any) error {
	s.mu.Lock()
	if s.state != StateStarted {
		s.mu.Unlock()
		return fmt.Errorf("server: Server is not started")
	}
	targets := make([]*conn.Connection, 0, len(s.connections))
	for _, c := range s.connections {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	if len(targets) == 0 {
		return nil
	}

	if s.opts.Flows != nil {
		preCtx := &conn.PreBroadcastMsgCtx{MsgName: msgName, Msg: msg, Conns: targets}
		preCtx, aborted := s.opts.Flows.PreBroadcastMsg.Exec(preCtx)
		if aborted {
			return conn.ErrAborted
		}
		msg = preCtx.Msg
		targets = preCtx.Conns
	}

	svc, ok := s.opts.ServiceMap.GetByName(msgName)
	if !ok {
		return errs.Local("unknown message " + msgName)
	}
	body, err := s.opts.Validator.EncodeSchema(svc.MsgSchemaID, msg)
	if err != nil {
		return errs.Local("encode message failed: " + err.Error())
	}

	byType := make(map[conn.DataType][]*conn.Connection, 2)
	for _, c := range targets {
		byType[c.DataType()] = append(byType[c.DataType()], c)
	}

	var aggErr error
	for dataType, conns := range byType {
		td := transportdata.NewMsg(msgName, body)

		var encoded []byte
		var encErr error
		if dataType == conn.DataTypeBuffer {
			encoded, encErr = transportdata.EncodeBinary(s.opts.ServiceMap, td)
		} else {
			encoded, encErr = transportdata.EncodeText(td, false)
		}
		if encErr != nil {
			aggErr = multierr.Append(aggErr, encErr)
			continue
		}

		if s.opts.Flows != nil {
			preSendCtx := &conn.PreSendDataCtx{Data: encoded, TransportData: td, Conn: conns[0], Conns: conns}
			preSendCtx, aborted := s.opts.Flows.PreSendData.Exec(preSendCtx)
			if aborted {
				continue
			}
			encoded = preSendCtx.Data
		}

		for _, c := range conns {
			if err := c.RawSend(encoded); err != nil {
				aggErr = multierr.Append(aggErr, err)
			}
		}

		if s.opts.Flows != nil {
			s.opts.Flows.PostSendData.Exec(&conn.PostSendDataCtx{Data: encoded, TransportData: td, Conn: conns[0], Conns: conns})
		}
	}
	return aggErr
}

func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connections)
}
