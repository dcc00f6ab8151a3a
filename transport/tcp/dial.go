package tcp

import (
	"net"
	"time"

	"github.com/tsrpc-go/tsrpc/conn"
	"github.com/tsrpc-go/tsrpc/logx"
	"github.com/tsrpc-go/tsrpc/servicemap"
	"github.com/tsrpc-go/tsrpc/validator"
)

// DialOptions configures an outbound duplex connection, mirroring the
// fields ClientOptions exposes in spec.md §6 that the teacher's
// NewClientTransport hardcoded (30s heartbeat interval, JSON-only codec).
type DialOptions struct {
	Addr       string
	DialTimeout time.Duration

	ServiceMap *servicemap.ServiceMap
	Validator  validator.Validator
	Flows      *conn.FlowSet
	Logger     *logx.Logger

	CallApiTimeout   time.Duration
	ReturnInnerError bool
	Heartbeat        conn.HeartbeatPolicy
}

// Dial opens a TCP connection, wraps it in a Transport, and brings up a
// conn.Connection through the full preConnect/postConnect lifecycle
// (spec.md §4.3). This folds NewClientTransport's dial-then-spin-up-
// goroutines shape into conn.Connection's state machine instead of leaving
// the recv/heartbeat loops free-standing.
func Dial(opts DialOptions) (*conn.Connection, error) {
	dialer := net.Dialer{Timeout: opts.DialTimeout}
	nc, err := dialer.Dial("tcp", opts.Addr)
	if err != nil {
		return nil, err
	}

	t := NewTransport(nc)
	c := conn.New(conn.Options{
		Transport:        t,
		ServiceMap:       opts.ServiceMap,
		Validator:        opts.Validator,
		Flows:            opts.Flows,
		Logger:           opts.Logger,
		Side:             servicemap.SideClient,
		CallApiTimeout:   opts.CallApiTimeout,
		ReturnInnerError: opts.ReturnInnerError,
		Heartbeat:        opts.Heartbeat,
	})

	if !c.RunPreConnect() {
		t.Close()
		return nil, conn.ErrAborted
	}
	c.MarkConnected()
	return c, nil
}
