// Package conn implements the shared Connection state machine (spec.md
// §4.5, C5): the per-endpoint API (callApi, sendMsg, onMsg, implementApi,
// disconnect) that both a duplex client and a duplex server-side peer
// connection use. It consumes ServiceMap, TransportData, Flow, and
// PendingRegistry (C1-C4) and is driven by any Transport implementation —
// transport/tcp's duplex socket transport is one; transport/http
// specializes the same collaborators directly instead of implementing this
// Transport interface, per spec.md §4.7.
//
// This generalizes transport/client_transport.go's ClientTransport (which
// already multiplexes many in-flight requests over one socket via a
// sequence-number-keyed pending map and a background recvLoop) and
// server/server.go's per-connection handling, merging both into one
// symmetric type since spec.md's Connection is explicitly "shared by
// client and server."
package conn

import (
	"fmt"
	"sync"
	"time"

	"github.com/tsrpc-go/tsrpc/errs"
	"github.com/tsrpc-go/tsrpc/logx"
	"github.com/tsrpc-go/tsrpc/pending"
	"github.com/tsrpc-go/tsrpc/servicemap"
	"github.com/tsrpc-go/tsrpc/transportdata"
	"github.com/tsrpc-go/tsrpc/validator"
)

// State is one of the four values spec.md §3 defines for Connection.
type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnecting
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateDisconnecting:
		return "Disconnecting"
	case StateDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// Connection is spec.md's C5. Zero value is not usable; construct with New.
type Connection struct {
	ID uint32

	transport Transport
	sm        *servicemap.ServiceMap
	validator validator.Validator
	flows     *FlowSet
	logger    *logx.Logger
	side      servicemap.Side

	pending      *pending.Registry
	apiHandlers  *HandlerTable
	msgListeners *listenerTable

	callApiTimeout   time.Duration
	apiCallTimeout   time.Duration
	returnInnerError bool

	heartbeat     HeartbeatPolicy
	stopHeartbeat chan struct{}

	onApiCallStart func()
	onApiCallEnd   func()

	mu    sync.Mutex
	state State
}

var connIDCounter logx.Counter

// New constructs a duplex Connection and wires it to the transport's recv
// path. The connection starts in StateConnecting.
func New(opts Options) *Connection {
	apiHandlers := opts.ApiHandlers
	if apiHandlers == nil {
		apiHandlers = NewHandlerTable()
	}
	flows := opts.Flows
	if flows == nil {
		flows = NewFlowSet(opts.Logger)
	}
	v := opts.Validator
	if v == nil {
		v = validator.JSONValidator{}
	}

	c := &Connection{
		ID:               connIDCounter.Next(),
		transport:        opts.Transport,
		sm:               opts.ServiceMap,
		validator:        v,
		flows:            flows,
		logger:           opts.Logger,
		side:             opts.Side,
		pending:          pending.New(opts.Logger),
		apiHandlers:      apiHandlers,
		msgListeners:     newListenerTable(),
		callApiTimeout:   opts.CallApiTimeout,
		apiCallTimeout:   opts.ApiCallTimeout,
		returnInnerError: opts.ReturnInnerError,
		heartbeat:        opts.Heartbeat,
		stopHeartbeat:    make(chan struct{}),
		onApiCallStart:   opts.OnApiCallStart,
		onApiCallEnd:     opts.OnApiCallEnd,
		state:            StateConnecting,
	}

	if c.transport != nil {
		c.transport.SetRecvHandler(c.onTransportRecv)
	}
	return c
}

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// transitionTo enforces the monotonic-forward rule of spec.md §3:
// transitions only ever move Connecting -> Connected -> Disconnecting ->
// Disconnected, except that Disconnected -> Connecting is allowed to
// support reconnection.
func (c *Connection) transitionTo(next State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.state
	ok := false
	switch cur {
	case StateConnecting:
		ok = next == StateConnected
	case StateConnected:
		ok = next == StateDisconnecting
	case StateDisconnecting:
		ok = next == StateDisconnected
	case StateDisconnected:
		ok = next == StateConnecting
	}
	if ok {
		c.state = next
	}
	return ok
}

// RunPreConnect executes the preConnect flow (spec.md §4.3) before the
// Connection is marked connected. It does not gate the socket dial:
// transport/tcp's Dial runs it after the socket is already open, and closes
// that socket when this returns false.
func (c *Connection) RunPreConnect() bool {
	_, aborted := c.flows.PreConnect.Exec(&PreConnectCtx{Conn: c})
	return !aborted
}

// MarkConnected transitions Connecting -> Connected, starts the heartbeat
// loop if enabled, and runs postConnect.
func (c *Connection) MarkConnected() {
	if !c.transitionTo(StateConnected) {
		return
	}
	if c.heartbeat.Enabled {
		go c.heartbeatLoop()
	}
	c.flows.PostConnect.Exec(&PostConnectCtx{Conn: c})
}

// Disconnect transitions to Disconnecting, drains pending calls with a
// NetworkError, closes the transport, transitions to Disconnected, and
// runs postDisconnect (spec.md §4.5).
func (c *Connection) Disconnect(reason string, isManual bool) {
	if !c.transitionTo(StateDisconnecting) {
		return
	}
	close(c.stopHeartbeat)
	c.pending.DisconnectAll()
	if c.transport != nil {
		c.transport.Close()
	}
	c.transitionTo(StateDisconnected)
	c.flows.PostDisconnect.Exec(&PostDisconnectCtx{Conn: c, Reason: reason, IsManual: isManual})
}

func (c *Connection) heartbeatLoop() {
	ticker := time.NewTicker(c.heartbeat.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopHeartbeat:
			return
		case <-ticker.C:
			hb := &transportdata.TransportData{Kind: transportdata.KindHeartbeat}
			if err := c.sendTransportData(hb, nil); err != nil {
				if c.logger != nil {
					c.logger.Warn("heartbeat send failed:", err)
				}
				return
			}
		}
	}
}

// sendTransportData boxes td per this connection's DataType, runs
// preSendData/postSendData around the transport send (spec.md §4.3), and
// transmits it. conns is non-nil only for a broadcast partition, so the
// flow nodes can see the full target set (spec.md §4.6).
func (c *Connection) sendTransportData(td *transportdata.TransportData, conns []*Connection) error {
	data, err := c.encode(td)
	if err != nil {
		return err
	}

	preCtx := &PreSendDataCtx{Data: data, TransportData: td, Conn: c, Conns: conns}
	preCtx, aborted := c.flows.PreSendData.Exec(preCtx)
	if aborted {
		return errAborted
	}
	data = preCtx.Data

	if err := c.transport.Send(data); err != nil {
		return err
	}

	c.flows.PostSendData.Exec(&PostSendDataCtx{Data: data, TransportData: td, Conn: c, Conns: conns})
	return nil
}

// DataType reports whether this connection's transport carries text or
// binary frames (spec.md §4.6's broadcast partitioning key).
func (c *Connection) DataType() DataType {
	return c.transport.DataType()
}

// RawSend hands already-boxed bytes straight to the transport, bypassing
// encode and the preSendData/postSendData flow. Server.BroadcastMsg uses
// this after running preSendData exactly once per dataType partition
// (spec.md §4.6: "runs preSendData once per partition, not per
// connection") to fan the same encoded bytes out to every connection in
// that partition.
func (c *Connection) RawSend(data []byte) error {
	return c.transport.Send(data)
}

func (c *Connection) encode(td *transportdata.TransportData) ([]byte, error) {
	if c.transport.DataType() == DataTypeBuffer {
		return transportdata.EncodeBinary(c.sm, td)
	}
	return transportdata.EncodeText(td, false)
}

var errAborted = fmt.Errorf("tsrpc: operation aborted by flow")

// ErrAborted is returned by SendMsg and other void operations when a pre*
// flow node aborts the pipeline (spec.md §7: "the operation resolves with
// PROMISE_ABORTED ... neither success nor error").
var ErrAborted = errAborted

// onTransportRecv is installed as the transport's recv handler. It is the
// entry point for every inbound frame, duplex or not.
func (c *Connection) onTransportRecv(raw []byte) {
	preCtx := &PreRecvDataCtx{Data: raw, Conn: c}
	preCtx, aborted := c.flows.PreRecvData.Exec(preCtx)
	if aborted {
		return
	}
	raw = preCtx.Data

	var td *transportdata.TransportData
	var err error
	if c.transport.DataType() == DataTypeBuffer {
		td, err = transportdata.DecodeBinary(c.sm, raw)
	} else {
		td, err = transportdata.DecodeText(raw, transportdata.DecodeTextOptions{})
	}
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("tsrpc: failed to decode inbound frame:", err)
		}
		return
	}

	c.Dispatch(td)
}

// Dispatch routes a decoded TransportData to the right handler: pending
// correlation for res/err, listener fan-out for msg, handler invocation
// for req. Heartbeat/handshake/custom frames not otherwise intercepted are
// dropped (spec.md §1 leaves handshake/framing to the transport layer;
// custom is an opaque passthrough the core never interprets, per spec.md
// §9).
func (c *Connection) Dispatch(td *transportdata.TransportData) {
	switch td.Kind {
	case transportdata.KindRes, transportdata.KindErr:
		c.pending.Settle(td.Sn, td)
	case transportdata.KindMsg:
		c.dispatchMsg(td)
	case transportdata.KindReq:
		c.dispatchReq(td)
	case transportdata.KindHeartbeat:
		// A duplex transport may want a pong; left to the transport layer
		// since the core treats heartbeat as lifecycle-only (spec.md §3).
	case transportdata.KindCustom:
		if c.logger != nil {
			c.logger.Debug("tsrpc: dropped unhandled custom frame")
		}
	}
}

func (c *Connection) dispatchMsg(td *transportdata.TransportData) {
	entries := c.msgListeners.snapshot(td.ServiceName)
	if len(entries) == 0 {
		return
	}

	preCtx := &PreRecvMsgCtx{MsgName: td.ServiceName, Msg: td.Body, Conn: c}
	preCtx, aborted := c.flows.PreRecvMsg.Exec(preCtx)
	if aborted {
		return
	}

	for _, e := range entries {
		e.fn(c, td.ServiceName, td.Body)
		if e.once {
			c.msgListeners.removeEntry(td.ServiceName, e)
		}
	}
	_ = preCtx
}

func (c *Connection) dispatchReq(td *transportdata.TransportData) {
	handler, ok := c.apiHandlers.Get(td.ServiceName)
	if !ok {
		c.replyErr(td.Sn, errs.NotImplemented())
		return
	}

	call := &ApiCall{
		Conn:        c,
		ServiceName: td.ServiceName,
		Sn:          td.Sn,
		startedAt:   time.Now(),
		reqBody:     td.Body,
	}

	preCtx := &PreApiCallCtx{Call: call}
	preCtx, aborted := c.flows.PreApiCall.Exec(preCtx)
	if aborted {
		return
	}
	_ = preCtx

	if c.onApiCallStart != nil {
		c.onApiCallStart()
	}
	var endOnce sync.Once
	markEnd := func() {
		if c.onApiCallEnd != nil {
			endOnce.Do(c.onApiCallEnd)
		}
	}

	var timer *time.Timer
	if c.apiCallTimeout > 0 {
		timer = time.AfterFunc(c.apiCallTimeout, func() {
			if call.settle() {
				c.replyErr(td.Sn, errs.ServerTimeout())
			}
			markEnd()
		})
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				if call.trySettle() {
					c.replyErr(td.Sn, errs.Wrap(fmt.Errorf("%v", r), c.returnInnerError))
				}
			}
			if timer == nil || timer.Stop() {
				// No timer, or we stopped it before it fired: the handler
				// path is the only one that will ever call markEnd.
				markEnd()
			}
			// If Stop() returned false the timer already fired and will
			// call markEnd itself; sync.Once makes the race harmless
			// either way.
		}()
		handler(call)
	}()
}

func (c *Connection) replyErr(sn uint32, err *errs.TsrpcError) {
	_ = c.sendTransportData(transportdata.NewErr(sn, err), nil)
}

// SendMsg sends a one-way message (spec.md §4.5). It resolves once the
// transport reports the bytes handed off, not once the peer has received
// them.
func (c *Connection) SendMsg(msgName string, msg any) error {
	preCtx := &PreSendMsgCtx{MsgName: msgName, Msg: msg, Conn: c}
	preCtx, aborted := c.flows.PreSendMsg.Exec(preCtx)
	if aborted {
		return errAborted
	}

	svc, ok := c.sm.GetByName(msgName)
	if !ok {
		return errs.Local("unknown message " + msgName)
	}
	body, err := c.validator.EncodeSchema(svc.MsgSchemaID, preCtx.Msg)
	if err != nil {
		return errs.Local("encode message failed: " + err.Error())
	}

	return c.sendTransportData(transportdata.NewMsg(msgName, body), nil)
}

// OnMsg registers a listener for inbound messages named msgName. Multiple
// listeners fire in registration order (spec.md §4.5).
func (c *Connection) OnMsg(msgName string, listener MsgListener) {
	c.msgListeners.on(msgName, listener, false)
}

// OnceMsg registers a listener that auto-removes itself after first fire.
func (c *Connection) OnceMsg(msgName string, listener MsgListener) {
	c.msgListeners.on(msgName, listener, true)
}

// OffMsg removes listener (or every listener for msgName when listener is
// nil).
func (c *Connection) OffMsg(msgName string, listener MsgListener) {
	c.msgListeners.off(msgName, listener)
}

// ImplementApi registers a handler for apiName. Overwrite-on-duplicate
// (server behavior); duplex client callers that want error-on-duplicate
// should check first via HasHandler.
func (c *Connection) ImplementApi(apiName string, handler HandlerFunc) {
	c.apiHandlers.Set(apiName, handler)
}

func (c *Connection) HasHandler(apiName string) bool {
	_, ok := c.apiHandlers.Get(apiName)
	return ok
}
