package conn

import (
	"sync/atomic"
	"time"

	"github.com/tsrpc-go/tsrpc/errs"
	"github.com/tsrpc-go/tsrpc/transportdata"
)

// ApiCall is handed to a HandlerFunc for one inbound request (spec.md
// §4.6). A handler resolves it exactly once via Succ or Error; a second
// call is a no-op, matching the server-timeout race where the deadline
// timer and a slow handler may both try to settle.
type ApiCall struct {
	Conn        *Connection
	ServiceName string
	Sn          uint32
	startedAt   time.Time

	reqBody []byte
	settled atomic.Bool
}

// BindReq decodes and validates the request body into out, using the
// service's registered schema (spec.md §4.1 ServiceMap resolution +
// Validator).
func (call *ApiCall) BindReq(out any) error {
	svc, ok := call.Conn.sm.GetByName(call.ServiceName)
	if !ok {
		return errs.NotImplemented()
	}
	if err := call.Conn.validator.DecodeSchema(svc.ReqSchemaID, call.reqBody, out); err != nil {
		return errs.Local("decode request failed: " + err.Error())
	}
	return nil
}

// trySettle reports whether this call claims the right to settle (first
// caller wins), without sending anything. Used by the apiCallTimeout timer
// to detect whether the handler already replied.
func (call *ApiCall) trySettle() bool {
	return call.settled.CompareAndSwap(false, true)
}

// settle is an alias kept for readability at call sites that conceptually
// "declare a timeout", distinct from a handler's own resolve attempt.
func (call *ApiCall) settle() bool {
	return call.trySettle()
}

// Succ resolves the call successfully with res, encoded per the service's
// response schema. A no-op if the call already settled (e.g. after a
// server timeout already replied, per spec.md §7 SERVER_TIMEOUT).
func (call *ApiCall) Succ(res any) error {
	if !call.trySettle() {
		return nil
	}
	svc, ok := call.Conn.sm.GetByName(call.ServiceName)
	if !ok {
		return errs.NotImplemented()
	}
	body, err := call.Conn.validator.EncodeSchema(svc.ResSchemaID, res)
	if err != nil {
		return errs.Local("encode response failed: " + err.Error())
	}

	preCtx := &PreApiCallReturnCtx{Call: call, Return: res}
	_, aborted := call.Conn.flows.PreApiCallReturn.Exec(preCtx)
	if aborted {
		return ErrAborted
	}

	return call.Conn.sendTransportData(transportdata.NewRes(call.ServiceName, call.Sn, body), nil)
}

// Error resolves the call with a remote-visible error. Also a no-op once
// already settled.
func (call *ApiCall) Error(message string, opts ...func(*errs.TsrpcError)) error {
	if !call.trySettle() {
		return nil
	}
	e := errs.New(errs.TypeApiError, "", message)
	for _, opt := range opts {
		opt(e)
	}

	preCtx := &PreApiCallReturnCtx{Call: call, Return: e}
	_, aborted := call.Conn.flows.PreApiCallReturn.Exec(preCtx)
	if aborted {
		return ErrAborted
	}

	return call.Conn.sendTransportData(transportdata.NewErr(call.Sn, e), nil)
}
