package conn

import (
	"time"

	"github.com/tsrpc-go/tsrpc/errs"
	"github.com/tsrpc-go/tsrpc/transportdata"
)

// CallApi sends a typed request and blocks until the matching response
// arrives, the per-call timeout elapses, or the connection disconnects
// (spec.md §4.5, §4.6). It is a free function rather than a Connection method because Go
// methods cannot carry their own type parameters; Conn is passed explicitly
// the same way the teacher's generic callers pass *ClientTransport.
func CallApi[Req any, Res any](conn *Connection, apiName string, req Req, opts ...CallOption) transportdata.ApiReturn[Res] {
	options := &CallOptions{Timeout: conn.callApiTimeout}
	for _, opt := range opts {
		opt(options)
	}

	preCallCtx := &PreCallApiCtx{ApiName: apiName, Req: req, Options: options}
	preCallCtx, aborted := conn.flows.PreCallApi.Exec(preCallCtx)
	if aborted {
		return transportdata.Fail[Res](errs.Local("callApi aborted by flow"))
	}

	svc, ok := conn.sm.GetByName(apiName)
	if !ok {
		return transportdata.Fail[Res](errs.NotImplemented())
	}

	body, err := conn.validator.EncodeSchema(svc.ReqSchemaID, preCallCtx.Req)
	if err != nil {
		return transportdata.Fail[Res](errs.Local("encode request failed: " + err.Error()))
	}

	sn, ch, _ := conn.pending.Register(apiName, preCallCtx.Options.Timeout, nil)

	if sendErr := conn.sendTransportData(transportdata.NewReq(apiName, sn, body), nil); sendErr != nil {
		conn.pending.Abort(sn)
		return transportdata.Fail[Res](errs.ConnRefused(sendErr.Error()))
	}

	td := <-ch

	var ret transportdata.ApiReturn[Res]
	if td.Kind == transportdata.KindErr {
		ret = transportdata.Fail[Res](td.Err)
	} else {
		var res Res
		if decodeErr := conn.validator.DecodeSchema(svc.ResSchemaID, td.Body, &res); decodeErr != nil {
			ret = transportdata.Fail[Res](errs.Local("decode response failed: " + decodeErr.Error()))
		} else {
			ret = transportdata.Succ[Res](res)
		}
	}

	returnCtx := &PreCallApiReturnCtx{ApiName: apiName, Req: preCallCtx.Req, Return: ret}
	conn.flows.PreCallApiReturn.Exec(returnCtx)
	if r, ok := returnCtx.Return.(transportdata.ApiReturn[Res]); ok {
		ret = r
	}

	return ret
}

// CallOption configures a single CallApi invocation (spec.md §4.6: "an
// optional per-call timeout overriding the connection default").
type CallOption func(*CallOptions)

func WithTimeout(d time.Duration) CallOption {
	return func(o *CallOptions) { o.Timeout = d }
}

// AbortCall cancels an in-flight call by its serial number. The caller's
// CallApi invocation never resolves (spec.md §4.4/§8 scenario S5). CallApi
// takes no context, so the goroutine blocked in it stays blocked.
func (c *Connection) AbortCall(sn uint32) {
	c.pending.Abort(sn)
}
