package conn

import (
	"time"

	"github.com/tsrpc-go/tsrpc/errs"
	"github.com/tsrpc-go/tsrpc/flow"
	"github.com/tsrpc-go/tsrpc/logx"
)

// LoggingNode logs the service name, duration, and outcome of every
// dispatched API call, adapted from middleware/logging_middleware.go onto
// the Flow shape: instead of wrapping a HandlerFunc in an onion layer, it
// plugs into FlowSet.PreApiCallReturn, the one stage that runs after a
// handler settles and before the reply goes out (spec.md §4.3's return
// stage table).
func LoggingNode(logger *logx.Logger) flow.Node[*PreApiCallReturnCtx] {
	return func(ctx *PreApiCallReturnCtx) (flow.Result[*PreApiCallReturnCtx], error) {
		duration := time.Since(ctx.Call.startedAt)
		outcome := "succ"
		if e, ok := ctx.Return.(*errs.TsrpcError); ok {
			outcome = e.Error()
		}
		if logger != nil {
			logger.Log("api", ctx.Call.ServiceName, "duration", duration, "outcome", outcome)
		}
		return flow.Continue(ctx), nil
	}
}
