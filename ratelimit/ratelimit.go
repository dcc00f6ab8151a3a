// Package ratelimit adapts middleware/rate_limit_middleware.go's
// token-bucket limiter (golang.org/x/time/rate) into a Flow node (spec.md
// §4.3), since THE CORE has no middleware chain of its own — Flow is where
// cross-cutting concerns like this one plug in now.
package ratelimit

import (
	"github.com/tsrpc-go/tsrpc/conn"
	"github.com/tsrpc-go/tsrpc/errs"
	"github.com/tsrpc-go/tsrpc/flow"
	"golang.org/x/time/rate"
)

// PreApiCallNode returns a preApiCall Flow node (server side, spec.md
// §4.3's "PreApiCall" stage) that rejects a request with an ApiError once
// the bucket is empty, exactly as RateLimitMiddleware did with an Error
// message rather than calling the next handler.
func PreApiCallNode(r float64, burst int) flow.Node[*conn.PreApiCallCtx] {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(ctx *conn.PreApiCallCtx) (flow.Result[*conn.PreApiCallCtx], error) {
		if !limiter.Allow() {
			ctx.Call.Error("rate limit exceeded", func(e *errs.TsrpcError) {
				e.Code = "RATE_LIMITED"
			})
			return flow.Abort[*conn.PreApiCallCtx](), nil
		}
		return flow.Continue(ctx), nil
	}
}

// PreCallApiNode returns a preCallApi Flow node (client side) that refuses
// to even send a request once the local bucket is empty, useful for a
// client enforcing its own outbound rate independent of server-side
// limiting.
func PreCallApiNode(r float64, burst int) flow.Node[*conn.PreCallApiCtx] {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(ctx *conn.PreCallApiCtx) (flow.Result[*conn.PreCallApiCtx], error) {
		if !limiter.Allow() {
			return flow.Abort[*conn.PreCallApiCtx](), nil
		}
		return flow.Continue(ctx), nil
	}
}
