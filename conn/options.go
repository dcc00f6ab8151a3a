package conn

import (
	"time"

	"github.com/tsrpc-go/tsrpc/logx"
	"github.com/tsrpc-go/tsrpc/servicemap"
	"github.com/tsrpc-go/tsrpc/validator"
)

// Options configures a duplex Connection (spec.md §4.5). HTTP does not use
// this type — transport/http specializes the same collaborators directly,
// per spec.md §4.7's "specializes C5/C6" rather than wraps it.
type Options struct {
	Transport  Transport
	ServiceMap *servicemap.ServiceMap
	Validator  validator.Validator
	Flows      *FlowSet
	Logger     *logx.Logger
	Side       servicemap.Side

	// ApiHandlers, when non-nil, is shared by reference with a parent
	// Server (spec.md §3 ownership rule). Nil means this Connection owns a
	// private table, appropriate for a standalone client that also wants
	// duplex implementApi.
	ApiHandlers *HandlerTable

	CallApiTimeout   time.Duration
	ApiCallTimeout   time.Duration // server-side handler deadline (spec.md §4.6/§7 SERVER_TIMEOUT)
	ReturnInnerError bool
	Heartbeat        HeartbeatPolicy

	// OnApiCallStart/OnApiCallEnd let an owning Server maintain its
	// pendingApiCallNum gauge (spec.md §4.6 graceful stop) without this
	// package depending on the server package.
	OnApiCallStart func()
	OnApiCallEnd   func()
}
