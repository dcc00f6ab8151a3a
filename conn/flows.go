package conn

import (
	"time"

	"github.com/tsrpc-go/tsrpc/flow"
	"github.com/tsrpc-go/tsrpc/logx"
	"github.com/tsrpc-go/tsrpc/transportdata"
)

// The payload shapes below are exactly the stage table in spec.md §4.3.
// Req/Res/Msg fields are `any` because one Flow instance is shared across
// every API/message name a Connection handles; callApi/implementApi give
// the caller a generically-typed view on top, matching the teacher's
// single shared middleware.Chain that also runs generically for every
// service method.

type PreConnectCtx struct {
	Conn *Connection
}

type PostConnectCtx struct {
	Conn *Connection
}

type PostDisconnectCtx struct {
	Conn     *Connection
	Reason   string
	IsManual bool
}

type CallOptions struct {
	Timeout time.Duration
}

type PreCallApiCtx struct {
	ApiName string
	Req     any
	Options *CallOptions
}

type PreCallApiReturnCtx struct {
	ApiName string
	Req     any
	Return  any // transportdata.ApiReturn[T], type-erased for the shared flow
}

type PreApiCallCtx struct {
	Call *ApiCall
}

type PreApiCallReturnCtx struct {
	Call   *ApiCall
	Return any
}

type PreSendMsgCtx struct {
	MsgName string
	Msg     any
	Conn    *Connection
}

type PreRecvMsgCtx struct {
	MsgName string
	Msg     any
	Conn    *Connection
}

type PreSendDataCtx struct {
	Data          []byte
	TransportData *transportdata.TransportData
	Conn          *Connection
	Conns         []*Connection // set only for broadcast (spec.md §4.6)
}

type PostSendDataCtx struct {
	Data          []byte
	TransportData *transportdata.TransportData
	Conn          *Connection
	Conns         []*Connection
}

type PreRecvDataCtx struct {
	Data []byte
	Conn *Connection
}

type PreBroadcastMsgCtx struct {
	MsgName string
	Msg     any
	Conns   []*Connection
}

// FlowSet bundles every stage a Connection (and the Server wrapping it)
// exposes, matching spec.md §4.3's table exactly. Flows are shared by
// reference: a Server installs nodes once and every Connection it owns
// runs the same FlowSet.
type FlowSet struct {
	PreConnect       *flow.Flow[*PreConnectCtx]
	PostConnect      *flow.Flow[*PostConnectCtx]
	PostDisconnect   *flow.Flow[*PostDisconnectCtx]
	PreCallApi       *flow.Flow[*PreCallApiCtx]
	PreCallApiReturn *flow.Flow[*PreCallApiReturnCtx]
	PreApiCall       *flow.Flow[*PreApiCallCtx]
	PreApiCallReturn *flow.Flow[*PreApiCallReturnCtx]
	PreSendMsg       *flow.Flow[*PreSendMsgCtx]
	PreRecvMsg       *flow.Flow[*PreRecvMsgCtx]
	PreSendData      *flow.Flow[*PreSendDataCtx]
	PostSendData     *flow.Flow[*PostSendDataCtx]
	PreRecvData      *flow.Flow[*PreRecvDataCtx]
	PreBroadcastMsg  *flow.Flow[*PreBroadcastMsgCtx]
}

// NewFlowSet builds an empty FlowSet; every Flow starts with zero nodes, so
// Exec is a pure pass-through until the caller installs Use(...) nodes.
func NewFlowSet(logger *logx.Logger) *FlowSet {
	return &FlowSet{
		PreConnect:       flow.New[*PreConnectCtx]("preConnect", logger),
		PostConnect:      flow.New[*PostConnectCtx]("postConnect", logger),
		PostDisconnect:   flow.New[*PostDisconnectCtx]("postDisconnect", logger),
		PreCallApi:       flow.New[*PreCallApiCtx]("preCallApi", logger),
		PreCallApiReturn: flow.New[*PreCallApiReturnCtx]("preCallApiReturn", logger),
		PreApiCall:       flow.New[*PreApiCallCtx]("preApiCall", logger),
		PreApiCallReturn: flow.New[*PreApiCallReturnCtx]("preApiCallReturn", logger),
		PreSendMsg:       flow.New[*PreSendMsgCtx]("preSendMsg", logger),
		PreRecvMsg:       flow.New[*PreRecvMsgCtx]("preRecvMsg", logger),
		PreSendData:      flow.New[*PreSendDataCtx]("preSendData", logger),
		PostSendData:     flow.New[*PostSendDataCtx]("postSendData", logger),
		PreRecvData:      flow.New[*PreRecvDataCtx]("preRecvData", logger),
		PreBroadcastMsg:  flow.New[*PreBroadcastMsgCtx]("preBroadcastMsg", logger),
	}
}
