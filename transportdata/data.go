// Package transportdata implements the TransportData wire model and its two
// encodings (spec.md §3, §4.2): a tagged-variant envelope with five kinds
// (req, res, err, msg, custom — plus heartbeat/handshake for duplex
// transports), a length-prefixed binary box, and a JSON-shaped text box.
//
// The binary box generalizes the teacher's fixed 14-byte frame header
// (protocol/protocol.go) from a magic-number + fixed-width fields design to
// the spec's varuint-prefixed, ServiceMap-driven design; the envelope
// itself generalizes message.RPCMessage (ServiceMethod/Error/Payload) to
// the five-kind tagged variant spec.md §3 requires.
package transportdata

import "github.com/tsrpc-go/tsrpc/errs"

// Kind is the TransportData discriminant (spec.md §3).
type Kind byte

const (
	KindReq       Kind = 0
	KindRes       Kind = 1
	KindErr       Kind = 2
	KindMsg       Kind = 3
	KindCustom    Kind = 4
	KindHeartbeat Kind = 5
	KindHandshake Kind = 6
)

func (k Kind) String() string {
	switch k {
	case KindReq:
		return "req"
	case KindRes:
		return "res"
	case KindErr:
		return "err"
	case KindMsg:
		return "msg"
	case KindCustom:
		return "custom"
	case KindHeartbeat:
		return "heartbeat"
	case KindHandshake:
		return "handshake"
	default:
		return "unknown"
	}
}

func KindFromString(s string) (Kind, bool) {
	switch s {
	case "req":
		return KindReq, true
	case "res":
		return KindRes, true
	case "err":
		return KindErr, true
	case "msg":
		return KindMsg, true
	case "custom":
		return KindCustom, true
	case "heartbeat":
		return KindHeartbeat, true
	case "handshake":
		return KindHandshake, true
	default:
		return 0, false
	}
}

// ProtoInfo is exchanged out-of-band to let peers detect schema skew
// (spec.md §3). It never changes wire semantics.
type ProtoInfo struct {
	LastModified string `json:"lastModified,omitempty"`
	MD5          string `json:"md5,omitempty"`
	Tsrpc        string `json:"tsrpc,omitempty"`
	Node         string `json:"node,omitempty"`
}

// TransportData is the tagged wire envelope shared across transports
// (spec.md §3). Body holds the already schema-encoded payload bytes for
// req/res/msg/custom; Err holds the reconstructed TsrpcError for err. Sn is
// meaningful for req/res/err only — msg carries no serial number.
type TransportData struct {
	Kind        Kind
	ServiceName string
	Sn          uint32
	Body        []byte
	Err         *errs.TsrpcError
	ProtoInfo   *ProtoInfo
}

func NewReq(serviceName string, sn uint32, body []byte) *TransportData {
	return &TransportData{Kind: KindReq, ServiceName: serviceName, Sn: sn, Body: body}
}

func NewRes(serviceName string, sn uint32, body []byte) *TransportData {
	return &TransportData{Kind: KindRes, ServiceName: serviceName, Sn: sn, Body: body}
}

func NewErr(sn uint32, err *errs.TsrpcError) *TransportData {
	return &TransportData{Kind: KindErr, Sn: sn, Err: err}
}

func NewMsg(serviceName string, body []byte) *TransportData {
	return &TransportData{Kind: KindMsg, ServiceName: serviceName, Body: body}
}

func NewCustom(body []byte) *TransportData {
	return &TransportData{Kind: KindCustom, Body: body}
}

// ApiReturn is the sum type every API call resolves to (spec.md §3).
type ApiReturn[T any] struct {
	IsSucc bool            `json:"isSucc"`
	Res    T               `json:"res,omitempty"`
	Err    *errs.TsrpcError `json:"err,omitempty"`
}

func Succ[T any](res T) ApiReturn[T] {
	return ApiReturn[T]{IsSucc: true, Res: res}
}

func Fail[T any](err *errs.TsrpcError) ApiReturn[T] {
	return ApiReturn[T]{IsSucc: false, Err: err}
}
