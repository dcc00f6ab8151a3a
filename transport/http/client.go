// Package http implements the HTTP specialization of THE CORE (spec.md
// §4.7, C7): stateless, one HTTP exchange per callApi, no duplex framing.
//
// Unlike transport/tcp, this package does not implement conn.Transport —
// HTTP's request shape (the URL path carries serviceName, the response
// body alone carries ApiReturn, there is no persistent socket to multiplex
// over) doesn't fit a Transport whose Send/SetRecvHandler presumes a
// standing duplex channel. Instead Client and Server compose
// servicemap.ServiceMap, validator.Validator, pending.Registry,
// conn.FlowSet, transportdata, and errs directly, the way server.go's
// businessHandler composed codec/message/middleware directly without a
// generic "transport" abstraction in between.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/tsrpc-go/tsrpc/conn"
	"github.com/tsrpc-go/tsrpc/discovery"
	"github.com/tsrpc-go/tsrpc/errs"
	"github.com/tsrpc-go/tsrpc/logx"
	"github.com/tsrpc-go/tsrpc/pending"
	"github.com/tsrpc-go/tsrpc/servicemap"
	"github.com/tsrpc-go/tsrpc/transportdata"
	"github.com/tsrpc-go/tsrpc/validator"
)

const (
	headerDataType  = "X-TSRPC-DATA-TYPE"
	headerProtoInfo = "X-TSRPC-PROTO-INFO"
)

// ClientOptions mirrors spec.md §6's enumerated client configuration,
// narrowed to what the HTTP specialization needs.
type ClientOptions struct {
	Server       string // e.g. "http://127.0.0.1:3000"; ignored when Discovery is set
	JSONHostPath string // default "/"
	DataType     conn.DataType

	ServiceMap *servicemap.ServiceMap
	Validator  validator.Validator
	Flows      *conn.FlowSet
	Logger     *logx.Logger

	// Discovery, when non-nil, resolves each apiName to its live candidate
	// base URLs instead of always dialing Server (SPEC_FULL.md §4.11/D1:
	// "feeds the HTTP client's transport when more than one server is
	// configured"). Balancer picks one candidate per call; it defaults to
	// discovery.RoundRobin when Discovery is set and Balancer is nil.
	Discovery discovery.Discovery
	Balancer  discovery.Balancer

	CallApiTimeout time.Duration
	HTTPClient     *http.Client
}

// Client is the stateless HTTP callApi endpoint (spec.md §4.7's
// "Client: stateless. Each callApi maps to one POST").
type Client struct {
	opts     ClientOptions
	hc       *http.Client
	balancer discovery.Balancer

	// pending exists purely to give AbortCall somewhere to register the
	// cancellation the spec's "caller's promise is never resolved"
	// semantics require (spec.md §8 scenario S5) — there is no
	// correlation-by-SN to do since each exchange is already 1:1.
	pending *pending.Registry

	// instanceCache/watching back Discovery resolution: when the configured
	// Discovery also implements discovery.Watcher (EtcdDiscovery does), the
	// first Resolve for an apiName starts a background watch that keeps the
	// cache warm so later calls skip the synchronous resolve round trip.
	mu            sync.Mutex
	instanceCache map[string][]discovery.Instance
	watching      map[string]bool
}

func NewClient(opts ClientOptions) *Client {
	if opts.JSONHostPath == "" {
		opts.JSONHostPath = "/"
	}
	if opts.DataType == "" {
		opts.DataType = conn.DataTypeText
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	balancer := opts.Balancer
	if balancer == nil {
		balancer = &discovery.RoundRobin{}
	}
	return &Client{
		opts:          opts,
		hc:            hc,
		balancer:      balancer,
		pending:       pending.New(opts.Logger),
		instanceCache: make(map[string][]discovery.Instance),
		watching:      make(map[string]bool),
	}
}

// resolveBaseAddr picks the base URL CallApi should POST apiName to: the
// statically configured Server when no Discovery is wired, or a Balancer
// pick over Discovery's live instance set otherwise (SPEC_FULL.md §4.11).
func (c *Client) resolveBaseAddr(apiName string) (string, error) {
	if c.opts.Discovery == nil {
		return c.opts.Server, nil
	}

	instances := c.cachedInstances(apiName)
	if instances == nil {
		resolved, err := c.opts.Discovery.Resolve(apiName)
		if err != nil {
			return "", err
		}
		instances = resolved
		c.storeInstances(apiName, instances)
		c.startWatch(apiName)
	}

	inst, err := c.balancer.Pick(instances)
	if err != nil {
		return "", err
	}
	return inst.Addr, nil
}

func (c *Client) cachedInstances(apiName string) []discovery.Instance {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instanceCache[apiName]
}

func (c *Client) storeInstances(apiName string, instances []discovery.Instance) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instanceCache[apiName] = instances
}

// startWatch begins a background refresh of apiName's instance cache when
// Discovery supports pushed updates (discovery.Watcher), so later calls
// never block on a synchronous Resolve. A no-op for Discovery backends
// (like Static) that don't implement Watcher — those simply Resolve again
// the next time the cache misses.
func (c *Client) startWatch(apiName string) {
	watcher, ok := c.opts.Discovery.(discovery.Watcher)
	if !ok {
		return
	}

	c.mu.Lock()
	if c.watching[apiName] {
		c.mu.Unlock()
		return
	}
	c.watching[apiName] = true
	c.mu.Unlock()

	ch := watcher.Watch(apiName)
	go func() {
		for instances := range ch {
			c.storeInstances(apiName, instances)
		}
	}()
}

// CallApi sends one POST request and blocks for the response, exactly one
// HTTP exchange per call (spec.md §4.7). It is a free function, like
// conn.CallApi, since Go methods cannot carry extra type parameters.
func CallApi[Req any, Res any](c *Client, apiName string, req Req, opts ...conn.CallOption) transportdata.ApiReturn[Res] {
	options := &conn.CallOptions{Timeout: c.opts.CallApiTimeout}
	for _, opt := range opts {
		opt(options)
	}

	if c.opts.Flows != nil {
		preCtx := &conn.PreCallApiCtx{ApiName: apiName, Req: req, Options: options}
		preCtx, aborted := c.opts.Flows.PreCallApi.Exec(preCtx)
		if aborted {
			return transportdata.Fail[Res](errs.Local("callApi aborted by flow"))
		}
		req = preCtx.Req.(Req)
	}

	svc, ok := c.opts.ServiceMap.GetByName(apiName)
	if !ok {
		return transportdata.Fail[Res](errs.NotImplemented())
	}

	body, err := c.opts.Validator.EncodeSchema(svc.ReqSchemaID, req)
	if err != nil {
		return transportdata.Fail[Res](errs.Local("encode request failed: " + err.Error()))
	}

	baseAddr, err := c.resolveBaseAddr(apiName)
	if err != nil {
		return transportdata.Fail[Res](errs.ConnRefused(err.Error()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if options.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, options.Timeout)
		defer cancelTimeout()
	}

	sn, ch, _ := c.pending.Register(apiName, 0, cancel)

	go c.doRequest(ctx, sn, baseAddr, apiName, body)

	td := <-ch

	var ret transportdata.ApiReturn[Res]
	if td.Kind == transportdata.KindErr {
		ret = transportdata.Fail[Res](td.Err)
	} else {
		var res Res
		if decodeErr := c.opts.Validator.DecodeSchema(svc.ResSchemaID, td.Body, &res); decodeErr != nil {
			ret = transportdata.Fail[Res](errs.Local("decode response failed: " + decodeErr.Error()))
		} else {
			ret = transportdata.Succ[Res](res)
		}
	}

	if c.opts.Flows != nil {
		returnCtx := &conn.PreCallApiReturnCtx{ApiName: apiName, Req: req, Return: ret}
		c.opts.Flows.PreCallApiReturn.Exec(returnCtx)
		if r, ok := returnCtx.Return.(transportdata.ApiReturn[Res]); ok {
			ret = r
		}
	}

	return ret
}

func (c *Client) doRequest(ctx context.Context, sn uint32, baseAddr, apiName string, body []byte) {
	isText := c.opts.DataType == conn.DataTypeText

	url := baseAddr
	contentType := "application/octet-stream"
	if isText {
		url = baseAddr + c.opts.JSONHostPath + apiName
		contentType = "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		c.pending.Settle(sn, transportdata.NewErr(sn, errs.ConnRefused(err.Error())))
		return
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			c.pending.Settle(sn, transportdata.NewErr(sn, errs.Timeout()))
		} else {
			c.pending.Settle(sn, transportdata.NewErr(sn, errs.ConnRefused(err.Error())))
		}
		return
	}
	defer resp.Body.Close()

	if raw := resp.Header.Get(headerProtoInfo); raw != "" {
		var pi transportdata.ProtoInfo
		if jsonErr := json.Unmarshal([]byte(raw), &pi); jsonErr != nil && c.opts.Logger != nil {
			c.opts.Logger.Warn("http: failed to parse", headerProtoInfo, jsonErr)
		}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.pending.Settle(sn, transportdata.NewErr(sn, errs.Local("failed to read response body: "+err.Error())))
		return
	}

	var td *transportdata.TransportData
	if isText {
		td, err = decodeTextReturn(apiName, sn, respBody)
	} else {
		td, err = transportdata.DecodeBinary(c.opts.ServiceMap, respBody)
	}
	if err != nil {
		c.pending.Settle(sn, transportdata.NewErr(sn, errs.Local("Response body is not a valid JSON.")))
		return
	}

	c.pending.Settle(sn, td)
}

// decodeTextReturn parses the JSON ApiReturn{isSucc,res,err} envelope the
// server writes per spec.md §4.7, reshaping it into the same
// TransportData res/err the binary path produces so CallApi has one
// decode path regardless of dataType.
func decodeTextReturn(apiName string, sn uint32, raw []byte) (*transportdata.TransportData, error) {
	var w struct {
		IsSucc bool             `json:"isSucc"`
		Res    json.RawMessage  `json:"res"`
		Err    *errs.TsrpcError `json:"err"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	if !w.IsSucc {
		if w.Err == nil {
			w.Err = errs.Local("unknown error")
		}
		return transportdata.NewErr(sn, w.Err), nil
	}
	return transportdata.NewRes(apiName, sn, []byte(w.Res)), nil
}

// AbortCall cancels a pending call's wire exchange; the matching CallApi
// invocation never resolves, per spec.md §8 scenario S5 — onAbort here
// only tears down the in-flight HTTP round trip, it does not settle sn.
func (c *Client) AbortCall(sn uint32) {
	c.pending.Abort(sn)
}
