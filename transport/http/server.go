package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/cors"

	"github.com/tsrpc-go/tsrpc/errs"
	"github.com/tsrpc-go/tsrpc/logx"
	"github.com/tsrpc-go/tsrpc/servicemap"
	"github.com/tsrpc-go/tsrpc/validator"
)

// Call is the HTTP analogue of conn.ApiCall (spec.md §4.7): one inbound
// request, resolved exactly once via Succ or Error. It deliberately isn't
// conn.ApiCall — that type's Succ/Error reach into an owning
// *conn.Connection's flows/transport, and HTTP has neither a standing
// connection nor a duplex send path to reach into; the response *is* the
// one correlation HTTP needs; there's no Sn to track.
type Call struct {
	ServiceName string

	reqBody []byte
	sm      *servicemap.ServiceMap
	v       validator.Validator

	settled  atomic.Bool
	resultCh chan httpResult
}

type httpResult struct {
	status int
	body   []byte
}

type wireReturn struct {
	IsSucc bool             `json:"isSucc"`
	Res    json.RawMessage  `json:"res,omitempty"`
	Err    *errs.TsrpcError `json:"err,omitempty"`
}

// BindReq decodes the request body into out using the service's request
// schema (spec.md §4.1).
func (call *Call) BindReq(out any) error {
	svc, ok := call.sm.GetByName(call.ServiceName)
	if !ok {
		return errs.NotImplemented()
	}
	return call.v.DecodeSchema(svc.ReqSchemaID, call.reqBody, out)
}

func (call *Call) trySettle() bool {
	return call.settled.CompareAndSwap(false, true)
}

// Succ resolves the call with a success result, written as HTTP 200 with
// an {isSucc:true,res} body (spec.md §4.7 — HTTP always answers 200; the
// TsrpcError, if any, travels in-band inside the JSON body instead of as
// an HTTP status).
func (call *Call) Succ(res any) error {
	if !call.trySettle() {
		return nil
	}
	svc, ok := call.sm.GetByName(call.ServiceName)
	if !ok {
		call.writeErr(errs.NotImplemented())
		return nil
	}
	body, err := call.v.EncodeSchema(svc.ResSchemaID, res)
	if err != nil {
		call.writeErr(errs.Local("encode response failed: " + err.Error()))
		return err
	}
	data, err := json.Marshal(wireReturn{IsSucc: true, Res: json.RawMessage(body)})
	if err != nil {
		call.writeErr(errs.Local("encode response failed: " + err.Error()))
		return err
	}
	call.resultCh <- httpResult{status: http.StatusOK, body: data}
	return nil
}

// Error resolves the call with a TsrpcError (spec.md §4.7 scenario S4).
func (call *Call) Error(message string, opts ...func(*errs.TsrpcError)) error {
	if !call.trySettle() {
		return nil
	}
	e := errs.New(errs.TypeApiError, "", message)
	for _, opt := range opts {
		opt(e)
	}
	call.writeErr(e)
	return nil
}

func (call *Call) writeErr(e *errs.TsrpcError) {
	data, _ := json.Marshal(wireReturn{IsSucc: false, Err: e})
	select {
	case call.resultCh <- httpResult{status: http.StatusOK, body: data}:
	default:
	}
}

// HandlerFunc is the HTTP transport's analogue of conn.HandlerFunc.
type HandlerFunc func(*Call)

// ServerOptions configures the HTTP server half (spec.md §4.7 + §6).
type ServerOptions struct {
	Addr string

	ServiceMap *servicemap.ServiceMap
	Validator  validator.Validator
	Logger     *logx.Logger

	// JSONHostPath is the URL prefix services are mounted under, matching
	// the client's JSONHostPath (default "/").
	JSONHostPath string

	ApiCallTimeout   time.Duration
	ReturnInnerError bool

	// CORS, when non-nil, wraps the mux with github.com/rs/cors using
	// these options. Nil disables CORS handling entirely.
	CORS *cors.Options
}

// Server is the HTTP transport's C6 specialization: one *http.Server, a
// handler table, and nothing else persistent — spec.md §4.7 treats every
// inbound request as its own transient exchange, with no set of connected
// peers to track (HTTP forbids server-initiated messages entirely).
type Server struct {
	opts ServerOptions

	mu       sync.Mutex
	handlers map[string]HandlerFunc

	hs *http.Server
}

func NewServer(opts ServerOptions) *Server {
	if opts.JSONHostPath == "" {
		opts.JSONHostPath = "/"
	}
	if opts.Validator == nil {
		opts.Validator = validator.JSONValidator{}
	}
	return &Server{opts: opts, handlers: make(map[string]HandlerFunc)}
}

// ImplementApi registers handler for apiName (spec.md §4.6's
// implementApi, specialized to the HTTP Call type).
func (s *Server) ImplementApi(apiName string, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[apiName] = handler
}

func (s *Server) handler(apiName string) (HandlerFunc, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handlers[apiName]
	return h, ok
}

// Start binds the listener and begins serving (spec.md §4.6, HTTP
// specialization). It returns once the listener is bound; Serve itself
// runs in a background goroutine, same as tcp.Listen's accept loop.
func (s *Server) Start() error {
	var handler http.Handler = http.HandlerFunc(s.serveHTTP)
	if s.opts.CORS != nil {
		handler = cors.New(*s.opts.CORS).Handler(handler)
	}
	s.hs = &http.Server{Addr: s.opts.Addr, Handler: handler}

	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	go s.hs.Serve(ln)
	return nil
}

func (s *Server) Stop() error {
	if s.hs == nil {
		return nil
	}
	return s.hs.Close()
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "tsrpc: only POST is supported", http.StatusMethodNotAllowed)
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "tsrpc: failed to read request body", http.StatusBadRequest)
		return
	}

	apiName := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, s.opts.JSONHostPath), "/")
	if apiName == "" {
		http.Error(w, "tsrpc: missing service name in request path", http.StatusBadRequest)
		return
	}

	call := &Call{
		ServiceName: apiName,
		reqBody:     raw,
		sm:          s.opts.ServiceMap,
		v:           s.opts.Validator,
		resultCh:    make(chan httpResult, 1),
	}

	handler, ok := s.handler(apiName)
	if !ok {
		call.writeErr(errs.NotImplemented())
		s.respond(w, call)
		return
	}

	if s.opts.ApiCallTimeout > 0 {
		time.AfterFunc(s.opts.ApiCallTimeout, func() {
			if call.trySettle() {
				data, _ := json.Marshal(wireReturn{IsSucc: false, Err: errs.ServerTimeout()})
				select {
				case call.resultCh <- httpResult{status: http.StatusOK, body: data}:
				default:
				}
			}
		})
	}

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				if call.trySettle() {
					call.writeErr(errs.Wrap(fmt.Errorf("%v", rec), s.opts.ReturnInnerError))
				}
			}
		}()
		handler(call)
	}()

	s.respond(w, call)
}

func (s *Server) respond(w http.ResponseWriter, call *Call) {
	result := <-call.resultCh
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.status)
	w.Write(result.body)
}
