package http_test

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsrpc-go/tsrpc/conn"
	"github.com/tsrpc-go/tsrpc/discovery"
	"github.com/tsrpc-go/tsrpc/errs"
	"github.com/tsrpc-go/tsrpc/servicemap"
	thttp "github.com/tsrpc-go/tsrpc/transport/http"
	"github.com/tsrpc-go/tsrpc/validator"
)

type addReq struct{ A, B int }
type addRes struct{ Result int }

func testServiceMap(t *testing.T, side servicemap.Side) *servicemap.ServiceMap {
	t.Helper()
	sm, err := servicemap.Build(servicemap.ServiceProto{
		Services: []servicemap.Service{
			{ID: 1, Name: "Arith/Add", Kind: servicemap.KindAPI, Side: servicemap.SideServer},
			{ID: 2, Name: "a/b/c/Test", Kind: servicemap.KindAPI, Side: servicemap.SideServer},
			{ID: 3, Name: "Panicky", Kind: servicemap.KindAPI, Side: servicemap.SideServer},
			{ID: 4, Name: "AlwaysError", Kind: servicemap.KindAPI, Side: servicemap.SideServer},
			{ID: 5, Name: "NeverReplies", Kind: servicemap.KindAPI, Side: servicemap.SideServer},
		},
	}, side)
	require.NoError(t, err)
	return sm
}

func freeAddr(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("127.0.0.1:%d", 20000+time.Now().Nanosecond()%500)
}

func startServer(t *testing.T, addr string, apiCallTimeout time.Duration) *thttp.Server {
	t.Helper()
	svr := thttp.NewServer(thttp.ServerOptions{
		Addr:           addr,
		ServiceMap:     testServiceMap(t, servicemap.SideServer),
		Validator:      validator.JSONValidator{},
		ApiCallTimeout: apiCallTimeout,
	})
	svr.ImplementApi("Arith/Add", func(call *thttp.Call) {
		var req addReq
		require.NoError(t, call.BindReq(&req))
		call.Succ(addRes{Result: req.A + req.B})
	})
	svr.ImplementApi("a/b/c/Test", func(call *thttp.Call) {
		call.Succ(addRes{Result: 1})
	})
	svr.ImplementApi("Panicky", func(call *thttp.Call) {
		panic("boom")
	})
	svr.ImplementApi("AlwaysError", func(call *thttp.Call) {
		call.Error("nope", func(e *errs.TsrpcError) { e.Code = "ALWAYS_ERROR" })
	})
	svr.ImplementApi("NeverReplies", func(call *thttp.Call) {
		select {}
	})
	require.NoError(t, svr.Start())
	time.Sleep(20 * time.Millisecond)
	return svr
}

func TestCallApiHappyPathText(t *testing.T) {
	addr := freeAddr(t)
	svr := startServer(t, addr, time.Second)
	defer svr.Stop()

	c := thttp.NewClient(thttp.ClientOptions{
		Server:     "http://" + addr,
		DataType:   conn.DataTypeText,
		ServiceMap: testServiceMap(t, servicemap.SideClient),
		Validator:  validator.JSONValidator{},
	})

	ret := thttp.CallApi[addReq, addRes](c, "Arith/Add", addReq{A: 2, B: 3})
	require.True(t, ret.IsSucc)
	assert.Equal(t, 5, ret.Res.Result)
}

func TestCallApiNestedServicePath(t *testing.T) {
	addr := freeAddr(t)
	svr := startServer(t, addr, time.Second)
	defer svr.Stop()

	c := thttp.NewClient(thttp.ClientOptions{
		Server:     "http://" + addr,
		DataType:   conn.DataTypeText,
		ServiceMap: testServiceMap(t, servicemap.SideClient),
		Validator:  validator.JSONValidator{},
	})

	ret := thttp.CallApi[addReq, addRes](c, "a/b/c/Test", addReq{})
	require.True(t, ret.IsSucc)
	assert.Equal(t, 1, ret.Res.Result)
}

func TestCallApiHandlerPanicBecomesServerError(t *testing.T) {
	addr := freeAddr(t)
	svr := startServer(t, addr, time.Second)
	defer svr.Stop()

	c := thttp.NewClient(thttp.ClientOptions{
		Server:     "http://" + addr,
		DataType:   conn.DataTypeText,
		ServiceMap: testServiceMap(t, servicemap.SideClient),
		Validator:  validator.JSONValidator{},
	})

	ret := thttp.CallApi[addReq, addRes](c, "Panicky", addReq{})
	require.False(t, ret.IsSucc)
	require.NotNil(t, ret.Err)
	assert.Equal(t, errs.TypeServerError, ret.Err.Type)
}

func TestCallApiHandlerCallsError(t *testing.T) {
	addr := freeAddr(t)
	svr := startServer(t, addr, time.Second)
	defer svr.Stop()

	c := thttp.NewClient(thttp.ClientOptions{
		Server:     "http://" + addr,
		DataType:   conn.DataTypeText,
		ServiceMap: testServiceMap(t, servicemap.SideClient),
		Validator:  validator.JSONValidator{},
	})

	ret := thttp.CallApi[addReq, addRes](c, "AlwaysError", addReq{})
	require.False(t, ret.IsSucc)
	assert.Equal(t, "nope", ret.Err.Message)
}

// TestCallApiWithoutReplyLeavesCallUnresolved mirrors spec.md §8 scenario
// S5's invariant from the client side: a call with no response forthcoming
// (here, a handler that never replies, with no ApiCallTimeout configured
// to rescue it) never resolves — the caller's CallApi blocks rather than
// returning a zero-value ApiReturn.
func TestCallApiWithoutReplyLeavesCallUnresolved(t *testing.T) {
	addr := freeAddr(t)
	svr := startServer(t, addr, 0)
	defer svr.Stop()

	c := thttp.NewClient(thttp.ClientOptions{
		Server:     "http://" + addr,
		DataType:   conn.DataTypeText,
		ServiceMap: testServiceMap(t, servicemap.SideClient),
		Validator:  validator.JSONValidator{},
	})

	done := make(chan struct{})
	go func() {
		thttp.CallApi[addReq, addRes](c, "NeverReplies", addReq{})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("CallApi resolved without a handler reply; it must hang until settled")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCallApiServerTimeout(t *testing.T) {
	addr := freeAddr(t)
	svr := startServer(t, addr, 50*time.Millisecond)
	defer svr.Stop()

	c := thttp.NewClient(thttp.ClientOptions{
		Server:     "http://" + addr,
		DataType:   conn.DataTypeText,
		ServiceMap: testServiceMap(t, servicemap.SideClient),
		Validator:  validator.JSONValidator{},
	})

	ret := thttp.CallApi[addReq, addRes](c, "NeverReplies", addReq{})
	require.False(t, ret.IsSucc)
	assert.Equal(t, "SERVER_TIMEOUT", ret.Err.Code)
}

// TestCallApiDiscoveryBalancesAcrossInstances exercises SPEC_FULL.md §4.11/
// D1: with a Discovery wired in, CallApi resolves apiName to a candidate
// set and a Balancer (RoundRobin by default) spreads calls across every
// live instance rather than always dialing a single configured Server.
func TestCallApiDiscoveryBalancesAcrossInstances(t *testing.T) {
	var hitsA, hitsB atomic.Int64

	addrA := freeAddr(t)
	svrA := thttp.NewServer(thttp.ServerOptions{
		Addr:       addrA,
		ServiceMap: testServiceMap(t, servicemap.SideServer),
		Validator:  validator.JSONValidator{},
	})
	svrA.ImplementApi("Arith/Add", func(call *thttp.Call) {
		hitsA.Add(1)
		var req addReq
		require.NoError(t, call.BindReq(&req))
		call.Succ(addRes{Result: req.A + req.B})
	})
	require.NoError(t, svrA.Start())
	defer svrA.Stop()

	addrB := freeAddr(t)
	svrB := thttp.NewServer(thttp.ServerOptions{
		Addr:       addrB,
		ServiceMap: testServiceMap(t, servicemap.SideServer),
		Validator:  validator.JSONValidator{},
	})
	svrB.ImplementApi("Arith/Add", func(call *thttp.Call) {
		hitsB.Add(1)
		var req addReq
		require.NoError(t, call.BindReq(&req))
		call.Succ(addRes{Result: req.A + req.B})
	})
	require.NoError(t, svrB.Start())
	defer svrB.Stop()

	time.Sleep(20 * time.Millisecond)

	disc := discovery.NewStatic()
	disc.Set("Arith/Add", []discovery.Instance{
		{Addr: "http://" + addrA},
		{Addr: "http://" + addrB},
	})

	c := thttp.NewClient(thttp.ClientOptions{
		DataType:   conn.DataTypeText,
		ServiceMap: testServiceMap(t, servicemap.SideClient),
		Validator:  validator.JSONValidator{},
		Discovery:  disc,
	})

	for i := 0; i < 4; i++ {
		ret := thttp.CallApi[addReq, addRes](c, "Arith/Add", addReq{A: 2, B: 3})
		require.True(t, ret.IsSucc)
		assert.Equal(t, 5, ret.Res.Result)
	}

	assert.Equal(t, int64(2), hitsA.Load())
	assert.Equal(t, int64(2), hitsB.Load())
}

func TestCallApiConnectionRefused(t *testing.T) {
	c := thttp.NewClient(thttp.ClientOptions{
		Server:     "http://127.0.0.1:1", // nothing listens here
		DataType:   conn.DataTypeText,
		ServiceMap: testServiceMap(t, servicemap.SideClient),
		Validator:  validator.JSONValidator{},
	})

	ret := thttp.CallApi[addReq, addRes](c, "Arith/Add", addReq{A: 1, B: 1})
	require.False(t, ret.IsSucc)
	assert.Equal(t, errs.TypeNetwork, ret.Err.Type)
}
