package server_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsrpc-go/tsrpc/conn"
	"github.com/tsrpc-go/tsrpc/server"
	"github.com/tsrpc-go/tsrpc/servicemap"
	"github.com/tsrpc-go/tsrpc/transport/tcp"
	"github.com/tsrpc-go/tsrpc/validator"
)

type addReq struct{ A, B int }
type addRes struct{ Result int }

func testServiceMap(t *testing.T, side servicemap.Side) *servicemap.ServiceMap {
	t.Helper()
	sm, err := servicemap.Build(servicemap.ServiceProto{
		Services: []servicemap.Service{
			{ID: 1, Name: "Arith/Add", Kind: servicemap.KindAPI, Side: servicemap.SideServer},
			{ID: 2, Name: "Chat", Kind: servicemap.KindMsg, Side: servicemap.SideBoth},
		},
	}, side)
	require.NoError(t, err)
	return sm
}

func freeAddr(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("127.0.0.1:%d", 19000+time.Now().Nanosecond()%500)
}

func TestServerStartStopAndCallApi(t *testing.T) {
	addr := freeAddr(t)

	flows := conn.NewFlowSet(nil)
	flows.PreApiCallReturn.Use(conn.LoggingNode(nil))

	svr := server.New(server.Options{
		Addr:             addr,
		ServiceMap:       testServiceMap(t, servicemap.SideServer),
		Validator:        validator.JSONValidator{},
		Flows:            flows,
		ApiCallTimeout:   time.Second,
		StopGraceTimeout: 200 * time.Millisecond,
	})
	svr.ImplementApi("Arith/Add", func(call *conn.ApiCall) {
		var req addReq
		require.NoError(t, call.BindReq(&req))
		call.Succ(addRes{Result: req.A + req.B})
	})
	require.NoError(t, svr.Start())
	defer svr.Stop()

	time.Sleep(20 * time.Millisecond)

	c, err := tcp.Dial(tcp.DialOptions{
		Addr:       addr,
		ServiceMap: testServiceMap(t, servicemap.SideClient),
		Validator:  validator.JSONValidator{},
		Flows:      conn.NewFlowSet(nil),
	})
	require.NoError(t, err)
	defer c.Disconnect("test done", true)

	ret := conn.CallApi[addReq, addRes](c, "Arith/Add", addReq{A: 2, B: 3})
	require.True(t, ret.IsSucc)
	assert.Equal(t, 5, ret.Res.Result)
}

func TestServerBroadcastMsg(t *testing.T) {
	addr := freeAddr(t)

	svr := server.New(server.Options{
		Addr:       addr,
		ServiceMap: testServiceMap(t, servicemap.SideServer),
		Validator:  validator.JSONValidator{},
		Flows:      conn.NewFlowSet(nil),
	})
	require.NoError(t, svr.Start())
	defer svr.Stop()

	time.Sleep(20 * time.Millisecond)

	c, err := tcp.Dial(tcp.DialOptions{
		Addr:       addr,
		ServiceMap: testServiceMap(t, servicemap.SideClient),
		Validator:  validator.JSONValidator{},
		Flows:      conn.NewFlowSet(nil),
	})
	require.NoError(t, err)
	defer c.Disconnect("test done", true)

	received := make(chan string, 1)
	c.OnMsg("Chat", func(_ *conn.Connection, _ string, body []byte) {
		received <- string(body)
	})

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, svr.BroadcastMsg("Chat", map[string]string{"text": "hi"}))

	select {
	case msg := <-received:
		assert.Contains(t, msg, "hi")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast message")
	}
}
