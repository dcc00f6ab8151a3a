package conn_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsrpc-go/tsrpc/conn"
	"github.com/tsrpc-go/tsrpc/errs"
	"github.com/tsrpc-go/tsrpc/servicemap"
	"github.com/tsrpc-go/tsrpc/transportdata"
	"github.com/tsrpc-go/tsrpc/validator"
)

// pipeTransport is an in-memory conn.Duplex connecting two Connections
// directly, without a real socket — enough to exercise Connection's
// dispatch logic in isolation.
type pipeTransport struct {
	mu      sync.Mutex
	peer    *pipeTransport
	recv    func([]byte)
	closed  bool
	closeCh chan struct{}
}

func newPipe() (a, b *pipeTransport) {
	a = &pipeTransport{closeCh: make(chan struct{})}
	b = &pipeTransport{closeCh: make(chan struct{})}
	a.peer = b
	b.peer = a
	return a, b
}

func (p *pipeTransport) DataType() conn.DataType { return conn.DataTypeBuffer }

func (p *pipeTransport) Send(data []byte) error {
	p.mu.Lock()
	closed := p.closed
	peer := p.peer
	p.mu.Unlock()
	if closed {
		return assert.AnError
	}
	cp := append([]byte(nil), data...)
	go func() {
		peer.mu.Lock()
		h := peer.recv
		peer.mu.Unlock()
		if h != nil {
			h(cp)
		}
	}()
	return nil
}

func (p *pipeTransport) SetRecvHandler(fn func([]byte)) {
	p.mu.Lock()
	p.recv = fn
	p.mu.Unlock()
}

func (p *pipeTransport) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.closeCh)
	}
	p.mu.Unlock()
	return nil
}

func (p *pipeTransport) IsDuplex() bool { return true }

var _ conn.Duplex = (*pipeTransport)(nil)

type addReq struct{ A, B int }
type addRes struct{ Result int }

func buildServiceMap(t *testing.T, side servicemap.Side) *servicemap.ServiceMap {
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

func dialPair(t *testing.T) (client, server *conn.Connection) {
	t.Helper()
	ct, st := newPipe()

	server = conn.New(conn.Options{
		Transport:  st,
		ServiceMap: buildServiceMap(t, servicemap.SideServer),
		Validator:  validator.JSONValidator{},
		Flows:      conn.NewFlowSet(nil),
		Side:       servicemap.SideServer,
	})
	server.ImplementApi("Arith/Add", func(call *conn.ApiCall) {
		var req addReq
		require.NoError(t, call.BindReq(&req))
		call.Succ(addRes{Result: req.A + req.B})
	})
	server.MarkConnected()

	client = conn.New(conn.Options{
		Transport:  ct,
		ServiceMap: buildServiceMap(t, servicemap.SideClient),
		Validator:  validator.JSONValidator{},
		Flows:      conn.NewFlowSet(nil),
		Side:       servicemap.SideClient,
	})
	client.MarkConnected()

	return client, server
}

func TestConnectionStateTransitions(t *testing.T) {
	client, server := dialPair(t)
	assert.Equal(t, conn.StateConnected, client.State())
	assert.Equal(t, conn.StateConnected, server.State())

	client.Disconnect("done", true)
	assert.Equal(t, conn.StateDisconnected, client.State())

	// A second Disconnect is a no-op, not a panic or backward transition.
	client.Disconnect("done again", true)
	assert.Equal(t, conn.StateDisconnected, client.State())

	server.Disconnect("done", true)
}

func TestConnectionCallApiRoundTrip(t *testing.T) {
	client, server := dialPair(t)
	defer client.Disconnect("test done", true)
	defer server.Disconnect("test done", true)

	ret := conn.CallApi[addReq, addRes](client, "Arith/Add", addReq{A: 4, B: 5})
	require.True(t, ret.IsSucc)
	assert.Equal(t, 9, ret.Res.Result)
}

func TestConnectionSendMsgAndOnMsg(t *testing.T) {
	client, server := dialPair(t)
	defer client.Disconnect("test done", true)
	defer server.Disconnect("test done", true)

	received := make(chan string, 1)
	server.OnMsg("Chat", func(_ *conn.Connection, _ string, body []byte) {
		received <- string(body)
	})

	require.NoError(t, client.SendMsg("Chat", map[string]string{"text": "hello"}))

	select {
	case msg := <-received:
		assert.Contains(t, msg, "hello")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestConnectionDisconnectDrainsPendingWithNetworkError(t *testing.T) {
	client, server := dialPair(t)
	defer server.Disconnect("test done", true)

	server.ImplementApi("Slow", func(call *conn.ApiCall) {
		// never replies
	})

	done := make(chan struct{})
	var r transportdata.ApiReturn[addRes]
	go func() {
		r = conn.CallApi[addReq, addRes](client, "Arith/Add", addReq{A: 1, B: 1})
		close(done)
	}()

	// Disconnect concurrently; CallApi above should resolve one way or
	// another (either the real reply races in first, or disconnect settles
	// it with a NetworkError) rather than leaking the goroutine forever.
	client.Disconnect("network dropped", false)

	select {
	case <-done:
		if !r.IsSucc {
			require.NotNil(t, r.Err)
			assert.Equal(t, errs.TypeNetwork, r.Err.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("CallApi never resolved after Disconnect")
	}
}
