package conn_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsrpc-go/tsrpc/conn"
	"github.com/tsrpc-go/tsrpc/servicemap"
	"github.com/tsrpc-go/tsrpc/validator"
)

// newPoolFactory returns a Pool factory that dials a fresh in-memory pipe
// per Connection, discarding the peer end (the pool only ever hands out one
// side of each pair; nothing here needs to drive the other side).
func newPoolFactory(t *testing.T) func() (*conn.Connection, error) {
	t.Helper()
	return func() (*conn.Connection, error) {
		client, _ := newPipe()
		c := conn.New(conn.Options{
			Transport:  client,
			ServiceMap: buildServiceMap(t, servicemap.SideClient),
			Validator:  validator.JSONValidator{},
			Flows:      conn.NewFlowSet(nil),
			Side:       servicemap.SideClient,
		})
		c.MarkConnected()
		return c, nil
	}
}

func TestPoolBorrowReturnReusesConnection(t *testing.T) {
	pool := conn.NewPool(2, newPoolFactory(t))

	c1, err := pool.Get()
	require.NoError(t, err)
	require.Equal(t, conn.StateConnected, c1.State())

	pool.Put(c1)

	c2, err := pool.Get()
	require.NoError(t, err)
	assert.Same(t, c1, c2, "Put should make the same Connection available to the next Get")
}

func TestPoolGetCreatesUpToMaxConns(t *testing.T) {
	pool := conn.NewPool(2, newPoolFactory(t))

	c1, err := pool.Get()
	require.NoError(t, err)
	c2, err := pool.Get()
	require.NoError(t, err)
	assert.NotSame(t, c1, c2)

	// Returning one frees a slot for a third borrower even though maxConns
	// is 2 and two distinct Connections already exist.
	pool.Put(c2)
	c3, err := pool.Get()
	require.NoError(t, err)
	assert.Same(t, c2, c3)
}

func TestPoolPutDiscardsDisconnectedConnection(t *testing.T) {
	pool := conn.NewPool(1, newPoolFactory(t))

	c1, err := pool.Get()
	require.NoError(t, err)
	c1.Disconnect("borrower dropped it", true)

	// Put on an already-disconnected Connection must not resurrect it into
	// the free list; the pool should fall through to createNew on the next
	// Get instead of handing back a dead Connection.
	pool.Put(c1)

	c2, err := pool.Get()
	require.NoError(t, err)
	assert.NotSame(t, c1, c2)
	assert.Equal(t, conn.StateConnected, c2.State())
}

func TestPoolCloseDisconnectsIdleConnections(t *testing.T) {
	pool := conn.NewPool(2, newPoolFactory(t))

	c1, err := pool.Get()
	require.NoError(t, err)
	pool.Put(c1)

	pool.Close()

	assert.Equal(t, conn.StateDisconnected, c1.State())
}
