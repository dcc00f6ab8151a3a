package tcp

import (
	"net"
	"sync"

	"github.com/tsrpc-go/tsrpc/conn"
)

// Transport implements conn.Transport (and conn.Duplex) over one net.Conn.
// It generalizes client_transport.go's ClientTransport: that type owned its
// own pending map and sequence counter because it had no conn.Connection to
// delegate correlation to; here Transport only moves bytes, and
// conn.Connection owns PendingRegistry.
type Transport struct {
	nc net.Conn

	writeMu sync.Mutex // serializes frame writes, same role as client_transport.go's "sending" mutex

	recvHandler func(data []byte)

	closeOnce sync.Once
	closed    chan struct{}
}

// NewTransport wraps an already-established net.Conn and starts its
// background read loop (the analogue of ClientTransport's recvLoop, merged
// here with server.go's handleConn read side since both just decode frames
// and hand them to a callback).
func NewTransport(nc net.Conn) *Transport {
	t := &Transport{nc: nc, closed: make(chan struct{})}
	go t.recvLoop()
	return t
}

func (t *Transport) DataType() conn.DataType {
	return conn.DataTypeBuffer
}

func (t *Transport) Send(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return writeFrame(t.nc, data)
}

func (t *Transport) SetRecvHandler(fn func(data []byte)) {
	t.recvHandler = fn
}

func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		err = t.nc.Close()
	})
	return err
}

func (t *Transport) IsDuplex() bool { return true }

// recvLoop is the single reader for this connection's byte stream — reads
// must stay sequential to parse frame boundaries correctly, exactly as
// client_transport.go's recvLoop and server.go's handleConn document.
func (t *Transport) recvLoop() {
	for {
		payload, err := readFrame(t.nc)
		if err != nil {
			t.Close()
			return
		}
		if t.recvHandler != nil {
			t.recvHandler(payload)
		}
	}
}

var _ conn.Duplex = (*Transport)(nil)
