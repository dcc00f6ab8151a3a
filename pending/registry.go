// Package pending implements the PendingRegistry (spec.md §4.4): it
// correlates outbound calls with inbound responses by serial number,
// enforces per-call timeouts, and supports cancellation.
//
// This generalizes transport/client_transport.go's ClientTransport: that
// type already does exactly this job (sync.Map of seq -> response channel,
// a recvLoop that resolves by sequence number, a seq counter protected by
// a mutex) but ties it to one TCP connection. Here the correlation table
// is pulled out into its own per-connection collaborator so it can sit
// under any transport (spec.md's C5 Connection owns one of these).
package pending

import (
	"sync"
	"time"

	"github.com/tsrpc-go/tsrpc/errs"
	"github.com/tsrpc-go/tsrpc/logx"
	"github.com/tsrpc-go/tsrpc/transportdata"
)

type call struct {
	sn        uint32
	apiName   string
	startedAt time.Time
	onAbort   func()
	aborted   bool
	settled   bool
	ch        chan *transportdata.TransportData
	timer     *time.Timer
}

// Registry is one connection's pending-call table. It is safe for
// concurrent use; all connection-level serialization is the caller's
// responsibility (spec.md §5).
type Registry struct {
	mu      sync.Mutex
	calls   map[uint32]*call
	counter logx.Counter
	logger  *logx.Logger
}

func New(logger *logx.Logger) *Registry {
	return &Registry{calls: make(map[uint32]*call), logger: logger}
}

// Register allocates a new SN (spec.md §8 property 2: distinct, strictly
// increasing per connection), starts the timeout timer, and returns a
// channel the caller receives the eventual res/err TransportData on, plus
// an abort function.
//
// The returned channel is never closed and never sent to again after
// abort() is called — per spec.md §4.4, "abort(sn) ... leaves the
// caller's promise never resolved" — so a caller that wants bounded
// waiting after an abort must race the channel against its own timer, not
// rely on the channel alone.
func (r *Registry) Register(apiName string, timeout time.Duration, onAbort func()) (sn uint32, ch <-chan *transportdata.TransportData, abort func()) {
	sn = r.counter.Next()
	c := &call{
		sn:        sn,
		apiName:   apiName,
		startedAt: time.Now(),
		onAbort:   onAbort,
		ch:        make(chan *transportdata.TransportData, 1),
	}

	r.mu.Lock()
	r.calls[sn] = c
	r.mu.Unlock()

	if timeout > 0 {
		c.timer = time.AfterFunc(timeout, func() {
			r.Settle(sn, transportdata.NewErr(sn, errs.Timeout()))
		})
	}

	return sn, c.ch, func() { r.Abort(sn) }
}

// Settle resolves a pending call. Settling an unknown SN is a no-op that
// logs a warning (spec.md §4.4 invariant (b)); of two concurrent settles
// on the same SN, the first wins (invariant (c)). A late settle for an
// already-aborted SN is dropped, matching "a late response for an aborted
// SN is dropped" (spec.md §4.4).
func (r *Registry) Settle(sn uint32, data *transportdata.TransportData) bool {
	r.mu.Lock()
	c, ok := r.calls[sn]
	if !ok {
		r.mu.Unlock()
		if r.logger != nil {
			r.logger.Warn("pending: settle on unknown sn", sn)
		}
		return false
	}
	if c.settled || c.aborted {
		r.mu.Unlock()
		return false
	}
	c.settled = true
	delete(r.calls, sn)
	r.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
	}
	c.ch <- data
	return true
}

// Abort cancels a pending call without ever resolving its channel
// (spec.md §4.4/§8 scenario S5). onAbort fires at most once.
func (r *Registry) Abort(sn uint32) {
	r.mu.Lock()
	c, ok := r.calls[sn]
	if !ok || c.settled || c.aborted {
		r.mu.Unlock()
		return
	}
	c.aborted = true
	delete(r.calls, sn)
	r.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
	}
	if c.onAbort != nil {
		c.onAbort()
	}
}

// AbortBy aborts every pending call whose apiName matches pred.
func (r *Registry) AbortBy(pred func(apiName string) bool) {
	r.mu.Lock()
	var sns []uint32
	for sn, c := range r.calls {
		if pred(c.apiName) {
			sns = append(sns, sn)
		}
	}
	r.mu.Unlock()

	for _, sn := range sns {
		r.Abort(sn)
	}
}

// DisconnectAll settles every still-pending call with a NetworkError, as
// spec.md §4.4 requires on connection disconnect: "all pending calls
// settle with NetworkError 'Connection disconnected'." Unlike Abort, this
// resolves callers rather than leaving them hanging.
func (r *Registry) DisconnectAll() {
	r.mu.Lock()
	var sns []uint32
	for sn := range r.calls {
		sns = append(sns, sn)
	}
	r.mu.Unlock()

	for _, sn := range sns {
		r.Settle(sn, transportdata.NewErr(sn, errs.Disconnected()))
	}
}

// Size returns the number of registered SNs not yet settled or aborted
// (spec.md §4.4 invariant (a)).
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}
