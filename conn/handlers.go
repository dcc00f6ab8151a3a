package conn

import (
	"reflect"
	"sync"
)

// HandlerFunc is the server-side/duplex API handler a Connection dispatches
// an inbound req TransportData to (spec.md §4.5 implementApi). Handlers
// resolve the call by invoking ApiCall.Succ or ApiCall.Error.
type HandlerFunc func(call *ApiCall)

// MsgListener is the callback onMsg registers (spec.md §4.5).
type MsgListener func(conn *Connection, msgName string, body []byte)

// HandlerTable is the "apiName -> handler" mapping spec.md §3 says is
// "shared by reference across connections of the same server (a single
// mapping)". A standalone Connection not owned by a Server gets its own
// private table (Options.ApiHandlers left nil); a Server-owned Connection
// shares its parent Server's table so ImplementApi calls reach every
// connection, past and future, without re-registering per peer.
type HandlerTable struct {
	mu sync.RWMutex
	m  map[string]HandlerFunc
}

func NewHandlerTable() *HandlerTable {
	return &HandlerTable{m: make(map[string]HandlerFunc)}
}

// Set installs or overwrites a handler. Overwrite-on-duplicate is the
// server behavior spec.md §4.5 describes; duplex clients that want
// error-on-duplicate should check Get first.
func (h *HandlerTable) Set(name string, fn HandlerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.m[name] = fn
}

func (h *HandlerTable) Get(name string) (HandlerFunc, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	fn, ok := h.m[name]
	return fn, ok
}

// listenerEntry tracks registration order and once-semantics for onMsg
// (spec.md §4.5: "order of invocation is registration order; once is
// auto-removed after first fire").
type listenerEntry struct {
	fn   MsgListener
	once bool
}

// funcIdentity extracts a comparable identity for a func value so offMsg
// can remove a specific listener. Go func values are not comparable
// directly; comparing the underlying code pointer is the standard
// workaround used by Go event-dispatch libraries for this purpose.
func funcIdentity(fn MsgListener) uintptr {
	return reflect.ValueOf(fn).Pointer()
}

type listenerTable struct {
	mu        sync.Mutex
	listeners map[string][]*listenerEntry
}

func newListenerTable() *listenerTable {
	return &listenerTable{listeners: make(map[string][]*listenerEntry)}
}

func (t *listenerTable) on(name string, fn MsgListener, once bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners[name] = append(t.listeners[name], &listenerEntry{fn: fn, once: once})
}

// off removes listeners matching fn's identity, or every listener for name
// when fn is nil.
func (t *listenerTable) off(name string, fn MsgListener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fn == nil {
		delete(t.listeners, name)
		return
	}
	target := funcIdentity(fn)
	entries := t.listeners[name]
	filtered := entries[:0:0]
	for _, e := range entries {
		if funcIdentity(e.fn) != target {
			filtered = append(filtered, e)
		}
	}
	t.listeners[name] = filtered
}

func (t *listenerTable) snapshot(name string) []*listenerEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	entries := t.listeners[name]
	out := make([]*listenerEntry, len(entries))
	copy(out, entries)
	return out
}

func (t *listenerTable) removeEntry(name string, e *listenerEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entries := t.listeners[name]
	for i, cand := range entries {
		if cand == e {
			t.listeners[name] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
}
