// Package flow implements the Flow interceptor pipeline (spec.md §4.3):
// an ordered, mutable sequence of nodes that transform a payload, where any
// node can abort the operation outright.
//
// The teacher repo's middleware.Chain (middleware/middleware.go) composes
// HTTP-style handlers by nesting closures so each middleware wraps the
// next; that shape fits a single linear call but cannot express "abort
// before reaching the handler" without the node throwing. spec.md's flow
// nodes need a type-safe third outcome (Continue(T) / Abort), so this
// keeps the teacher's "ordered middlewares, run in registration order"
// idea but represents the result as an explicit two-branch type instead of
// relying on a thrown error to signal abort (spec.md §9's design note).
package flow

import "github.com/tsrpc-go/tsrpc/logx"

// Result is a node's outcome: either a (possibly mutated) payload to pass
// on, or an abort signal.
type Result[T any] struct {
	Value   T
	Aborted bool
}

func Continue[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

func Abort[T any]() Result[T] {
	var zero T
	return Result[T]{Value: zero, Aborted: true}
}

// Node is one interceptor. It may mutate fields of T (e.g. preCallApi
// rewriting the request body) and may return Abort to halt the pipeline.
type Node[T any] func(T) (Result[T], error)

// Flow is an ordered, mutable sequence of nodes (spec.md §4.3). It is not
// safe for concurrent Use calls racing with Exec; registration is expected
// to happen at setup time, matching the teacher's svr.Use(...) calls made
// once before Serve.
type Flow[T any] struct {
	name   string
	nodes  []Node[T]
	logger *logx.Logger
}

func New[T any](name string, logger *logx.Logger) *Flow[T] {
	return &Flow[T]{name: name, logger: logger}
}

// Use registers a node. Nodes execute in registration order (spec.md §5).
func (f *Flow[T]) Use(n Node[T]) {
	f.nodes = append(f.nodes, n)
}

// Exec runs every node in order against x0. If a node returns Abort, or
// throws (here: returns an error), execution halts immediately and Exec
// reports aborted=true; the caller must not proceed with the downstream
// operation (spec.md §4.3 step 2-3).
func (f *Flow[T]) Exec(x0 T) (result T, aborted bool) {
	x := x0
	for _, n := range f.nodes {
		r, err := safeCall(n, x)
		if err != nil {
			if f.logger != nil {
				f.logger.Warn("flow", f.name, "node error, treating as abort:", err)
			}
			return x, true
		}
		if r.Aborted {
			return x, true
		}
		x = r.Value
	}
	return x, false
}

// safeCall recovers a panicking node and reports it as an error, so a
// single misbehaving node degrades to an abort instead of crashing the
// caller's goroutine (spec.md §7: "Uncaught exceptions ... logs and does
// not crash").
func safeCall[T any](n Node[T], x T) (r Result[T], err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicError{p}
		}
	}()
	return n(x)
}

type panicError struct{ v any }

func (p panicError) Error() string {
	return "flow node panicked"
}
