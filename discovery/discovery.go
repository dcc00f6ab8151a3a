// Package discovery implements the service-discovery and load-balancing
// layer SPEC_FULL.md §4.11 adds on top of THE CORE (D1): resolving a
// service name to a set of candidate addresses and picking one per call.
//
// This adapts the teacher's registry.Registry + loadbalance.Balancer split
// (registry/registry.go, loadbalance/balancer.go): registry.Registry's
// Register/Deregister/Discover/Watch is narrowed here to the read side a
// caller needs (Resolve), since THE CORE's Connection/Server own their own
// lifecycle and don't need a generic registration API — only a way to find
// peers.
package discovery

import "fmt"

// Instance is one resolved service endpoint, carrying enough metadata for a
// Balancer to weigh it (adapted from registry.ServiceInstance).
type Instance struct {
	Addr    string
	Weight  int
	Version string
}

// Discovery resolves a service name to its currently known instances.
type Discovery interface {
	Resolve(serviceName string) ([]Instance, error)
}

// Watcher is implemented by Discovery backends that can push live updates
// instead of being polled on every call (EtcdDiscovery is one). A consumer
// that type-asserts for this interface can cache the instance set and
// refresh it from the channel instead of resolving synchronously per call.
type Watcher interface {
	Watch(serviceName string) <-chan []Instance
}

// ErrNoInstances is returned by a Balancer when Resolve yields nothing to
// pick from.
var ErrNoInstances = fmt.Errorf("discovery: no instances available")
