// EtcdDiscovery adapts registry/etcd_registry.go's EtcdRegistry to the
// narrower Discovery interface, keeping the same key layout, lease/TTL
// registration, and Watch stream of updated instance lists — renamed from
// "/mini-rpc/{service}/{addr}" to "/tsrpc/{service}/{addr}" for the new
// module.
package discovery

import (
	"context"
	"encoding/json"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const keyPrefix = "/tsrpc/"

// EtcdDiscovery both registers this process's own services (Register) and
// resolves peers (Resolve). It keeps no local cache: every Resolve is a
// prefix Get against etcd.
type EtcdDiscovery struct {
	client *clientv3.Client
}

// NewEtcdDiscovery connects to the given etcd endpoints.
func NewEtcdDiscovery(endpoints []string) (*EtcdDiscovery, error) {
	c, err := clientv3.New(clientv3.Config{Endpoints: endpoints})
	if err != nil {
		return nil, err
	}
	return &EtcdDiscovery{client: c}, nil
}

// Register advertises one instance of serviceName under a TTL lease,
// renewed automatically via etcd's KeepAlive stream, exactly as
// registry/etcd_registry.go's Register does.
func (d *EtcdDiscovery) Register(ctx context.Context, serviceName string, inst Instance, ttlSeconds int64) error {
	lease, err := d.client.Grant(ctx, ttlSeconds)
	if err != nil {
		return err
	}

	val, err := json.Marshal(inst)
	if err != nil {
		return err
	}

	key := keyPrefix + serviceName + "/" + inst.Addr
	if _, err := d.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return err
	}

	ch, err := d.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}
	go func() {
		for range ch {
		}
	}()
	return nil
}

// Deregister removes this process's instance key immediately, ahead of
// lease expiry, so peers stop routing to it during a graceful stop.
func (d *EtcdDiscovery) Deregister(ctx context.Context, serviceName, addr string) error {
	_, err := d.client.Delete(ctx, keyPrefix+serviceName+"/"+addr)
	return err
}

// Resolve lists every instance currently registered for serviceName.
func (d *EtcdDiscovery) Resolve(serviceName string) ([]Instance, error) {
	ctx := context.Background()
	prefix := keyPrefix + serviceName + "/"

	resp, err := d.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var inst Instance
		if err := json.Unmarshal(kv.Value, &inst); err != nil {
			continue
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// Watch streams updated instance lists for serviceName whenever etcd
// reports a change under its prefix (registration, deregistration, lease
// expiry), mirroring registry/etcd_registry.go's Watch.
func (d *EtcdDiscovery) Watch(serviceName string) <-chan []Instance {
	ctx := context.Background()
	out := make(chan []Instance, 1)
	prefix := keyPrefix + serviceName + "/"

	go func() {
		watchChan := d.client.Watch(ctx, prefix, clientv3.WithPrefix())
		for range watchChan {
			instances, err := d.Resolve(serviceName)
			if err == nil {
				out <- instances
			}
		}
	}()

	return out
}
