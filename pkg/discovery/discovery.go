// Package discovery registers this instance in etcd so ops tooling can find
// the running storefront. Registration is best-effort: the backend serves
// traffic whether or not etcd is reachable.
package discovery

import (
	"context"
	"fmt"

	"github.com/example/bookshop/pkg/config"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const leaseTTL = 30 // seconds

type Registry struct {
	client *clientv3.Client
	config *config.EtcdConfig
}

func NewRegistry(cfg *config.EtcdConfig) (*Registry, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	return &Registry{client: cli, config: cfg}, nil
}

// Register writes a leased key for this instance and keeps the lease alive in
// the background. The key disappears on its own if the process dies.
func (r *Registry) Register(ctx context.Context, name, host string, port int) error {
	key := fmt.Sprintf("%s%s/%s:%d", r.config.Prefix, name, host, port)
	value := fmt.Sprintf("%s:%d", host, port)

	lease, err := r.client.Grant(ctx, leaseTTL)
	if err != nil {
		return fmt.Errorf("failed to create lease: %w", err)
	}

	if _, err = r.client.Put(ctx, key, value, clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("failed to register instance: %w", err)
	}

	ch, kaerr := r.client.KeepAlive(ctx, lease.ID)
	if kaerr != nil {
		return fmt.Errorf("failed to keep lease alive: %w", kaerr)
	}

	go func() {
		for range ch {
		}
	}()

	return nil
}

func (r *Registry) Deregister(ctx context.Context, name, host string, port int) error {
	key := fmt.Sprintf("%s%s/%s:%d", r.config.Prefix, name, host, port)
	if _, err := r.client.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to deregister instance: %w", err)
	}
	return nil
}

func (r *Registry) Close() error {
	return r.client.Close()
}
