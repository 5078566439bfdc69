package secrets

import (
	"context"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const etcdSecretsPath = "/secrets/"

// Etcd stores secrets as plain keys under /secrets/.
type Etcd struct {
	client *clientv3.Client
}

// NewEtcd connects to the given etcd endpoints.
func NewEtcd(endpoints []string) (*Etcd, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return &Etcd{client: cli}, nil
}

// Get reads /secrets/<key>.
func (e *Etcd) Get(ctx context.Context, key string) (string, error) {
	resp, err := e.client.Get(ctx, etcdSecretsPath+key)
	if err != nil {
		return "", fmt.Errorf("failed to get secret %q from etcd: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return string(resp.Kvs[0].Value), nil
}

// Close closes the etcd client
func (e *Etcd) Close() error {
	return e.client.Close()
}
