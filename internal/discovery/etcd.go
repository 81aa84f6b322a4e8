package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const leaseTTL = 15

// Registry announces this node in etcd and discovers the other nodes of
// the cluster under a shared key prefix. Registrations ride on a lease
// with keepalive, so a dead node disappears after the TTL.
type Registry struct {
	client *clientv3.Client
	prefix string
	logger *zap.Logger
}

func New(endpoints []string, prefix string, logger *zap.Logger) (*Registry, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("connect etcd: %w", err)
	}

	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Registry{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Register announces the node at prefix/<id> -> url and keeps the lease
// alive until the context is cancelled.
func (r *Registry) Register(ctx context.Context, nodeID, url string) error {
	lease, err := r.client.Grant(ctx, leaseTTL)
	if err != nil {
		return fmt.Errorf("grant lease: %w", err)
	}

	key := r.prefix + nodeID
	if _, err := r.client.Put(ctx, key, url, clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("register node: %w", err)
	}

	keepalive, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return fmt.Errorf("keep lease alive: %w", err)
	}

	go func() {
		for range keepalive {
		}
		r.logger.Warn("discovery keepalive channel closed", zap.String("node_id", nodeID))
	}()

	r.logger.Info("registered node in discovery",
		zap.String("node_id", nodeID),
		zap.String("url", url),
	)
	return nil
}

// Nodes lists the currently registered nodes, id -> url.
func (r *Registry) Nodes(ctx context.Context) (map[string]string, error) {
	resp, err := r.client.Get(ctx, r.prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}

	nodes := make(map[string]string, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		id := strings.TrimPrefix(string(kv.Key), r.prefix)
		nodes[id] = string(kv.Value)
	}
	return nodes, nil
}

// Watch invokes onJoin for every node that appears and onLeave for every
// node that drops out, until the context is cancelled.
func (r *Registry) Watch(ctx context.Context, onJoin func(id, url string), onLeave func(id string)) {
	watch := r.client.Watch(ctx, r.prefix, clientv3.WithPrefix())
	go func() {
		for resp := range watch {
			for _, ev := range resp.Events {
				id := strings.TrimPrefix(string(ev.Kv.Key), r.prefix)
				switch ev.Type {
				case clientv3.EventTypePut:
					if onJoin != nil {
						onJoin(id, string(ev.Kv.Value))
					}
				case clientv3.EventTypeDelete:
					if onLeave != nil {
						onLeave(id)
					}
				}
			}
		}
	}()
}

func (r *Registry) Close() error {
	return r.client.Close()
}
