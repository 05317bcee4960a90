package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/fulfillment-core/pkg/config"
	"github.com/angelmondragon/fulfillment-core/pkg/loadbalancer"
	"github.com/angelmondragon/fulfillment-core/pkg/redis"
)

// Registry tracks service replicas in a Redis hash per service name. Replicas
// heartbeat by re-registering; snapshots drop entries whose heartbeat is older
// than the configured TTL so crashed replicas age out without cleanup.
type Registry struct {
	store     redis.InstanceStore
	namespace string
	ttl       time.Duration
	now       func() time.Time
}

type record struct {
	Instance    loadbalancer.ServiceInstance `json:"instance"`
	HeartbeatAt time.Time                    `json:"heartbeat_at"`
}

// NewRegistry builds a registry over the provided instance store.
func NewRegistry(store redis.InstanceStore, cfg config.DiscoveryConfig) (*Registry, error) {
	if store == nil {
		return nil, errors.New("instance store is required")
	}
	ttl := cfg.InstanceTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Registry{
		store:     store,
		namespace: cfg.Namespace,
		ttl:       ttl,
		now:       time.Now,
	}, nil
}

// Register upserts the instance with a fresh heartbeat.
func (r *Registry) Register(ctx context.Context, instance loadbalancer.ServiceInstance) error {
	if instance.ServiceName == "" {
		return errors.New("service name is required")
	}
	if instance.ServiceID == "" {
		return errors.New("service id is required")
	}

	payload, err := json.Marshal(record{Instance: instance, HeartbeatAt: r.now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal instance: %w", err)
	}
	key := r.store.DiscoveryKey(r.namespace, instance.ServiceName)
	return r.store.HSet(ctx, key, instance.ServiceID, string(payload))
}

// Deregister removes the instance immediately.
func (r *Registry) Deregister(ctx context.Context, serviceName, serviceID string) error {
	if serviceName == "" || serviceID == "" {
		return errors.New("service name and id are required")
	}
	key := r.store.DiscoveryKey(r.namespace, serviceName)
	return r.store.HDel(ctx, key, serviceID)
}

// Snapshot returns the current replicas for the service, stale entries removed.
// The returned slice is safe for the balancer to consume; it is never mutated
// by the registry afterwards.
func (r *Registry) Snapshot(ctx context.Context, serviceName string) ([]loadbalancer.ServiceInstance, error) {
	if serviceName == "" {
		return nil, errors.New("service name is required")
	}

	key := r.store.DiscoveryKey(r.namespace, serviceName)
	fields, err := r.store.HGetAll(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read instances for %s: %w", serviceName, err)
	}

	cutoff := r.now().Add(-r.ttl)
	instances := make([]loadbalancer.ServiceInstance, 0, len(fields))
	var stale []string
	for field, raw := range fields {
		var rec record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			stale = append(stale, field)
			continue
		}
		if rec.HeartbeatAt.Before(cutoff) {
			stale = append(stale, field)
			continue
		}
		instances = append(instances, rec.Instance)
	}

	if len(stale) > 0 {
		// best effort: a failed cleanup just means the entries age out later
		_ = r.store.HDel(ctx, key, stale...)
	}

	return instances, nil
}
