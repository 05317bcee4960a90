package loadbalancer

import (
	"sync"
	"sync/atomic"
)

// WeightedRoundRobin distributes selections proportional to instance weight
// over a full cycle of totalWeight positions. Within a cycle the picks are
// bursty; use the smooth variant when even spacing matters.
type WeightedRoundRobin struct {
	counters sync.Map // service name -> *atomic.Uint64
}

// NewWeightedRoundRobin builds a weighted round-robin strategy.
func NewWeightedRoundRobin() *WeightedRoundRobin {
	return &WeightedRoundRobin{}
}

// Select returns the instance owning the current cycle position.
func (w *WeightedRoundRobin) Select(candidates []ServiceInstance) (ServiceInstance, error) {
	healthy := healthyOnly(candidates)
	if len(healthy) == 0 {
		return ServiceInstance{}, ErrNoHealthyInstances
	}

	totalWeight := 0
	for _, instance := range healthy {
		totalWeight += instance.EffectiveWeight()
	}

	counter := w.counterFor(serviceNameOf(healthy))
	position := int((counter.Add(1) - 1) % uint64(totalWeight))

	for _, instance := range healthy {
		position -= instance.EffectiveWeight()
		if position < 0 {
			return instance, nil
		}
	}
	// unreachable: position < totalWeight by construction
	return healthy[len(healthy)-1], nil
}

func (w *WeightedRoundRobin) counterFor(serviceName string) *atomic.Uint64 {
	if existing, ok := w.counters.Load(serviceName); ok {
		return existing.(*atomic.Uint64)
	}
	created, _ := w.counters.LoadOrStore(serviceName, &atomic.Uint64{})
	return created.(*atomic.Uint64)
}
