package loadbalancer

import (
	"sync"
	"sync/atomic"
)

// RoundRobin cycles through healthy candidates per service name. Counters are
// keyed per service so traffic to one service never contends with another.
type RoundRobin struct {
	counters sync.Map // service name -> *atomic.Uint64
}

// NewRoundRobin builds a round-robin strategy with per-service counters.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

// Select returns the next healthy instance in rotation.
func (rr *RoundRobin) Select(candidates []ServiceInstance) (ServiceInstance, error) {
	healthy := healthyOnly(candidates)
	if len(healthy) == 0 {
		return ServiceInstance{}, ErrNoHealthyInstances
	}

	counter := rr.counterFor(serviceNameOf(healthy))
	index := (counter.Add(1) - 1) % uint64(len(healthy))
	return healthy[index], nil
}

func (rr *RoundRobin) counterFor(serviceName string) *atomic.Uint64 {
	if existing, ok := rr.counters.Load(serviceName); ok {
		return existing.(*atomic.Uint64)
	}
	created, _ := rr.counters.LoadOrStore(serviceName, &atomic.Uint64{})
	return created.(*atomic.Uint64)
}
