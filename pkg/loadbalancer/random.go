package loadbalancer

import "math/rand"

// Random picks a uniformly random healthy instance.
type Random struct{}

// NewRandom builds a random strategy.
func NewRandom() *Random {
	return &Random{}
}

// Select returns a uniformly random healthy instance.
func (r *Random) Select(candidates []ServiceInstance) (ServiceInstance, error) {
	healthy := healthyOnly(candidates)
	if len(healthy) == 0 {
		return ServiceInstance{}, ErrNoHealthyInstances
	}
	return healthy[rand.Intn(len(healthy))], nil
}
