package loadbalancer

import "sync"

// SmoothWeightedRoundRobin implements the nginx smooth weighted algorithm:
// every pick adds each instance's weight to its running score, selects the
// highest score, then subtracts the total weight from the winner. The result
// honors the same proportions as plain weighted round-robin but interleaves
// picks evenly instead of bursting.
type SmoothWeightedRoundRobin struct {
	mu     sync.Mutex
	scores map[string]map[string]int // service name -> instance id -> current score
}

// NewSmoothWeightedRoundRobin builds a smooth weighted strategy.
func NewSmoothWeightedRoundRobin() *SmoothWeightedRoundRobin {
	return &SmoothWeightedRoundRobin{scores: make(map[string]map[string]int)}
}

// Select returns the instance with the highest running score.
func (s *SmoothWeightedRoundRobin) Select(candidates []ServiceInstance) (ServiceInstance, error) {
	healthy := healthyOnly(candidates)
	if len(healthy) == 0 {
		return ServiceInstance{}, ErrNoHealthyInstances
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	serviceName := serviceNameOf(healthy)
	scores, ok := s.scores[serviceName]
	if !ok {
		scores = make(map[string]int, len(healthy))
		s.scores[serviceName] = scores
	}

	totalWeight := 0
	best := -1
	for i, instance := range healthy {
		weight := instance.EffectiveWeight()
		totalWeight += weight
		scores[instance.ServiceID] += weight
		if best < 0 || scores[instance.ServiceID] > scores[healthy[best].ServiceID] {
			best = i
		}
	}

	winner := healthy[best]
	scores[winner.ServiceID] -= totalWeight
	return winner, nil
}
