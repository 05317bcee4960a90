package enums

import "fmt"

// LoadBalancerStrategy names the client-side balancing strategies resolvable at startup.
type LoadBalancerStrategy string

const (
	StrategyRoundRobin         LoadBalancerStrategy = "round-robin"
	StrategyRandom             LoadBalancerStrategy = "random"
	StrategyWeightedRoundRobin LoadBalancerStrategy = "weighted-round-robin"
	StrategySmoothWeighted     LoadBalancerStrategy = "smooth-weighted-round-robin"
)

var validLoadBalancerStrategies = []LoadBalancerStrategy{
	StrategyRoundRobin,
	StrategyRandom,
	StrategyWeightedRoundRobin,
	StrategySmoothWeighted,
}

// IsValid reports whether the value names a known strategy.
func (s LoadBalancerStrategy) IsValid() bool {
	for _, candidate := range validLoadBalancerStrategies {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseLoadBalancerStrategy converts raw input into LoadBalancerStrategy.
func ParseLoadBalancerStrategy(value string) (LoadBalancerStrategy, error) {
	for _, candidate := range validLoadBalancerStrategies {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid load balancer strategy %q", value)
}
