package loadbalancer

import (
	"fmt"

	"github.com/angelmondragon/fulfillment-core/pkg/enums"
)

// Strategy picks one instance from the supplied candidates. Implementations
// must filter unhealthy candidates first and be safe for concurrent use.
type Strategy interface {
	Select(candidates []ServiceInstance) (ServiceInstance, error)
}

// New resolves the configured strategy name once at startup.
func New(strategy enums.LoadBalancerStrategy) (Strategy, error) {
	switch strategy {
	case enums.StrategyRoundRobin:
		return NewRoundRobin(), nil
	case enums.StrategyRandom:
		return NewRandom(), nil
	case enums.StrategyWeightedRoundRobin:
		return NewWeightedRoundRobin(), nil
	case enums.StrategySmoothWeighted:
		return NewSmoothWeightedRoundRobin(), nil
	default:
		return nil, fmt.Errorf("unknown load balancer strategy %q", strategy)
	}
}
