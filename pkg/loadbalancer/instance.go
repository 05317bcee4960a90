package loadbalancer

import (
	"errors"
	"fmt"
)

// ErrNoHealthyInstances is returned when every candidate is filtered out.
var ErrNoHealthyInstances = errors.New("no healthy service instances available")

// ServiceInstance is one health-tagged replica supplied by service discovery.
// The balancer never mutates instances; discovery owns their lifecycle.
type ServiceInstance struct {
	ServiceID   string   `json:"service_id"`
	ServiceName string   `json:"service_name"`
	Host        string   `json:"host"`
	Port        int      `json:"port"`
	Weight      int      `json:"weight"`
	Tags        []string `json:"tags,omitempty"`
	IsHealthy   bool     `json:"is_healthy"`
}

// Addr returns the host:port pair for dialing the instance.
func (i ServiceInstance) Addr() string {
	return fmt.Sprintf("%s:%d", i.Host, i.Port)
}

// EffectiveWeight normalizes unset or invalid weights to 1.
func (i ServiceInstance) EffectiveWeight() int {
	if i.Weight <= 0 {
		return 1
	}
	return i.Weight
}

func healthyOnly(candidates []ServiceInstance) []ServiceInstance {
	healthy := make([]ServiceInstance, 0, len(candidates))
	for _, candidate := range candidates {
		if candidate.IsHealthy {
			healthy = append(healthy, candidate)
		}
	}
	return healthy
}

func serviceNameOf(candidates []ServiceInstance) string {
	if len(candidates) == 0 {
		return ""
	}
	return candidates[0].ServiceName
}
