package loadbalance

import (
	"hubrpc/registry"
	"math/rand/v2"
)

// WeightedRandomBalancer picks an instance with probability proportional to
// its weight. Non-positive weights count as 1.
type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Pick(_ string, instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	totalWeight := 0
	for _, v := range instances {
		totalWeight += weight(v)
	}

	// Walk the instances subtracting weights until r goes negative
	r := rand.IntN(totalWeight)
	for i := range instances {
		r -= weight(instances[i])
		if r < 0 {
			return &instances[i], nil
		}
	}
	return &instances[len(instances)-1], nil
}

func weight(s registry.ServiceInstance) int {
	if s.Weight <= 0 {
		return 1
	}
	return s.Weight
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}
