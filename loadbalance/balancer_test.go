package loadbalance

import (
	"errors"
	"fmt"
	"hubrpc/registry"
	"testing"
)

var testInstances = []registry.ServiceInstance{
	{Addr: ":8001", Weight: 10, Version: "1.0"},
	{Addr: ":8002", Weight: 5, Version: "1.0"},
	{Addr: ":8003", Weight: 10, Version: "1.0"},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	// Pick 3 times, should cycle through all instances
	results := make([]string, 3)
	for i := 0; i < 3; i++ {
		inst, err := b.Pick("", testInstances)
		if err != nil {
			t.Fatal(err)
		}
		results[i] = inst.Addr
	}
	if results[0] == results[1] || results[1] == results[2] {
		t.Fatalf("expect distinct picks, got %v", results)
	}

	// Pick again, should wrap around to first
	inst, _ := b.Pick("", testInstances)
	if inst.Addr != results[0] {
		t.Fatalf("expect wrap around to %s, got %s", results[0], inst.Addr)
	}
}

func TestEmpty(t *testing.T) {
	for _, b := range []Balancer{&RoundRobinBalancer{}, &WeightedRandomBalancer{}, NewConsistentHashBalancer()} {
		if _, err := b.Pick("k", nil); !errors.Is(err, ErrNoInstances) {
			t.Fatalf("%s: expect ErrNoInstances, got %v", b.Name(), err)
		}
	}
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	n := 10000
	for i := 0; i < n; i++ {
		inst, err := b.Pick("", testInstances)
		if err != nil {
			t.Fatal(err)
		}
		counts[inst.Addr]++
	}

	// Weight ratio is 10:5:10, so :8001 and :8003 should be ~2x of :8002
	ratio := float64(counts[":8001"]) / float64(counts[":8002"])
	if ratio < 1.5 || ratio > 2.5 {
		t.Fatalf("weight ratio :8001/:8002 = %.2f, expect ~2.0", ratio)
	}
}

func TestWeightedRandomZeroWeights(t *testing.T) {
	b := &WeightedRandomBalancer{}
	inst, err := b.Pick("", []registry.ServiceInstance{{Addr: "a"}, {Addr: "b"}})
	if err != nil || inst == nil {
		t.Fatalf("expect a pick with zero weights, got %v, %v", inst, err)
	}
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer()

	// Same key should always map to the same instance
	inst1, _ := b.Pick("Client-123", testInstances)
	inst2, _ := b.Pick("Client-123", testInstances)
	if inst1.Addr != inst2.Addr {
		t.Fatalf("same key mapped to different instances: %s vs %s", inst1.Addr, inst2.Addr)
	}

	// Different keys should (likely) map to different instances
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		inst, _ := b.Pick(fmt.Sprintf("key-%d", i), testInstances)
		seen[inst.Addr] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expect at least 2 different instances, got %d", len(seen))
	}
}

func TestConsistentHashRebuildsOnChange(t *testing.T) {
	b := NewConsistentHashBalancer()
	first, _ := b.Pick("Client-1", testInstances)

	var remaining []registry.ServiceInstance
	for _, inst := range testInstances {
		if inst.Addr != first.Addr {
			remaining = append(remaining, inst)
		}
	}
	next, _ := b.Pick("Client-1", remaining)
	if next.Addr == first.Addr {
		t.Fatalf("picked removed instance %s", first.Addr)
	}
}

func TestNew(t *testing.T) {
	for _, name := range []string{"", "round-robin", "weighted-random", "consistent-hash"} {
		if _, err := New(name); err != nil {
			t.Fatalf("%q: %v", name, err)
		}
	}
	if _, err := New("fastest"); err == nil {
		t.Fatal("expect error for unknown strategy")
	}
}
