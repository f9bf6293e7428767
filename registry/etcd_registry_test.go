package registry

import (
	"context"
	"testing"
	"time"
)

// newEtcd connects to a local etcd or skips the test.
func newEtcd(t *testing.T) *EtcdRegistry {
	t.Helper()
	reg, err := NewEtcdRegistry([]string{"localhost:2379"}, time.Second)
	if err != nil {
		t.Skipf("etcd unavailable: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := reg.client.Status(ctx, "localhost:2379"); err != nil {
		reg.Close()
		t.Skipf("etcd unavailable: %v", err)
	}
	t.Cleanup(func() { reg.Close() })
	return reg
}

func TestRegisterAndDiscover(t *testing.T) {
	reg := newEtcd(t)
	const service = "hub-test"

	inst1 := ServiceInstance{Addr: "127.0.0.1:8001", Weight: 10, Version: "1.0", Interfaces: []string{"IRemoteCall1"}}
	inst2 := ServiceInstance{Addr: "127.0.0.1:8002", Weight: 5, Version: "1.0"}

	if err := reg.Register(service, inst1, 10); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(service, inst2, 10); err != nil {
		t.Fatal(err)
	}

	instances, err := reg.Discover(service)
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 2 {
		t.Fatalf("expect 2 instances, got %d", len(instances))
	}

	if err := reg.Deregister(service, inst1.Addr); err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)

	instances, err = reg.Discover(service)
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 1 {
		t.Fatalf("expect 1 instance after deregister, got %d", len(instances))
	}
	if instances[0].Addr != inst2.Addr {
		t.Fatalf("expect %s, got %s", inst2.Addr, instances[0].Addr)
	}

	reg.Deregister(service, inst2.Addr)
}

func TestEtcdWatch(t *testing.T) {
	reg := newEtcd(t)
	const service = "hub-watch-test"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := reg.Watch(ctx, service)

	inst := ServiceInstance{Addr: "127.0.0.1:8003", Weight: 1}
	if err := reg.Register(service, inst, 10); err != nil {
		t.Fatal(err)
	}
	defer reg.Deregister(service, inst.Addr)

	select {
	case list := <-updates:
		if len(list) != 1 || list[0].Addr != inst.Addr {
			t.Fatalf("unexpected watch update %+v", list)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no watch update")
	}
}
