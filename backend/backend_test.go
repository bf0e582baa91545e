package backend

import (
	"testing"

	"github.com/gogpu/rend/hal"
	"github.com/gogpu/rend/hal/halmock"
)

func registerMock(t *testing.T) {
	t.Helper()
	Register(BackendMock, func() hal.Backend { return halmock.NewBackend() })
	t.Cleanup(func() { Unregister(BackendMock) })
}

func TestRegistryRegisterAndGet(t *testing.T) {
	registerMock(t)

	if !IsRegistered(BackendMock) {
		t.Error("mock backend should be registered")
	}
	b := Get(BackendMock)
	if b == nil {
		t.Fatal("Get(mock) returned nil")
	}
	if b.Name() != "mock" {
		t.Errorf("Get(mock).Name() = %q, want %q", b.Name(), "mock")
	}
}

func TestRegistryGetUnregistered(t *testing.T) {
	if b := Get("nonexistent"); b != nil {
		t.Error("Get(nonexistent) should return nil")
	}
}

func TestRegistryAvailable(t *testing.T) {
	registerMock(t)

	found := false
	for _, name := range Available() {
		if name == BackendMock {
			found = true
			break
		}
	}
	if !found {
		t.Error("Available() should include the mock backend")
	}
}

func TestRegistryDefaultWalksPriority(t *testing.T) {
	registerMock(t)

	b := Default()
	if b == nil {
		t.Fatal("Default() returned nil")
	}
	if b.Name() != "mock" {
		t.Errorf("Default().Name() = %q, want mock as only registered backend", b.Name())
	}
}

func TestRegistryMustDefault(t *testing.T) {
	registerMock(t)

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("MustDefault() panicked: %v", r)
		}
	}()
	if b := MustDefault(); b == nil {
		t.Error("MustDefault() returned nil")
	}
}

func TestRegistryUnregister(t *testing.T) {
	Register("test-backend", func() hal.Backend { return halmock.NewBackend() })

	if !IsRegistered("test-backend") {
		t.Error("test-backend should be registered")
	}

	Unregister("test-backend")

	if IsRegistered("test-backend") {
		t.Error("test-backend should be unregistered")
	}
}

func TestRegisteredBackendOpensDevice(t *testing.T) {
	registerMock(t)

	b := Get(BackendMock)
	infos, err := b.Enumerate()
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if len(infos) == 0 {
		t.Fatal("no adapters enumerated")
	}
	dev, err := b.Open(0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	dev.Destroy()
}
