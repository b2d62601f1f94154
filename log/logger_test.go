package log

import "testing"

func TestGetInstanceIsSingleton(t *testing.T) {
	first := GetInstance()
	if first == nil {
		t.Fatalf("GetInstance returned nil")
	}
	if second := GetInstance(); second != first {
		t.Fatalf("GetInstance returned a new logger on the second call")
	}
}

func TestNamedReturnsChild(t *testing.T) {
	child := Named("transport")
	if child == nil {
		t.Fatalf("Named returned nil")
	}
	if child == GetInstance() {
		t.Fatalf("Named must return a scoped child, not the root logger")
	}
}
