package condition

import (
	"context"
	"testing"

	"keygate.org/internal/gateway"
)

func TestRegistryDeployAndResolve(t *testing.T) {
	reg := NewRegistry()
	static := NewStatic(true)

	addr := reg.Deploy(static)
	if _, err := gateway.ParseAddress(string(addr)); err != nil {
		t.Fatalf("deploy returned malformed address %q: %v", addr, err)
	}

	got, ok := reg.Checker(addr)
	if !ok || got != gateway.Checker(static) {
		t.Fatalf("resolve failed: %v %v", got, ok)
	}
	if _, ok := reg.Checker(gateway.RandomAddress()); ok {
		t.Fatal("unknown address must not resolve")
	}
}

func TestStaticConditionFlips(t *testing.T) {
	ctx := context.Background()
	static := NewStatic(false)
	user := gateway.RandomAddress()
	doc := gateway.NewDocumentID()

	ok, err := static.HasAccessControl(ctx, user, doc)
	if err != nil || ok {
		t.Fatalf("expected false, got %v %v", ok, err)
	}
	static.SetCondition(true)
	ok, err = static.HasAccessControl(ctx, user, doc)
	if err != nil || !ok {
		t.Fatalf("expected true, got %v %v", ok, err)
	}
}
