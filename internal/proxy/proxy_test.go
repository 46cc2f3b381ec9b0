package proxy

import (
	"context"
	"errors"
	"testing"

	"keygate.org/internal/gateway"
)

func TestProxyResolvesAtCallTime(t *testing.T) {
	owner := gateway.RandomAddress()
	dir := NewDirectory()

	gwA := gateway.NewInMemory(owner, 0, nil)
	gwB := gateway.NewInMemory(owner, 0, nil)
	addrA := dir.Deploy(gwA)
	addrB := dir.Deploy(gwB)

	p := New(owner, dir, addrA)
	ctx := context.Background()
	doc := gateway.NewDocumentID()
	beneficiary := gateway.RandomAddress()

	svc, err := p.Gateway()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.GrantAccessControl(ctx, doc, gateway.ZeroAddress, beneficiary, 0); err != nil {
		t.Fatal(err)
	}

	// Migrate the ledger. The grant recorded in A must not be visible through
	// the proxy anymore; a dependent that cached the handle would still see it.
	if err := p.SetGatewayAddress(owner, addrB); err != nil {
		t.Fatal(err)
	}
	svc, err = p.Gateway()
	if err != nil {
		t.Fatal(err)
	}
	ok, err := svc.HasAccessControl(ctx, beneficiary, doc)
	if err != nil || ok {
		t.Fatalf("expected fresh ledger after migration, got %v %v", ok, err)
	}
}

func TestSetGatewayAddressOwnerOnly(t *testing.T) {
	owner := gateway.RandomAddress()
	stranger := gateway.RandomAddress()
	dir := NewDirectory()
	addr := dir.Deploy(gateway.NewInMemory(owner, 0, nil))

	p := New(owner, dir, addr)
	if err := p.SetGatewayAddress(stranger, gateway.RandomAddress()); !errors.Is(err, gateway.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if p.GatewayAddress() != addr {
		t.Fatal("address must be unchanged after rejected repoint")
	}
}

func TestGatewayUnresolvableAddress(t *testing.T) {
	owner := gateway.RandomAddress()
	p := New(owner, NewDirectory(), gateway.RandomAddress())
	if _, err := p.Gateway(); !errors.Is(err, gateway.ErrUnknownGateway) {
		t.Fatalf("expected ErrUnknownGateway, got %v", err)
	}
}
