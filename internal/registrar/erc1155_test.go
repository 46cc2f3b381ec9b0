package registrar

import (
	"context"
	"errors"
	"testing"

	"keygate.org/internal/gateway"
)

func TestERC1155AccessFollowsBalance(t *testing.T) {
	fx := newFixture(t, 100)
	ctx := context.Background()

	balances := newFakeERC1155()
	checker := NewCheckerByERC1155(gateway.RandomAddress(), fx.owner, fx.ledger, balances)
	fx.conditions.Register(checker.Address(), checker)

	minter := gateway.RandomAddress()
	holder := gateway.RandomAddress()
	contract := gateway.RandomAddress()
	doc := gateway.NewDocumentID()
	balances.setBalance(contract, minter, 3, 10)

	if err := checker.GrantAccessControlAndRegisterERC1155(ctx, minter, doc, contract, 3, 100); err != nil {
		t.Fatal(err)
	}

	if ok, err := fx.gw.HasAccessControl(ctx, minter, doc); err != nil || !ok {
		t.Fatalf("minter with balance should have access, got %v %v", ok, err)
	}
	if ok, _ := fx.gw.HasAccessControl(ctx, holder, doc); ok {
		t.Fatal("zero balance must not carry access")
	}

	// Partial transfer: both hold a positive balance, both are permitted.
	balances.setBalance(contract, minter, 3, 4)
	balances.setBalance(contract, holder, 3, 6)
	for _, user := range []gateway.Address{minter, holder} {
		if ok, _ := fx.gw.HasAccessControl(ctx, user, doc); !ok {
			t.Fatalf("%s should have access with positive balance", user)
		}
	}

	// Draining the balance drops access on the next query.
	balances.setBalance(contract, minter, 3, 0)
	if ok, _ := fx.gw.HasAccessControl(ctx, minter, doc); ok {
		t.Fatal("drained holder must lose access")
	}
}

func TestERC1155DuplicateDocument(t *testing.T) {
	fx := newFixture(t, 0)
	ctx := context.Background()

	balances := newFakeERC1155()
	checker := NewCheckerByERC1155(gateway.RandomAddress(), fx.owner, fx.ledger, balances)
	fx.conditions.Register(checker.Address(), checker)

	minter := gateway.RandomAddress()
	contract := gateway.RandomAddress()
	doc := gateway.NewDocumentID()

	if err := checker.GrantAccessControlAndRegisterERC1155(ctx, minter, doc, contract, 1, 0); err != nil {
		t.Fatal(err)
	}
	if err := checker.GrantAccessControlAndRegisterERC1155(ctx, minter, doc, contract, 2, 0); !errors.Is(err, gateway.ErrAlreadyUsed) {
		t.Fatalf("expected ErrAlreadyUsed, got %v", err)
	}

	datas := checker.GetERC1155Datas()
	if len(datas) != 1 || datas[0].Token.TokenID != 1 {
		t.Fatalf("enumeration must hold only the committed binding: %+v", datas)
	}
}
