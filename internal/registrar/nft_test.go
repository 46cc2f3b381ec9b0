package registrar

import (
	"context"
	"errors"
	"testing"

	"keygate.org/internal/gateway"
)

func TestNFTGrantAndOwnershipFollowsToken(t *testing.T) {
	fx := newFixture(t, 100)
	ctx := context.Background()

	nfts := newFakeNFT()
	checker := NewCheckerByNFT(gateway.RandomAddress(), fx.owner, fx.ledger, nfts)
	fx.conditions.Register(checker.Address(), checker)

	minter := gateway.RandomAddress()
	buyer := gateway.RandomAddress()
	contract := gateway.RandomAddress()
	doc := gateway.NewDocumentID()
	nfts.mint(contract, 7, minter)

	if err := checker.GrantAccessControlAndRegisterNFT(ctx, minter, doc, contract, 7, 100); err != nil {
		t.Fatal(err)
	}

	token, ok := checker.DocumentToToken(doc)
	if !ok || token.ContractAddress != contract || token.TokenID != 7 {
		t.Fatalf("binding mismatch: %+v %v", token, ok)
	}
	if owner, err := checker.GetOwnerAddress(ctx, doc); err != nil || owner != minter {
		t.Fatalf("owner=%s err=%v", owner, err)
	}

	ok, err := fx.gw.HasAccessControl(ctx, minter, doc)
	if err != nil || !ok {
		t.Fatalf("minter should hold access via ownership, got %v %v", ok, err)
	}

	// Transferring the backing token moves access in the same query, with no
	// revoke call anywhere.
	nfts.transfer(contract, 7, buyer)
	if ok, _ := fx.gw.HasAccessControl(ctx, minter, doc); ok {
		t.Fatal("minter must lose access after transfer")
	}
	if ok, _ := fx.gw.HasAccessControl(ctx, buyer, doc); !ok {
		t.Fatal("buyer must gain access after transfer")
	}
}

func TestNFTGrantFailuresDoNotBind(t *testing.T) {
	fx := newFixture(t, 100)
	ctx := context.Background()

	nfts := newFakeNFT()
	checker := NewCheckerByNFT(gateway.RandomAddress(), fx.owner, fx.ledger, nfts)
	fx.conditions.Register(checker.Address(), checker)

	minter := gateway.RandomAddress()
	contract := gateway.RandomAddress()
	doc := gateway.NewDocumentID()
	nfts.mint(contract, 1, minter)

	if err := checker.GrantAccessControlAndRegisterNFT(ctx, minter, doc, contract, 1, 90); !errors.Is(err, gateway.ErrFeeTooLow) {
		t.Fatalf("expected ErrFeeTooLow, got %v", err)
	}
	if err := checker.GrantAccessControlAndRegisterNFT(ctx, minter, doc, contract, 1, 110); !errors.Is(err, gateway.ErrFeeTooHigh) {
		t.Fatalf("expected ErrFeeTooHigh, got %v", err)
	}
	if _, ok := checker.DocumentToToken(doc); ok {
		t.Fatal("rejected grant must not record a binding")
	}

	if err := checker.GrantAccessControlAndRegisterNFT(ctx, minter, doc, contract, 1, 100); err != nil {
		t.Fatal(err)
	}
	if err := checker.GrantAccessControlAndRegisterNFT(ctx, minter, doc, contract, 1, 100); !errors.Is(err, gateway.ErrAlreadyUsed) {
		t.Fatalf("expected ErrAlreadyUsed, got %v", err)
	}
}

func TestGetNFTDatasEnumeration(t *testing.T) {
	fx := newFixture(t, 0)
	ctx := context.Background()

	nfts := newFakeNFT()
	checker := NewCheckerByNFT(gateway.RandomAddress(), fx.owner, fx.ledger, nfts)
	fx.conditions.Register(checker.Address(), checker)

	minter := gateway.RandomAddress()
	contract := gateway.RandomAddress()
	docs := []gateway.DocumentID{gateway.NewDocumentID(), gateway.NewDocumentID(), gateway.NewDocumentID()}
	for i, doc := range docs {
		nfts.mint(contract, uint64(i), minter)
		if err := checker.GrantAccessControlAndRegisterNFT(ctx, minter, doc, contract, uint64(i), 0); err != nil {
			t.Fatal(err)
		}
	}

	datas := checker.GetNFTDatas()
	if len(datas) != len(docs) {
		t.Fatalf("len=%d, want %d", len(datas), len(docs))
	}
	for i, d := range datas {
		if d.DocumentID != docs[i] || d.Token.TokenID != uint64(i) {
			t.Fatalf("entry %d mismatch: %+v", i, d)
		}
	}
}

func TestSetLedgerProxyOwnerOnly(t *testing.T) {
	fx := newFixture(t, 0)
	checker := NewCheckerByNFT(gateway.RandomAddress(), fx.owner, fx.ledger, newFakeNFT())

	if err := checker.SetLedgerProxy(gateway.RandomAddress(), fx.ledger); !errors.Is(err, gateway.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := checker.SetLedgerProxy(fx.owner, fx.ledger); err != nil {
		t.Fatal(err)
	}
}

func TestNFTUnknownDocument(t *testing.T) {
	fx := newFixture(t, 0)
	ctx := context.Background()
	checker := NewCheckerByNFT(gateway.RandomAddress(), fx.owner, fx.ledger, newFakeNFT())

	if _, err := checker.HasAccessControl(ctx, gateway.RandomAddress(), gateway.NewDocumentID()); !errors.Is(err, ErrUnknownDocument) {
		t.Fatalf("expected ErrUnknownDocument, got %v", err)
	}
}
