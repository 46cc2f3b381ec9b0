package registrar

import (
	"context"
	"sync"
	"testing"

	"keygate.org/internal/condition"
	"keygate.org/internal/gateway"
	"keygate.org/internal/proxy"
)

// fakeNFT is an in-memory ERC-721 style ownership ledger.
type fakeNFT struct {
	mu     sync.Mutex
	owners map[gateway.Address]map[uint64]gateway.Address
}

func newFakeNFT() *fakeNFT {
	return &fakeNFT{owners: make(map[gateway.Address]map[uint64]gateway.Address)}
}

func (f *fakeNFT) mint(contract gateway.Address, tokenID uint64, to gateway.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.owners[contract] == nil {
		f.owners[contract] = make(map[uint64]gateway.Address)
	}
	f.owners[contract][tokenID] = to
}

func (f *fakeNFT) transfer(contract gateway.Address, tokenID uint64, to gateway.Address) {
	f.mint(contract, tokenID, to)
}

func (f *fakeNFT) OwnerOf(ctx context.Context, contract gateway.Address, tokenID uint64) (gateway.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	owner, ok := f.owners[contract][tokenID]
	if !ok {
		return "", ErrUnknownDocument
	}
	return owner, nil
}

// fakeERC1155 is an in-memory balance ledger.
type fakeERC1155 struct {
	mu       sync.Mutex
	balances map[gateway.Address]map[gateway.Address]map[uint64]uint64
}

func newFakeERC1155() *fakeERC1155 {
	return &fakeERC1155{balances: make(map[gateway.Address]map[gateway.Address]map[uint64]uint64)}
}

func (f *fakeERC1155) setBalance(contract, account gateway.Address, tokenID, amount uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balances[contract] == nil {
		f.balances[contract] = make(map[gateway.Address]map[uint64]uint64)
	}
	if f.balances[contract][account] == nil {
		f.balances[contract][account] = make(map[uint64]uint64)
	}
	f.balances[contract][account][tokenID] = amount
}

func (f *fakeERC1155) BalanceOf(ctx context.Context, contract, account gateway.Address, tokenID uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[contract][account][tokenID], nil
}

// fakeDAO is an in-memory membership roster.
type fakeDAO struct {
	mu      sync.Mutex
	members map[gateway.Address]bool
}

func newFakeDAO(members ...gateway.Address) *fakeDAO {
	d := &fakeDAO{members: make(map[gateway.Address]bool)}
	for _, m := range members {
		d.members[m] = true
	}
	return d
}

func (f *fakeDAO) setMember(user gateway.Address, member bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[user] = member
}

func (f *fakeDAO) IsMember(ctx context.Context, user gateway.Address) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members[user], nil
}

// fixture wires a gateway, proxy and condition registry the way cmd/api does.
type fixture struct {
	owner      gateway.Address
	gw         *gateway.InMemory
	conditions *condition.Registry
	ledger     *proxy.Proxy
}

func newFixture(t *testing.T, feeWei gateway.Wei) *fixture {
	t.Helper()
	owner := gateway.RandomAddress()
	conditions := condition.NewRegistry()
	gw := gateway.NewInMemory(owner, feeWei, conditions)
	dir := proxy.NewDirectory()
	addr := dir.Deploy(gw)
	return &fixture{
		owner:      owner,
		gw:         gw,
		conditions: conditions,
		ledger:     proxy.New(owner, dir, addr),
	}
}
