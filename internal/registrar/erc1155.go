package registrar

import (
	"context"
	"sync"

	"keygate.org/internal/gateway"
	"keygate.org/internal/proxy"
)

// CheckerByERC1155 is the semi-fungible variant of CheckerByNFT: access
// follows any positive balance of the backing (contract, tokenID), so several
// holders can be permitted at once and partial transfers extend access without
// revoking the sender's while their balance stays above zero.
type CheckerByERC1155 struct {
	addr     gateway.Address
	owner    gateway.Address
	balances ERC1155Balance

	mu       sync.RWMutex
	ledger   *proxy.Proxy
	bindings map[gateway.DocumentID]TokenInfo
	order    []gateway.DocumentID
}

var _ gateway.Checker = (*CheckerByERC1155)(nil)

// NewCheckerByERC1155 constructs a checker reachable at addr.
func NewCheckerByERC1155(addr, owner gateway.Address, ledger *proxy.Proxy, balances ERC1155Balance) *CheckerByERC1155 {
	return &CheckerByERC1155{
		addr:     addr,
		owner:    owner,
		balances: balances,
		ledger:   ledger,
		bindings: make(map[gateway.DocumentID]TokenInfo),
	}
}

// Address returns the address this checker is registered under.
func (c *CheckerByERC1155) Address() gateway.Address { return c.addr }

// GrantAccessControlAndRegisterERC1155 registers doc with the gateway and
// binds it to the token. Binding is recorded only after the grant committed.
func (c *CheckerByERC1155) GrantAccessControlAndRegisterERC1155(ctx context.Context, caller gateway.Address, doc gateway.DocumentID, contract gateway.Address, tokenID uint64, payment gateway.Wei) error {
	svc, err := c.gateway()
	if err != nil {
		return err
	}
	if _, err := svc.GrantAccessControl(ctx, doc, c.addr, caller, payment); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.bindings[doc] = TokenInfo{ContractAddress: contract, TokenID: tokenID}
	c.order = append(c.order, doc)
	return nil
}

// HasAccessControl is permitted iff the user's live balance of the backing
// token is greater than zero.
func (c *CheckerByERC1155) HasAccessControl(ctx context.Context, user gateway.Address, doc gateway.DocumentID) (bool, error) {
	c.mu.RLock()
	token, ok := c.bindings[doc]
	c.mu.RUnlock()
	if !ok {
		return false, ErrUnknownDocument
	}
	bal, err := c.balances.BalanceOf(ctx, token.ContractAddress, user, token.TokenID)
	if err != nil {
		return false, err
	}
	return bal > 0, nil
}

// DocumentToToken returns the binding recorded for doc.
func (c *CheckerByERC1155) DocumentToToken(doc gateway.DocumentID) (TokenInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	token, ok := c.bindings[doc]
	return token, ok
}

// GetERC1155Datas enumerates all registered document/token pairs in
// registration order.
func (c *CheckerByERC1155) GetERC1155Datas() []NFTData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]NFTData, 0, len(c.order))
	for _, doc := range c.order {
		out = append(out, NFTData{DocumentID: doc, Token: c.bindings[doc]})
	}
	return out
}

// SetLedgerProxy repoints which proxy grants are forwarded through. Owner-only.
func (c *CheckerByERC1155) SetLedgerProxy(caller gateway.Address, p *proxy.Proxy) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if caller != c.owner {
		return gateway.ErrNotOwner
	}
	c.ledger = p
	return nil
}

func (c *CheckerByERC1155) gateway() (gateway.Service, error) {
	c.mu.RLock()
	p := c.ledger
	c.mu.RUnlock()
	return p.Gateway()
}
