package registrar

import (
	"context"
	"sync"

	"keygate.org/internal/gateway"
	"keygate.org/internal/proxy"
)

// CheckerByNFT bridges ERC-721 ownership into gateway grants: it forwards the
// grant with itself as the condition contract and answers later permission
// queries from the token's live owner. Transferring the token transfers
// access; no revoke operation exists or is needed.
type CheckerByNFT struct {
	addr  gateway.Address
	owner gateway.Address
	nfts  NFTOwnership

	mu       sync.RWMutex
	ledger   *proxy.Proxy
	bindings map[gateway.DocumentID]TokenInfo
	order    []gateway.DocumentID
}

var _ gateway.Checker = (*CheckerByNFT)(nil)

// NewCheckerByNFT constructs a checker reachable at addr, forwarding grants
// through ledger and resolving ownership through nfts.
func NewCheckerByNFT(addr, owner gateway.Address, ledger *proxy.Proxy, nfts NFTOwnership) *CheckerByNFT {
	return &CheckerByNFT{
		addr:     addr,
		owner:    owner,
		nfts:     nfts,
		ledger:   ledger,
		bindings: make(map[gateway.DocumentID]TokenInfo),
	}
}

// Address returns the address this checker is registered under.
func (c *CheckerByNFT) Address() gateway.Address { return c.addr }

// GrantAccessControlAndRegisterNFT registers doc with the gateway (condition
// contract = this checker, beneficiary = caller) and binds it to the token.
// The gateway enforces documentId uniqueness and exact fee; the binding is
// only recorded once the grant committed.
func (c *CheckerByNFT) GrantAccessControlAndRegisterNFT(ctx context.Context, caller gateway.Address, doc gateway.DocumentID, contract gateway.Address, tokenID uint64, payment gateway.Wei) error {
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

// HasAccessControl implements the gateway.Checker capability: permitted iff
// user currently owns the backing token. The asset contract is queried live on
// every call.
func (c *CheckerByNFT) HasAccessControl(ctx context.Context, user gateway.Address, doc gateway.DocumentID) (bool, error) {
	owner, err := c.GetOwnerAddress(ctx, doc)
	if err != nil {
		return false, err
	}
	return owner == user, nil
}

// GetOwnerAddress resolves the current owner of the token backing doc.
func (c *CheckerByNFT) GetOwnerAddress(ctx context.Context, doc gateway.DocumentID) (gateway.Address, error) {
	c.mu.RLock()
	token, ok := c.bindings[doc]
	c.mu.RUnlock()
	if !ok {
		return "", ErrUnknownDocument
	}
	return c.nfts.OwnerOf(ctx, token.ContractAddress, token.TokenID)
}

// DocumentToToken returns the binding recorded for doc.
func (c *CheckerByNFT) DocumentToToken(doc gateway.DocumentID) (TokenInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	token, ok := c.bindings[doc]
	return token, ok
}

// GetNFTDatas enumerates all registered document/token pairs in registration
// order, for off-chain indexers.
func (c *CheckerByNFT) GetNFTDatas() []NFTData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]NFTData, 0, len(c.order))
	for _, doc := range c.order {
		out = append(out, NFTData{DocumentID: doc, Token: c.bindings[doc]})
	}
	return out
}

// SetLedgerProxy repoints which proxy grants are forwarded through. Owner-only.
func (c *CheckerByNFT) SetLedgerProxy(caller gateway.Address, p *proxy.Proxy) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if caller != c.owner {
		return gateway.ErrNotOwner
	}
	c.ledger = p
	return nil
}

func (c *CheckerByNFT) gateway() (gateway.Service, error) {
	c.mu.RLock()
	p := c.ledger
	c.mu.RUnlock()
	return p.Gateway()
}
