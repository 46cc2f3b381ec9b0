package registrar

import (
	"context"
	"sync"

	"keygate.org/internal/gateway"
	"keygate.org/internal/proxy"
)

// CheckerByDAOMember gates documents on membership of a single DAO, fixed at
// construction. Every member of the DAO can read every document registered
// through this checker; leaving the DAO drops access on the next query.
type CheckerByDAOMember struct {
	addr    gateway.Address
	owner   gateway.Address
	members DAOMembership

	mu     sync.RWMutex
	ledger *proxy.Proxy
	docs   map[gateway.DocumentID]DocumentInfo
	order  []gateway.DocumentID
}

var _ gateway.Checker = (*CheckerByDAOMember)(nil)

// NewCheckerByDAOMember constructs a checker reachable at addr over one DAO.
func NewCheckerByDAOMember(addr, owner gateway.Address, ledger *proxy.Proxy, members DAOMembership) *CheckerByDAOMember {
	return &CheckerByDAOMember{
		addr:    addr,
		owner:   owner,
		members: members,
		ledger:  ledger,
		docs:    make(map[gateway.DocumentID]DocumentInfo),
	}
}

// Address returns the address this checker is registered under.
func (c *CheckerByDAOMember) Address() gateway.Address { return c.addr }

// GrantAccessControlToDAOMember registers doc with the gateway and records its
// metadata. Beneficiary semantics do not apply here: the author is recorded
// for attribution, permission flows from membership alone.
func (c *CheckerByDAOMember) GrantAccessControlToDAOMember(ctx context.Context, caller gateway.Address, doc gateway.DocumentID, author gateway.Address, name, encryptedDataURL string, payment gateway.Wei) error {
	svc, err := c.gateway()
	if err != nil {
		return err
	}
	if _, err := svc.GrantAccessControl(ctx, doc, c.addr, caller, payment); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs[doc] = DocumentInfo{
		DocumentID:       doc,
		Author:           author,
		Name:             name,
		EncryptedDataURL: encryptedDataURL,
	}
	c.order = append(c.order, doc)
	return nil
}

// HasAccessControl is permitted iff user is currently a DAO member and the
// document is registered here.
func (c *CheckerByDAOMember) HasAccessControl(ctx context.Context, user gateway.Address, doc gateway.DocumentID) (bool, error) {
	c.mu.RLock()
	_, ok := c.docs[doc]
	c.mu.RUnlock()
	if !ok {
		return false, ErrUnknownDocument
	}
	return c.members.IsMember(ctx, user)
}

// DocumentIDToInfo returns the metadata recorded for doc.
func (c *CheckerByDAOMember) DocumentIDToInfo(doc gateway.DocumentID) (DocumentInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.docs[doc]
	return info, ok
}

// GetDocumentInfos enumerates registered documents in registration order.
func (c *CheckerByDAOMember) GetDocumentInfos() []DocumentInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]DocumentInfo, 0, len(c.order))
	for _, doc := range c.order {
		out = append(out, c.docs[doc])
	}
	return out
}

// SetLedgerProxy repoints which proxy grants are forwarded through. Owner-only.
func (c *CheckerByDAOMember) SetLedgerProxy(caller gateway.Address, p *proxy.Proxy) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if caller != c.owner {
		return gateway.ErrNotOwner
	}
	c.ledger = p
	return nil
}

func (c *CheckerByDAOMember) gateway() (gateway.Service, error) {
	c.mu.RLock()
	p := c.ledger
	c.mu.RUnlock()
	return p.Gateway()
}
