package proxy

import (
	"sync"

	"keygate.org/internal/gateway"
)

// Resolver turns a gateway address into a live service handle.
type Resolver interface {
	Gateway(addr gateway.Address) (gateway.Service, bool)
}

// Directory is the in-process address space of deployed gateways.
type Directory struct {
	mu       sync.RWMutex
	gateways map[gateway.Address]gateway.Service
}

var _ Resolver = (*Directory)(nil)

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{gateways: make(map[gateway.Address]gateway.Service)}
}

// Register binds a gateway service to an address.
func (d *Directory) Register(addr gateway.Address, svc gateway.Service) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gateways[addr] = svc
}

// Deploy assigns a fresh address to the service and registers it.
func (d *Directory) Deploy(svc gateway.Service) gateway.Address {
	addr := gateway.RandomAddress()
	d.Register(addr, svc)
	return addr
}

// Gateway implements Resolver.
func (d *Directory) Gateway(addr gateway.Address) (gateway.Service, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	svc, ok := d.gateways[addr]
	return svc, ok
}

// Proxy is the single indirection point for "the current gateway". Dependents
// hold the proxy and resolve through it on every call; caching the resolved
// service would silently desynchronize them across a ledger migration.
type Proxy struct {
	mu       sync.RWMutex
	owner    gateway.Address
	resolver Resolver
	addr     gateway.Address
}

// New creates a proxy pointing at the given gateway address.
func New(owner gateway.Address, resolver Resolver, addr gateway.Address) *Proxy {
	return &Proxy{owner: owner, resolver: resolver, addr: addr}
}

// GatewayAddress returns the current gateway address.
func (p *Proxy) GatewayAddress() gateway.Address {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.addr
}

// SetGatewayAddress repoints the proxy. Owner-only.
func (p *Proxy) SetGatewayAddress(caller, addr gateway.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.owner {
		return gateway.ErrNotOwner
	}
	p.addr = addr
	return nil
}

// Gateway resolves the current address to a service. Resolved at call time,
// never cached.
func (p *Proxy) Gateway() (gateway.Service, error) {
	p.mu.RLock()
	addr := p.addr
	p.mu.RUnlock()

	svc, ok := p.resolver.Gateway(addr)
	if !ok {
		return nil, gateway.ErrUnknownGateway
	}
	return svc, nil
}
