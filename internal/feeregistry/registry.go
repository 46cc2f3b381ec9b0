package feeregistry

import (
	"errors"
	"math/big"
	"strings"
	"sync"

	"keygate.org/internal/gateway"
)

// Error messages are part of the public API surface and must stay stable.
var (
	ErrInvalidFiatIndex    = errors.New("fiatIndex is invalid")
	ErrAlreadyRegistered   = errors.New("ERC20 is already registered")
	ErrTokenRegistered     = errors.New("This ERC20 is already registered")
	ErrTokenNotRegistered  = errors.New("This ERC20 is not registered")
	ErrInvalidFiatName     = errors.New("fiatName is required")
	ErrLengthMismatch      = errors.New("tokens and decimals length mismatch")
	ErrInvalidFeeNumerator = errors.New("feeNumerator must be >= 0")
)

// feeDenominator is the basis-point denominator for fee numerators:
// a numerator of 1 is 0.01% of one whole token unit.
const feeDenominator = 10_000

type fiatInfo struct {
	name         string
	tokens       []gateway.Address
	feeNumerator int64
}

// Registry maps registered ERC-20 tokens to decimal-aware fee amounts,
// grouped by fiat so each currency's rate is adjustable independently.
// Fiat groups are 1-indexed; index 0 is never valid.
type Registry struct {
	mu       sync.RWMutex
	owner    gateway.Address
	fiats    []*fiatInfo
	fiatOf   map[gateway.Address]int // token -> 1-based fiat index
	decimals map[gateway.Address]int
}

// New creates an empty registry owned by owner.
func New(owner gateway.Address) *Registry {
	return &Registry{
		owner:    owner,
		fiatOf:   make(map[gateway.Address]int),
		decimals: make(map[gateway.Address]int),
	}
}

// RegisterStableCoinInfo creates a new fiat group with its initial tokens and
// fee numerator, returning the group's 1-based index. Fails if any token is
// already registered anywhere.
func (r *Registry) RegisterStableCoinInfo(caller gateway.Address, fiatName string, tokens []gateway.Address, decimals []int, feeNumerator int64) (int, error) {
	fiatName = strings.TrimSpace(fiatName)
	if fiatName == "" {
		return 0, ErrInvalidFiatName
	}
	if len(tokens) != len(decimals) {
		return 0, ErrLengthMismatch
	}
	if feeNumerator < 0 {
		return 0, ErrInvalidFeeNumerator
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.owner {
		return 0, gateway.ErrNotOwner
	}
	for _, tok := range tokens {
		if _, ok := r.fiatOf[tok]; ok {
			return 0, ErrAlreadyRegistered
		}
	}

	info := &fiatInfo{name: fiatName, feeNumerator: feeNumerator}
	r.fiats = append(r.fiats, info)
	idx := len(r.fiats)
	for i, tok := range tokens {
		info.tokens = append(info.tokens, tok)
		r.fiatOf[tok] = idx
		r.decimals[tok] = decimals[i]
	}
	return idx, nil
}

// RegisterERC20Addresses adds tokens to an existing fiat group.
func (r *Registry) RegisterERC20Addresses(caller gateway.Address, fiatIndex int, tokens []gateway.Address, decimals []int) error {
	if len(tokens) != len(decimals) {
		return ErrLengthMismatch
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.owner {
		return gateway.ErrNotOwner
	}
	info, err := r.fiat(fiatIndex)
	if err != nil {
		return err
	}
	for _, tok := range tokens {
		if _, ok := r.fiatOf[tok]; ok {
			return ErrTokenRegistered
		}
	}
	for i, tok := range tokens {
		info.tokens = append(info.tokens, tok)
		r.fiatOf[tok] = fiatIndex
		r.decimals[tok] = decimals[i]
	}
	return nil
}

// UnregisterERC20Address removes a token from a fiat group. Removal is
// swap-and-pop: the group's token list may reorder, which callers must not
// rely on.
func (r *Registry) UnregisterERC20Address(caller gateway.Address, fiatIndex int, token gateway.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.owner {
		return gateway.ErrNotOwner
	}
	info, err := r.fiat(fiatIndex)
	if err != nil {
		return err
	}
	if r.fiatOf[token] != fiatIndex {
		return ErrTokenNotRegistered
	}

	for i, tok := range info.tokens {
		if tok == token {
			last := len(info.tokens) - 1
			info.tokens[i] = info.tokens[last]
			info.tokens = info.tokens[:last]
			break
		}
	}
	delete(r.fiatOf, token)
	delete(r.decimals, token)
	return nil
}

// RegisterFeeNumerator updates the fee rate of a fiat group.
func (r *Registry) RegisterFeeNumerator(caller gateway.Address, fiatIndex int, feeNumerator int64) error {
	if feeNumerator < 0 {
		return ErrInvalidFeeNumerator
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.owner {
		return gateway.ErrNotOwner
	}
	info, err := r.fiat(fiatIndex)
	if err != nil {
		return err
	}
	info.feeNumerator = feeNumerator
	return nil
}

// GetFeeDecimals returns the token's fee amount in its own smallest units:
// feeNumerator * 10^decimals / 10^4. The boolean reports registration.
func (r *Registry) GetFeeDecimals(token gateway.Address) (*big.Int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.fiatOf[token]
	if !ok {
		return big.NewInt(0), false
	}
	numerator := big.NewInt(r.fiats[idx-1].feeNumerator)
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(r.decimals[token])), nil)
	fee := new(big.Int).Mul(numerator, scale)
	return fee.Div(fee, big.NewInt(feeDenominator)), true
}

// Registered reports whether the token is registered in any fiat group.
func (r *Registry) Registered(token gateway.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.fiatOf[token]
	return ok
}

// GetRegisteredTokens returns all registered tokens, fiat groups concatenated
// in creation order.
func (r *Registry) GetRegisteredTokens() []gateway.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []gateway.Address
	for _, info := range r.fiats {
		out = append(out, info.tokens...)
	}
	return out
}

// GetRegisteredTokensCount returns the total number of registered tokens.
func (r *Registry) GetRegisteredTokensCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, info := range r.fiats {
		n += len(info.tokens)
	}
	return n
}

// FiatName returns the name of a fiat group.
func (r *Registry) FiatName(fiatIndex int) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, err := r.fiat(fiatIndex)
	if err != nil {
		return "", err
	}
	return info.name, nil
}

// Reset clears all registered state. Owner-only.
func (r *Registry) Reset(caller gateway.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.owner {
		return gateway.ErrNotOwner
	}
	r.fiats = nil
	r.fiatOf = make(map[gateway.Address]int)
	r.decimals = make(map[gateway.Address]int)
	return nil
}

// fiat returns the group for a 1-based index. Callers hold the lock.
func (r *Registry) fiat(fiatIndex int) (*fiatInfo, error) {
	if fiatIndex < 1 || fiatIndex > len(r.fiats) {
		return nil, ErrInvalidFiatIndex
	}
	return r.fiats[fiatIndex-1], nil
}
