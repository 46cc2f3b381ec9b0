package gateway

import (
	"context"
	"sync"
	"time"
)

// Service defines the permission ledger operations.
type Service interface {
	GrantAccessControl(ctx context.Context, doc DocumentID, conditionContract, beneficiary Address, payment Wei) (Grant, error)
	PayFee(ctx context.Context, doc DocumentID, payer Address, payment Wei) error
	HasAccessControl(ctx context.Context, user Address, doc DocumentID) (bool, error)
	WithdrawFee(ctx context.Context, caller Address) (Wei, error)
	SetFeeWei(ctx context.Context, caller Address, fee Wei) error
	FeeWei(ctx context.Context) (Wei, error)
	EscrowBalance(ctx context.Context) (Wei, error)
	ConditionContract(ctx context.Context, doc DocumentID) (Address, error)
	ListGrants(ctx context.Context, limit int, afterSeq uint64) ([]Grant, uint64, error)
}

// InMemory implements Service with in-process concurrency safety.
// NOTE: Replace with durable storage later (see internal/store/pg).
type InMemory struct {
	mu         sync.RWMutex
	owner      Address
	feeWei     Wei
	escrow     Wei
	seq        uint64
	grants     map[DocumentID]*Grant
	paid       map[DocumentID]map[Address]struct{}
	order      []DocumentID
	conditions CheckerResolver
}

var _ Service = (*InMemory)(nil)

// NewInMemory creates a fresh gateway owned by owner, charging feeWei per
// grant. conditions resolves external condition contracts; it may be nil when
// only fee-gated documents are expected.
func NewInMemory(owner Address, feeWei Wei, conditions CheckerResolver) *InMemory {
	return &InMemory{
		owner:      owner,
		feeWei:     feeWei,
		grants:     make(map[DocumentID]*Grant),
		paid:       make(map[DocumentID]map[Address]struct{}),
		conditions: conditions,
	}
}

func (s *InMemory) GrantAccessControl(ctx context.Context, doc DocumentID, conditionContract, beneficiary Address, payment Wei) (Grant, error) {
	if payment < 0 {
		return Grant{}, ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.grants[doc]; ok {
		return Grant{}, ErrAlreadyUsed
	}
	// Both directions are rejected: silent overpayment absorption would make
	// the escrow balance unauditable.
	if payment < s.feeWei {
		return Grant{}, ErrFeeTooLow
	}
	if payment > s.feeWei {
		return Grant{}, ErrFeeTooHigh
	}

	s.seq++
	g := &Grant{
		DocumentID:        doc,
		ConditionContract: conditionContract,
		Beneficiary:       beneficiary,
		FeeWei:            payment,
		Sequence:          s.seq,
		CreatedAt:         time.Now().UTC(),
	}
	s.grants[doc] = g
	s.order = append(s.order, doc)
	s.escrow += payment
	return *g, nil
}

func (s *InMemory) PayFee(ctx context.Context, doc DocumentID, payer Address, payment Wei) error {
	if payment < 0 {
		return ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.grants[doc]
	if !ok {
		return ErrNotFound
	}
	if !g.FeeGated() {
		return ErrNotFeeGated
	}
	if payment < s.feeWei {
		return ErrFeeTooLow
	}
	if payment > s.feeWei {
		return ErrFeeTooHigh
	}

	set, ok := s.paid[doc]
	if !ok {
		set = make(map[Address]struct{})
		s.paid[doc] = set
	}
	set[payer] = struct{}{}
	s.escrow += payment
	return nil
}

// HasAccessControl resolves permission for user on doc. For fee-gated
// documents the answer is beneficiary-or-paid; otherwise the registered
// condition contract is consulted and its answer returned verbatim. The
// external call runs outside the lock so a slow checker cannot block writers.
func (s *InMemory) HasAccessControl(ctx context.Context, user Address, doc DocumentID) (bool, error) {
	s.mu.RLock()
	g, ok := s.grants[doc]
	if !ok {
		s.mu.RUnlock()
		return false, nil
	}
	if g.FeeGated() {
		if user == g.Beneficiary {
			s.mu.RUnlock()
			return true, nil
		}
		_, paid := s.paid[doc][user]
		s.mu.RUnlock()
		return paid, nil
	}
	target := g.ConditionContract
	s.mu.RUnlock()

	if s.conditions == nil {
		return false, ErrUnknownCondition
	}
	checker, ok := s.conditions.Checker(target)
	if !ok {
		return false, ErrUnknownCondition
	}
	return checker.HasAccessControl(ctx, user, doc)
}

func (s *InMemory) WithdrawFee(ctx context.Context, caller Address) (Wei, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if caller != s.owner {
		return 0, ErrNotOwner
	}
	amount := s.escrow
	s.escrow = 0
	return amount, nil
}

func (s *InMemory) SetFeeWei(ctx context.Context, caller Address, fee Wei) error {
	if fee < 0 {
		return ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if caller != s.owner {
		return ErrNotOwner
	}
	s.feeWei = fee
	return nil
}

func (s *InMemory) FeeWei(ctx context.Context) (Wei, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.feeWei, nil
}

func (s *InMemory) EscrowBalance(ctx context.Context) (Wei, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.escrow, nil
}

func (s *InMemory) ConditionContract(ctx context.Context, doc DocumentID) (Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.grants[doc]
	if !ok {
		return "", ErrNotFound
	}
	return g.ConditionContract, nil
}

func (s *InMemory) ListGrants(ctx context.Context, limit int, afterSeq uint64) ([]Grant, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Grant
	var last uint64
	for _, doc := range s.order {
		g := s.grants[doc]
		if g.Sequence <= afterSeq {
			continue
		}
		res = append(res, *g)
		last = g.Sequence
		if len(res) >= limit {
			break
		}
	}
	return res, last, nil
}
