package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Address is a 0x-prefixed 20-byte hex identifier, normalized to lower case.
// Components deployed in-process (gateways, condition checkers) get a random
// address so callers can reference them the same way they reference accounts.
type Address string

// ZeroAddress is the built-in check sentinel: a grant whose condition contract
// is the zero address is fee-gated by the gateway itself.
const ZeroAddress Address = "0x0000000000000000000000000000000000000000"

// DocumentID is a 0x-prefixed 32-byte hex handle identifying a protected
// resource. The creator picks it at grant time; the gateway only guarantees it
// is never rebound.
type DocumentID string

// Wei is a native-currency amount in smallest units.
type Wei int64

// Grant is the authoritative permission record for a document. Created exactly
// once; immutable afterwards.
type Grant struct {
	DocumentID        DocumentID `json:"document_id"`
	ConditionContract Address    `json:"condition_contract"`
	Beneficiary       Address    `json:"beneficiary"`
	FeeWei            Wei        `json:"fee_wei"`
	Sequence          uint64     `json:"sequence"` // monotonic, for indexer paging
	CreatedAt         time.Time  `json:"created_at"`
}

// FeeGated reports whether access to the document is resolved by the gateway's
// built-in beneficiary/paid-user check rather than an external condition.
func (g Grant) FeeGated() bool { return g.ConditionContract == ZeroAddress }

// Checker is the access-condition capability. Any registered implementation
// can back a grant; the gateway returns its answer verbatim.
type Checker interface {
	HasAccessControl(ctx context.Context, user Address, doc DocumentID) (bool, error)
}

// CheckerResolver dispatches a condition contract address to its checker.
type CheckerResolver interface {
	Checker(addr Address) (Checker, bool)
}

// Error messages below are part of the public API surface and must stay
// byte-for-byte stable; clients match on them.
var (
	ErrAlreadyUsed      = errors.New("documentId is already used")
	ErrFeeTooLow        = errors.New("Fee is insufficient")
	ErrFeeTooHigh       = errors.New("Fee is too high")
	ErrNotOwner         = errors.New("caller is not the owner")
	ErrNotFound         = errors.New("documentId is not registered")
	ErrNotFeeGated      = errors.New("document is gated by a condition contract")
	ErrUnknownCondition = errors.New("condition contract is not registered")
	ErrUnknownGateway   = errors.New("gateway address does not resolve")
	ErrInvalidAmount    = errors.New("invalid amount (must be >= 0)")
	ErrInvalidAddress   = errors.New("invalid address")
	ErrInvalidDocument  = errors.New("invalid documentId")
)

// ParseAddress validates and normalizes a 20-byte hex address.
func ParseAddress(raw string) (Address, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if !strings.HasPrefix(s, "0x") || len(s) != 42 {
		return "", ErrInvalidAddress
	}
	if _, err := hex.DecodeString(s[2:]); err != nil {
		return "", ErrInvalidAddress
	}
	return Address(s), nil
}

// ParseDocumentID validates and normalizes a 32-byte hex document handle.
func ParseDocumentID(raw string) (DocumentID, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if !strings.HasPrefix(s, "0x") || len(s) != 66 {
		return "", ErrInvalidDocument
	}
	if _, err := hex.DecodeString(s[2:]); err != nil {
		return "", ErrInvalidDocument
	}
	return DocumentID(s), nil
}

// RandomAddress returns a fresh address for an in-process deployment.
func RandomAddress() Address {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return Address(fmt.Sprintf("0x%s", hex.EncodeToString(b[:])))
}

// NewDocumentID returns an unbiased random document handle. Callers are
// trusted to use identifiers like these; the gateway never validates content.
func NewDocumentID() DocumentID {
	var b [32]byte
	_, _ = rand.Read(b[:])
	return DocumentID(fmt.Sprintf("0x%s", hex.EncodeToString(b[:])))
}
