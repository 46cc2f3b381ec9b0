package registrar

import (
	"context"
	"errors"

	"keygate.org/internal/gateway"
)

// TokenInfo identifies the asset backing a document.
type TokenInfo struct {
	ContractAddress gateway.Address `json:"contract_address"`
	TokenID         uint64          `json:"token_id"`
}

// NFTData pairs a document with its backing token for off-chain indexing.
type NFTData struct {
	DocumentID gateway.DocumentID `json:"document_id"`
	Token      TokenInfo          `json:"token"`
}

// DocumentInfo is the metadata recorded for DAO-gated documents.
type DocumentInfo struct {
	DocumentID       gateway.DocumentID `json:"document_id"`
	Author           gateway.Address    `json:"author"`
	Name             string             `json:"name"`
	EncryptedDataURL string             `json:"encrypted_data_url"`
}

// NFTOwnership answers "who currently owns token tokenID of contract".
// ERC-721 style: exactly one owner per token.
type NFTOwnership interface {
	OwnerOf(ctx context.Context, contract gateway.Address, tokenID uint64) (gateway.Address, error)
}

// ERC1155Balance answers "how many units of (contract, tokenID) does account
// hold". Any positive balance carries access.
type ERC1155Balance interface {
	BalanceOf(ctx context.Context, contract, account gateway.Address, tokenID uint64) (uint64, error)
}

// DAOMembership answers whether user is currently a member of the DAO a
// checker was constructed over.
type DAOMembership interface {
	IsMember(ctx context.Context, user gateway.Address) (bool, error)
}

var (
	ErrUnknownDocument = errors.New("document is not registered with this checker")
)
