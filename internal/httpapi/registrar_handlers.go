package httpapi

import (
	"net/http"
	"strconv"

	"keygate.org/internal/audit"
	"keygate.org/internal/gateway"
	"keygate.org/internal/obs"
)

type nftGrantRequest struct {
	Caller          string `json:"caller"`
	DocumentID      string `json:"document_id"`
	ContractAddress string `json:"contract_address"`
	TokenID         uint64 `json:"token_id"`
	PaymentWei      int64  `json:"payment_wei"`
}

type daoGrantRequest struct {
	Caller           string `json:"caller"`
	DocumentID       string `json:"document_id"`
	Author           string `json:"author"`
	Name             string `json:"name"`
	EncryptedDataURL string `json:"encrypted_data_url"`
	PaymentWei       int64  `json:"payment_wei"`
}

func (a *API) handleNFTGrants(w http.ResponseWriter, r *http.Request) {
	if a.nft == nil {
		writeError(w, r, http.StatusServiceUnavailable, "nft checker disabled")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req nftGrantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	caller, doc, contract, err := parseTokenGrant(req.Caller, req.DocumentID, req.ContractAddress)
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}

	if err := a.nft.GrantAccessControlAndRegisterNFT(r.Context(), caller, doc, contract, req.TokenID, gateway.Wei(req.PaymentWei)); err != nil {
		handleGatewayError(w, r, err)
		return
	}

	obs.ObserveGrant("nft")
	a.audit(r.Context(), audit.EventGrantRegistered, map[string]any{
		"document_id":      string(doc),
		"checker":          "nft",
		"contract_address": string(contract),
		"token_id":         strconv.FormatUint(req.TokenID, 10),
	})
	writeJSON(w, http.StatusCreated, map[string]any{
		"document_id":      string(doc),
		"contract_address": string(contract),
		"token_id":         req.TokenID,
	})
}

func (a *API) handleNFTDatas(w http.ResponseWriter, r *http.Request) {
	if a.nft == nil {
		writeError(w, r, http.StatusServiceUnavailable, "nft checker disabled")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": a.nft.GetNFTDatas()})
}

func (a *API) handleNFTOwner(w http.ResponseWriter, r *http.Request) {
	if a.nft == nil {
		writeError(w, r, http.StatusServiceUnavailable, "nft checker disabled")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	doc, err := gateway.ParseDocumentID(r.URL.Query().Get("document_id"))
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	owner, err := a.nft.GetOwnerAddress(r.Context(), doc)
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"document_id": string(doc),
		"owner":       string(owner),
	})
}

func (a *API) handleERC1155Grants(w http.ResponseWriter, r *http.Request) {
	if a.erc1155 == nil {
		writeError(w, r, http.StatusServiceUnavailable, "erc1155 checker disabled")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req nftGrantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	caller, doc, contract, err := parseTokenGrant(req.Caller, req.DocumentID, req.ContractAddress)
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}

	if err := a.erc1155.GrantAccessControlAndRegisterERC1155(r.Context(), caller, doc, contract, req.TokenID, gateway.Wei(req.PaymentWei)); err != nil {
		handleGatewayError(w, r, err)
		return
	}

	obs.ObserveGrant("erc1155")
	a.audit(r.Context(), audit.EventGrantRegistered, map[string]any{
		"document_id":      string(doc),
		"checker":          "erc1155",
		"contract_address": string(contract),
		"token_id":         strconv.FormatUint(req.TokenID, 10),
	})
	writeJSON(w, http.StatusCreated, map[string]any{
		"document_id":      string(doc),
		"contract_address": string(contract),
		"token_id":         req.TokenID,
	})
}

func (a *API) handleERC1155Datas(w http.ResponseWriter, r *http.Request) {
	if a.erc1155 == nil {
		writeError(w, r, http.StatusServiceUnavailable, "erc1155 checker disabled")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": a.erc1155.GetERC1155Datas()})
}

func (a *API) handleDAOGrants(w http.ResponseWriter, r *http.Request) {
	if a.dao == nil {
		writeError(w, r, http.StatusServiceUnavailable, "dao checker disabled")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req daoGrantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := gateway.ParseAddress(req.Caller)
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	doc, err := gateway.ParseDocumentID(req.DocumentID)
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	author, err := gateway.ParseAddress(req.Author)
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}

	if err := a.dao.GrantAccessControlToDAOMember(r.Context(), caller, doc, author, req.Name, req.EncryptedDataURL, gateway.Wei(req.PaymentWei)); err != nil {
		handleGatewayError(w, r, err)
		return
	}

	obs.ObserveGrant("dao")
	a.audit(r.Context(), audit.EventGrantRegistered, map[string]any{
		"document_id": string(doc),
		"checker":     "dao",
		"author":      string(author),
		"name":        req.Name,
	})
	writeJSON(w, http.StatusCreated, map[string]any{
		"document_id": string(doc),
		"author":      string(author),
	})
}

func (a *API) handleDAODocuments(w http.ResponseWriter, r *http.Request) {
	if a.dao == nil {
		writeError(w, r, http.StatusServiceUnavailable, "dao checker disabled")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": a.dao.GetDocumentInfos()})
}

func parseTokenGrant(rawCaller, rawDoc, rawContract string) (gateway.Address, gateway.DocumentID, gateway.Address, error) {
	caller, err := gateway.ParseAddress(rawCaller)
	if err != nil {
		return "", "", "", err
	}
	doc, err := gateway.ParseDocumentID(rawDoc)
	if err != nil {
		return "", "", "", err
	}
	contract, err := gateway.ParseAddress(rawContract)
	if err != nil {
		return "", "", "", err
	}
	return caller, doc, contract, nil
}
