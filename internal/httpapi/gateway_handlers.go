package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"keygate.org/internal/audit"
	"keygate.org/internal/auth"
	"keygate.org/internal/gateway"
	"keygate.org/internal/obs"
	"keygate.org/internal/stream"
)

type grantRequest struct {
	DocumentID        string `json:"document_id"`
	ConditionContract string `json:"condition_contract"`
	Beneficiary       string `json:"beneficiary"`
	PaymentWei        int64  `json:"payment_wei"`
}

type paymentRequest struct {
	Payer      string `json:"payer"`
	PaymentWei int64  `json:"payment_wei"`
}

type setFeeRequest struct {
	Caller string `json:"caller"`
	FeeWei int64  `json:"fee_wei"`
}

type withdrawRequest struct {
	Caller string `json:"caller"`
}

type setProxyRequest struct {
	Caller         string `json:"caller"`
	GatewayAddress string `json:"gateway_address"`
}

type listGrantsResponse struct {
	Items     []gateway.Grant `json:"items"`
	NextAfter uint64          `json:"next_after"`
	AsOf      time.Time       `json:"as_of"`
}

func (a *API) handleGrantsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createGrant(w, r)
	case http.MethodGet:
		a.listGrants(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleGrantResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/grants/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if strings.HasSuffix(path, "/payments") {
		raw := strings.TrimSuffix(strings.TrimSuffix(path, "/payments"), "/")
		doc, err := gateway.ParseDocumentID(raw)
		if err != nil {
			handleGatewayError(w, r, err)
			return
		}
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.payFee(w, r, doc)
		return
	}

	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	doc, err := gateway.ParseDocumentID(path)
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	switch r.Method {
	case http.MethodGet:
		a.getGrant(w, r, doc)
	default:
		methodNotAllowed(w, r, http.MethodGet)
	}
}

func (a *API) createGrant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	doc, err := gateway.ParseDocumentID(req.DocumentID)
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	condition := gateway.ZeroAddress
	if strings.TrimSpace(req.ConditionContract) != "" {
		condition, err = gateway.ParseAddress(req.ConditionContract)
		if err != nil {
			handleGatewayError(w, r, err)
			return
		}
	}
	beneficiary := gateway.ZeroAddress
	if strings.TrimSpace(req.Beneficiary) != "" {
		beneficiary, err = gateway.ParseAddress(req.Beneficiary)
		if err != nil {
			handleGatewayError(w, r, err)
			return
		}
	}

	svc, err := a.gateway()
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	grant, err := svc.GrantAccessControl(r.Context(), doc, condition, beneficiary, gateway.Wei(req.PaymentWei))
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}

	a.publishGrant(grant, "direct")
	a.audit(r.Context(), audit.EventGrantRegistered, map[string]any{
		"document_id":        string(grant.DocumentID),
		"condition_contract": string(grant.ConditionContract),
		"beneficiary":        string(grant.Beneficiary),
		"fee_wei":            strconv.FormatInt(int64(grant.FeeWei), 10),
	})

	w.Header().Set("Location", "/v1/grants/"+string(grant.DocumentID))
	writeJSON(w, http.StatusCreated, grant)
}

func (a *API) getGrant(w http.ResponseWriter, r *http.Request, doc gateway.DocumentID) {
	svc, err := a.gateway()
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	condition, err := svc.ConditionContract(r.Context(), doc)
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"document_id":        string(doc),
		"condition_contract": string(condition),
		"fee_gated":          condition == gateway.ZeroAddress,
	})
}

func (a *API) payFee(w http.ResponseWriter, r *http.Request, doc gateway.DocumentID) {
	var req paymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	payer, err := gateway.ParseAddress(req.Payer)
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}

	svc, err := a.gateway()
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	if err := svc.PayFee(r.Context(), doc, payer, gateway.Wei(req.PaymentWei)); err != nil {
		handleGatewayError(w, r, err)
		return
	}

	obs.ObserveGrant("payment")
	a.audit(r.Context(), audit.EventFeePaid, map[string]any{
		"document_id": string(doc),
		"payer":       string(payer),
		"payment_wei": strconv.FormatInt(req.PaymentWei, 10),
	})
	writeJSON(w, http.StatusCreated, map[string]any{
		"document_id": string(doc),
		"payer":       string(payer),
	})
}

func (a *API) listGrants(w http.ResponseWriter, r *http.Request) {
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	afterParam := strings.TrimSpace(r.URL.Query().Get("after"))
	var after uint64
	if afterParam != "" {
		v, err := strconv.ParseUint(afterParam, 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "after must be a non-negative integer")
			return
		}
		after = v
	}

	svc, err := a.gateway()
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	items, next, err := svc.ListGrants(r.Context(), limit, after)
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, listGrantsResponse{
		Items:     items,
		NextAfter: next,
		AsOf:      time.Now().UTC(),
	})
}

func (a *API) handleAccess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	user, err := gateway.ParseAddress(r.URL.Query().Get("user"))
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	doc, err := gateway.ParseDocumentID(r.URL.Query().Get("document_id"))
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}

	svc, err := a.gateway()
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	permitted, err := svc.HasAccessControl(r.Context(), user, doc)
	if err != nil {
		obs.ObserveAccessCheck("error")
		handleGatewayError(w, r, err)
		return
	}
	if permitted {
		obs.ObserveAccessCheck("permitted")
	} else {
		obs.ObserveAccessCheck("denied")
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":        string(user),
		"document_id": string(doc),
		"permitted":   permitted,
	})
}

func (a *API) handleFee(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		svc, err := a.gateway()
		if err != nil {
			handleGatewayError(w, r, err)
			return
		}
		fee, err := svc.FeeWei(r.Context())
		if err != nil {
			handleGatewayError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"fee_wei": int64(fee)})
	case http.MethodPut:
		if err := a.requireRole(r.Context(), auth.RoleAdmin); err != nil {
			writeError(w, r, http.StatusForbidden, "admin role required")
			return
		}
		var req setFeeRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		caller, err := gateway.ParseAddress(req.Caller)
		if err != nil {
			handleGatewayError(w, r, err)
			return
		}
		svc, err := a.gateway()
		if err != nil {
			handleGatewayError(w, r, err)
			return
		}
		if err := svc.SetFeeWei(r.Context(), caller, gateway.Wei(req.FeeWei)); err != nil {
			handleGatewayError(w, r, err)
			return
		}
		a.audit(r.Context(), audit.EventFeeUpdated, map[string]any{
			"fee_wei": strconv.FormatInt(req.FeeWei, 10),
		})
		writeJSON(w, http.StatusOK, map[string]any{"fee_wei": req.FeeWei})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

func (a *API) handleEscrow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	svc, err := a.gateway()
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	escrow, err := svc.EscrowBalance(r.Context())
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	obs.SetEscrowWei(int64(escrow))
	writeJSON(w, http.StatusOK, map[string]any{"escrow_wei": int64(escrow)})
}

func (a *API) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := a.requireRole(r.Context(), auth.RoleAdmin); err != nil {
		writeError(w, r, http.StatusForbidden, "admin role required")
		return
	}
	var req withdrawRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := gateway.ParseAddress(req.Caller)
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	svc, err := a.gateway()
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	amount, err := svc.WithdrawFee(r.Context(), caller)
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	obs.SetEscrowWei(0)
	a.audit(r.Context(), audit.EventFeeWithdrawn, map[string]any{
		"amount_wei": strconv.FormatInt(int64(amount), 10),
	})
	writeJSON(w, http.StatusOK, map[string]any{"withdrawn_wei": int64(amount)})
}

func (a *API) handleProxy(w http.ResponseWriter, r *http.Request) {
	if a.proxy == nil {
		writeError(w, r, http.StatusServiceUnavailable, "proxy indirection disabled")
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"gateway_address": string(a.proxy.GatewayAddress()),
		})
	case http.MethodPut:
		if err := a.requireRole(r.Context(), auth.RoleAdmin); err != nil {
			writeError(w, r, http.StatusForbidden, "admin role required")
			return
		}
		var req setProxyRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		caller, err := gateway.ParseAddress(req.Caller)
		if err != nil {
			handleGatewayError(w, r, err)
			return
		}
		target, err := gateway.ParseAddress(req.GatewayAddress)
		if err != nil {
			handleGatewayError(w, r, err)
			return
		}
		if err := a.proxy.SetGatewayAddress(caller, target); err != nil {
			handleGatewayError(w, r, err)
			return
		}
		a.audit(r.Context(), audit.EventProxyRepointed, map[string]any{
			"gateway_address": string(target),
		})
		writeJSON(w, http.StatusOK, map[string]any{"gateway_address": string(target)})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

func (a *API) publishGrant(g gateway.Grant, kind string) {
	obs.ObserveGrant(kind)
	if a.stream != nil {
		a.stream.Publish(stream.FromGrant(g, kind))
	}
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between 1 and 1000")
	}
	return val, nil
}
