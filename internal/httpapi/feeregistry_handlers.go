package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"keygate.org/internal/audit"
	"keygate.org/internal/auth"
	"keygate.org/internal/feeregistry"
	"keygate.org/internal/gateway"
)

type stablecoinToken struct {
	Address  string `json:"address"`
	Decimals int    `json:"decimals"`
}

type registerStablecoinRequest struct {
	Caller       string            `json:"caller"`
	FiatName     string            `json:"fiat_name"`
	Tokens       []stablecoinToken `json:"tokens"`
	FeeNumerator int64             `json:"fee_numerator"`
}

type addTokensRequest struct {
	Caller string            `json:"caller"`
	Tokens []stablecoinToken `json:"tokens"`
}

type setNumeratorRequest struct {
	Caller       string `json:"caller"`
	FeeNumerator int64  `json:"fee_numerator"`
}

func (a *API) handleStablecoins(w http.ResponseWriter, r *http.Request) {
	if a.coins == nil {
		writeError(w, r, http.StatusServiceUnavailable, "stablecoin registry disabled")
		return
	}
	switch r.Method {
	case http.MethodGet:
		a.getStablecoins(w, r)
	case http.MethodPost:
		a.registerStablecoin(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) getStablecoins(w http.ResponseWriter, r *http.Request) {
	// ?token= answers the per-token fee in its own smallest units.
	if raw := strings.TrimSpace(r.URL.Query().Get("token")); raw != "" {
		token, err := gateway.ParseAddress(raw)
		if err != nil {
			handleGatewayError(w, r, err)
			return
		}
		fee, registered := a.coins.GetFeeDecimals(token)
		writeJSON(w, http.StatusOK, map[string]any{
			"token":      string(token),
			"registered": registered,
			"fee":        fee.String(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tokens": a.coins.GetRegisteredTokens(),
		"count":  a.coins.GetRegisteredTokensCount(),
	})
}

func (a *API) registerStablecoin(w http.ResponseWriter, r *http.Request) {
	if err := a.requireRole(r.Context(), auth.RoleAdmin); err != nil {
		writeError(w, r, http.StatusForbidden, "admin role required")
		return
	}
	var req registerStablecoinRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := gateway.ParseAddress(req.Caller)
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	tokens, decimals, err := splitTokens(req.Tokens)
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}

	idx, err := a.coins.RegisterStableCoinInfo(caller, req.FiatName, tokens, decimals, req.FeeNumerator)
	if err != nil {
		handleRegistryError(w, r, err)
		return
	}
	a.audit(r.Context(), audit.EventStablecoinChanged, map[string]any{
		"action":     "register_fiat",
		"fiat_index": strconv.Itoa(idx),
		"fiat_name":  req.FiatName,
	})
	writeJSON(w, http.StatusCreated, map[string]any{"fiat_index": idx})
}

// handleStablecoinGroup serves /v1/stablecoins/{fiat}/tokens and
// /v1/stablecoins/{fiat}/fee.
func (a *API) handleStablecoinGroup(w http.ResponseWriter, r *http.Request) {
	if a.coins == nil {
		writeError(w, r, http.StatusServiceUnavailable, "stablecoin registry disabled")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v1/stablecoins/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	fiatIndex, err := strconv.Atoi(parts[0])
	if err != nil || fiatIndex < 1 {
		writeError(w, r, http.StatusBadRequest, feeregistry.ErrInvalidFiatIndex.Error())
		return
	}

	switch parts[1] {
	case "tokens":
		a.handleGroupTokens(w, r, fiatIndex)
	case "fee":
		a.handleGroupFee(w, r, fiatIndex)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleGroupTokens(w http.ResponseWriter, r *http.Request, fiatIndex int) {
	switch r.Method {
	case http.MethodPost:
		if err := a.requireRole(r.Context(), auth.RoleAdmin); err != nil {
			writeError(w, r, http.StatusForbidden, "admin role required")
			return
		}
		var req addTokensRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		caller, err := gateway.ParseAddress(req.Caller)
		if err != nil {
			handleGatewayError(w, r, err)
			return
		}
		tokens, decimals, err := splitTokens(req.Tokens)
		if err != nil {
			handleGatewayError(w, r, err)
			return
		}
		if err := a.coins.RegisterERC20Addresses(caller, fiatIndex, tokens, decimals); err != nil {
			handleRegistryError(w, r, err)
			return
		}
		a.audit(r.Context(), audit.EventStablecoinChanged, map[string]any{
			"action":     "register_tokens",
			"fiat_index": strconv.Itoa(fiatIndex),
		})
		writeJSON(w, http.StatusCreated, map[string]any{"fiat_index": fiatIndex})
	case http.MethodDelete:
		if err := a.requireRole(r.Context(), auth.RoleAdmin); err != nil {
			writeError(w, r, http.StatusForbidden, "admin role required")
			return
		}
		caller, err := gateway.ParseAddress(r.URL.Query().Get("caller"))
		if err != nil {
			handleGatewayError(w, r, err)
			return
		}
		token, err := gateway.ParseAddress(r.URL.Query().Get("token"))
		if err != nil {
			handleGatewayError(w, r, err)
			return
		}
		if err := a.coins.UnregisterERC20Address(caller, fiatIndex, token); err != nil {
			handleRegistryError(w, r, err)
			return
		}
		a.audit(r.Context(), audit.EventStablecoinChanged, map[string]any{
			"action":     "unregister_token",
			"fiat_index": strconv.Itoa(fiatIndex),
			"token":      string(token),
		})
		writeJSON(w, http.StatusOK, map[string]any{"fiat_index": fiatIndex})
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodDelete)
	}
}

func (a *API) handleGroupFee(w http.ResponseWriter, r *http.Request, fiatIndex int) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if err := a.requireRole(r.Context(), auth.RoleAdmin); err != nil {
		writeError(w, r, http.StatusForbidden, "admin role required")
		return
	}
	var req setNumeratorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := gateway.ParseAddress(req.Caller)
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	if err := a.coins.RegisterFeeNumerator(caller, fiatIndex, req.FeeNumerator); err != nil {
		handleRegistryError(w, r, err)
		return
	}
	a.audit(r.Context(), audit.EventStablecoinChanged, map[string]any{
		"action":        "set_fee_numerator",
		"fiat_index":    strconv.Itoa(fiatIndex),
		"fee_numerator": strconv.FormatInt(req.FeeNumerator, 10),
	})
	writeJSON(w, http.StatusOK, map[string]any{"fiat_index": fiatIndex})
}

func splitTokens(in []stablecoinToken) ([]gateway.Address, []int, error) {
	tokens := make([]gateway.Address, 0, len(in))
	decimals := make([]int, 0, len(in))
	for _, t := range in {
		addr, err := gateway.ParseAddress(t.Address)
		if err != nil {
			return nil, nil, err
		}
		tokens = append(tokens, addr)
		decimals = append(decimals, t.Decimals)
	}
	return tokens, decimals, nil
}

func handleRegistryError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, feeregistry.ErrInvalidFiatIndex),
		errors.Is(err, feeregistry.ErrInvalidFiatName),
		errors.Is(err, feeregistry.ErrLengthMismatch),
		errors.Is(err, feeregistry.ErrInvalidFeeNumerator):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, feeregistry.ErrAlreadyRegistered),
		errors.Is(err, feeregistry.ErrTokenRegistered):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, feeregistry.ErrTokenNotRegistered):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, gateway.ErrNotOwner):
		writeError(w, r, http.StatusForbidden, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
