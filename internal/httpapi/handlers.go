package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"keygate.org/internal/audit"
	"keygate.org/internal/feeregistry"
	"keygate.org/internal/gateway"
	"keygate.org/internal/obs"
	"keygate.org/internal/proxy"
	"keygate.org/internal/registrar"
	"keygate.org/internal/stream"
)

// ReadyProbe reports service readiness (for example a DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config wires the API to its backing components. Ledger is required; the
// rest are optional and their routes answer 503 when absent.
type Config struct {
	Ledger      gateway.Service
	Proxy       *proxy.Proxy
	NFT         *registrar.CheckerByNFT
	ERC1155     *registrar.CheckerByERC1155
	DAO         *registrar.CheckerByDAOMember
	Stablecoins *feeregistry.Registry
	Stream      *stream.Stream
	Ready       ReadyProbe
	Version     string
	AuthEnabled bool
}

// API is the HTTP layer over the permission ledger.
type API struct {
	mux         *http.ServeMux
	ledger      gateway.Service
	proxy       *proxy.Proxy
	nft         *registrar.CheckerByNFT
	erc1155     *registrar.CheckerByERC1155
	dao         *registrar.CheckerByDAOMember
	coins       *feeregistry.Registry
	stream      *stream.Stream
	readyProbe  ReadyProbe
	version     string
	authEnabled bool
}

func New(cfg Config) *API {
	a := &API{
		mux:         http.NewServeMux(),
		ledger:      cfg.Ledger,
		proxy:       cfg.Proxy,
		nft:         cfg.NFT,
		erc1155:     cfg.ERC1155,
		dao:         cfg.DAO,
		coins:       cfg.Stablecoins,
		stream:      cfg.Stream,
		readyProbe:  cfg.Ready,
		version:     cfg.Version,
		authEnabled: cfg.AuthEnabled,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// token issuance
	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	// permission ledger
	a.mux.HandleFunc("/v1/grants", a.handleGrantsCollection)
	a.mux.HandleFunc("/v1/grants/", a.handleGrantResource)
	a.mux.HandleFunc("/v1/access", a.handleAccess)
	a.mux.HandleFunc("/v1/fee", a.handleFee)
	a.mux.HandleFunc("/v1/escrow", a.handleEscrow)
	a.mux.HandleFunc("/v1/withdraw", a.handleWithdraw)
	a.mux.HandleFunc("/v1/proxy", a.handleProxy)

	// condition checkers
	a.mux.HandleFunc("/v1/checkers/nft/grants", a.handleNFTGrants)
	a.mux.HandleFunc("/v1/checkers/nft/datas", a.handleNFTDatas)
	a.mux.HandleFunc("/v1/checkers/nft/owner", a.handleNFTOwner)
	a.mux.HandleFunc("/v1/checkers/erc1155/grants", a.handleERC1155Grants)
	a.mux.HandleFunc("/v1/checkers/erc1155/datas", a.handleERC1155Datas)
	a.mux.HandleFunc("/v1/checkers/dao/grants", a.handleDAOGrants)
	a.mux.HandleFunc("/v1/checkers/dao/documents", a.handleDAODocuments)

	// stablecoin fee registry
	a.mux.HandleFunc("/v1/stablecoins", a.handleStablecoins)
	a.mux.HandleFunc("/v1/stablecoins/", a.handleStablecoinGroup)

	// live grant feed
	a.mux.HandleFunc("/v1/stream/grants", a.StreamGrants)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the routable handler wrapped with authn and metrics.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.withAuth(a.mux))
}

// gateway resolves the active ledger. When a proxy is configured the lookup
// happens per call so a repoint takes effect immediately.
func (a *API) gateway() (gateway.Service, error) {
	if a.proxy != nil {
		return a.proxy.Gateway()
	}
	if a.ledger == nil {
		return nil, gateway.ErrUnknownGateway
	}
	return a.ledger, nil
}

func (a *API) audit(ctx context.Context, event string, fields map[string]any) {
	_ = audit.LogEvent(ctx, event, fields)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "keygate-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "keygate-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleGatewayError maps domain errors to HTTP statuses. Error messages pass
// through unchanged; clients match on them.
func handleGatewayError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, gateway.ErrInvalidAmount),
		errors.Is(err, gateway.ErrInvalidAddress),
		errors.Is(err, gateway.ErrInvalidDocument):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, gateway.ErrFeeTooLow), errors.Is(err, gateway.ErrFeeTooHigh):
		writeError(w, r, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, gateway.ErrAlreadyUsed), errors.Is(err, gateway.ErrNotFeeGated):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, gateway.ErrNotOwner):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, gateway.ErrNotFound), errors.Is(err, registrar.ErrUnknownDocument):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, gateway.ErrUnknownCondition), errors.Is(err, gateway.ErrUnknownGateway):
		writeError(w, r, http.StatusBadGateway, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
