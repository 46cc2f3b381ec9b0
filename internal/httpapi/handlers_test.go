package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"keygate.org/internal/condition"
	"keygate.org/internal/feeregistry"
	"keygate.org/internal/gateway"
	"keygate.org/internal/proxy"
	"keygate.org/internal/registrar"
	"keygate.org/internal/stream"
)

type fakeNFT struct {
	owners map[string]gateway.Address
}

func (f *fakeNFT) key(contract gateway.Address, tokenID uint64) string {
	return fmt.Sprintf("%s/%d", contract, tokenID)
}

func (f *fakeNFT) mint(contract gateway.Address, tokenID uint64, owner gateway.Address) {
	if f.owners == nil {
		f.owners = make(map[string]gateway.Address)
	}
	f.owners[f.key(contract, tokenID)] = owner
}

func (f *fakeNFT) OwnerOf(ctx context.Context, contract gateway.Address, tokenID uint64) (gateway.Address, error) {
	owner, ok := f.owners[f.key(contract, tokenID)]
	if !ok {
		return "", registrar.ErrUnknownDocument
	}
	return owner, nil
}

type testEnv struct {
	api     *API
	srv     *httptest.Server
	owner   gateway.Address
	nfts    *fakeNFT
	gw      *gateway.InMemory
	ledger  *proxy.Proxy
	dir     *proxy.Directory
	gwAddr  gateway.Address
	checker *condition.Registry
}

func newTestEnv(t *testing.T, feeWei gateway.Wei) *testEnv {
	t.Helper()
	owner := gateway.RandomAddress()
	conditions := condition.NewRegistry()
	gw := gateway.NewInMemory(owner, feeWei, conditions)

	dir := proxy.NewDirectory()
	gwAddr := dir.Deploy(gw)
	ledger := proxy.New(owner, dir, gwAddr)

	nfts := &fakeNFT{}
	nftChecker := registrar.NewCheckerByNFT(gateway.RandomAddress(), owner, ledger, nfts)
	conditions.Register(nftChecker.Address(), nftChecker)

	api := New(Config{
		Ledger:      gw,
		Proxy:       ledger,
		NFT:         nftChecker,
		Stablecoins: feeregistry.New(owner),
		Stream:      stream.New(),
		Version:     "test",
	})
	srv := httptest.NewServer(RequestID(api.Handler()))
	t.Cleanup(srv.Close)

	return &testEnv{
		api: api, srv: srv, owner: owner, nfts: nfts, gw: gw,
		ledger: ledger, dir: dir, gwAddr: gwAddr, checker: conditions,
	}
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestGrantPaymentAndAccessFlow(t *testing.T) {
	env := newTestEnv(t, 100)
	doc := string(gateway.NewDocumentID())
	beneficiary := string(gateway.RandomAddress())
	payer := string(gateway.RandomAddress())

	resp, body := doJSON(t, http.MethodPost, env.srv.URL+"/v1/grants", map[string]any{
		"document_id": doc,
		"beneficiary": beneficiary,
		"payment_wei": 100,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create grant: status=%d body=%v", resp.StatusCode, body)
	}
	if resp.Header.Get("Location") != "/v1/grants/"+doc {
		t.Fatalf("unexpected Location: %s", resp.Header.Get("Location"))
	}

	// Duplicate documentId answers 409 with the canonical message.
	resp, body = doJSON(t, http.MethodPost, env.srv.URL+"/v1/grants", map[string]any{
		"document_id": doc,
		"beneficiary": beneficiary,
		"payment_wei": 100,
	})
	if resp.StatusCode != http.StatusConflict || body["error"] != "documentId is already used" {
		t.Fatalf("duplicate: status=%d body=%v", resp.StatusCode, body)
	}

	// Both fee directions are rejected.
	for payment, wantErr := range map[int]string{90: "Fee is insufficient", 110: "Fee is too high"} {
		resp, body = doJSON(t, http.MethodPost, env.srv.URL+"/v1/grants", map[string]any{
			"document_id": string(gateway.NewDocumentID()),
			"beneficiary": beneficiary,
			"payment_wei": payment,
		})
		if resp.StatusCode != http.StatusPaymentRequired || body["error"] != wantErr {
			t.Fatalf("payment %d: status=%d body=%v", payment, resp.StatusCode, body)
		}
	}

	// Paying the fee grants the payer access.
	resp, body = doJSON(t, http.MethodPost, env.srv.URL+"/v1/grants/"+doc+"/payments", map[string]any{
		"payer":       payer,
		"payment_wei": 100,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("pay fee: status=%d body=%v", resp.StatusCode, body)
	}

	for user, want := range map[string]bool{beneficiary: true, payer: true, string(gateway.RandomAddress()): false} {
		resp, body = doJSON(t, http.MethodGet, env.srv.URL+"/v1/access?user="+user+"&document_id="+doc, nil)
		if resp.StatusCode != http.StatusOK || body["permitted"] != want {
			t.Fatalf("access for %s: status=%d body=%v, want permitted=%v", user, resp.StatusCode, body, want)
		}
	}

	// Escrow holds the grant fee plus the payment.
	resp, body = doJSON(t, http.MethodGet, env.srv.URL+"/v1/escrow", nil)
	if resp.StatusCode != http.StatusOK || body["escrow_wei"] != float64(200) {
		t.Fatalf("escrow: status=%d body=%v", resp.StatusCode, body)
	}
}

func TestFeeAndWithdrawEndpoints(t *testing.T) {
	env := newTestEnv(t, 100)

	resp, body := doJSON(t, http.MethodGet, env.srv.URL+"/v1/fee", nil)
	if resp.StatusCode != http.StatusOK || body["fee_wei"] != float64(100) {
		t.Fatalf("get fee: status=%d body=%v", resp.StatusCode, body)
	}

	// Only the owner address may change the fee.
	resp, body = doJSON(t, http.MethodPut, env.srv.URL+"/v1/fee", map[string]any{
		"caller":  string(gateway.RandomAddress()),
		"fee_wei": 50,
	})
	if resp.StatusCode != http.StatusForbidden || body["error"] != "caller is not the owner" {
		t.Fatalf("stranger fee update: status=%d body=%v", resp.StatusCode, body)
	}

	resp, _ = doJSON(t, http.MethodPut, env.srv.URL+"/v1/fee", map[string]any{
		"caller":  string(env.owner),
		"fee_wei": 50,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("owner fee update: status=%d", resp.StatusCode)
	}

	doc := string(gateway.NewDocumentID())
	resp, _ = doJSON(t, http.MethodPost, env.srv.URL+"/v1/grants", map[string]any{
		"document_id": doc,
		"beneficiary": string(gateway.RandomAddress()),
		"payment_wei": 50,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("grant at new fee: status=%d", resp.StatusCode)
	}

	resp, body = doJSON(t, http.MethodPost, env.srv.URL+"/v1/withdraw", map[string]any{
		"caller": string(env.owner),
	})
	if resp.StatusCode != http.StatusOK || body["withdrawn_wei"] != float64(50) {
		t.Fatalf("withdraw: status=%d body=%v", resp.StatusCode, body)
	}
	resp, body = doJSON(t, http.MethodGet, env.srv.URL+"/v1/escrow", nil)
	if body["escrow_wei"] != float64(0) {
		t.Fatalf("escrow after withdraw: %v", body)
	}
}

func TestProxyRepointMovesTraffic(t *testing.T) {
	env := newTestEnv(t, 0)

	doc := string(gateway.NewDocumentID())
	resp, _ := doJSON(t, http.MethodPost, env.srv.URL+"/v1/grants", map[string]any{
		"document_id": doc,
		"beneficiary": string(env.owner),
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("grant: status=%d", resp.StatusCode)
	}

	// Deploy a fresh ledger and repoint the proxy at it.
	replacement := gateway.NewInMemory(env.owner, 0, env.checker)
	newAddr := env.dir.Deploy(replacement)
	resp, body := doJSON(t, http.MethodPut, env.srv.URL+"/v1/proxy", map[string]any{
		"caller":          string(env.owner),
		"gateway_address": string(newAddr),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("repoint: status=%d body=%v", resp.StatusCode, body)
	}

	// The old ledger's grants are no longer visible through the API.
	resp, body = doJSON(t, http.MethodGet, env.srv.URL+"/v1/grants/"+doc, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("grant lookup after repoint: status=%d body=%v", resp.StatusCode, body)
	}
	resp, body = doJSON(t, http.MethodGet, env.srv.URL+"/v1/proxy", nil)
	if body["gateway_address"] != string(newAddr) {
		t.Fatalf("proxy address: %v", body)
	}
}

func TestNFTCheckerEndpoints(t *testing.T) {
	env := newTestEnv(t, 0)

	minter := gateway.RandomAddress()
	buyer := gateway.RandomAddress()
	contract := gateway.RandomAddress()
	doc := string(gateway.NewDocumentID())
	env.nfts.mint(contract, 7, minter)

	resp, body := doJSON(t, http.MethodPost, env.srv.URL+"/v1/checkers/nft/grants", map[string]any{
		"caller":           string(minter),
		"document_id":      doc,
		"contract_address": string(contract),
		"token_id":         7,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("nft grant: status=%d body=%v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodGet, env.srv.URL+"/v1/checkers/nft/owner?document_id="+doc, nil)
	if resp.StatusCode != http.StatusOK || body["owner"] != string(minter) {
		t.Fatalf("nft owner: status=%d body=%v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodGet, env.srv.URL+"/v1/access?user="+string(minter)+"&document_id="+doc, nil)
	if body["permitted"] != true {
		t.Fatalf("minter access: %v", body)
	}

	// Access follows the token, not the registration.
	env.nfts.mint(contract, 7, buyer)
	resp, body = doJSON(t, http.MethodGet, env.srv.URL+"/v1/access?user="+string(minter)+"&document_id="+doc, nil)
	if body["permitted"] != false {
		t.Fatalf("minter access after transfer: %v", body)
	}
	resp, body = doJSON(t, http.MethodGet, env.srv.URL+"/v1/access?user="+string(buyer)+"&document_id="+doc, nil)
	if body["permitted"] != true {
		t.Fatalf("buyer access after transfer: %v", body)
	}

	resp, body = doJSON(t, http.MethodGet, env.srv.URL+"/v1/checkers/nft/datas", nil)
	items, ok := body["items"].([]any)
	if !ok || len(items) != 1 {
		t.Fatalf("nft datas: %v", body)
	}
}

func TestStablecoinEndpoints(t *testing.T) {
	env := newTestEnv(t, 0)
	dai := "0x8f3cf7ad23cd3cadbd9735aff958023239c6a063"
	usdc := "0x3c499c542cef5e3811e1192ce70d8cc03d5c3359"

	resp, body := doJSON(t, http.MethodPost, env.srv.URL+"/v1/stablecoins", map[string]any{
		"caller":    string(env.owner),
		"fiat_name": "usd",
		"tokens": []map[string]any{
			{"address": dai, "decimals": 18},
		},
		"fee_numerator": 1000,
	})
	if resp.StatusCode != http.StatusCreated || body["fiat_index"] != float64(1) {
		t.Fatalf("register fiat: status=%d body=%v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodPost, env.srv.URL+"/v1/stablecoins/1/tokens", map[string]any{
		"caller": string(env.owner),
		"tokens": []map[string]any{
			{"address": usdc, "decimals": 6},
		},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add tokens: status=%d body=%v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodGet, env.srv.URL+"/v1/stablecoins?token="+dai, nil)
	// numerator 1000 over 18 decimals: 1000 * 10^18 / 10^4 = 10^17.
	if body["registered"] != true || body["fee"] != "100000000000000000" {
		t.Fatalf("dai fee: %v", body)
	}

	resp, body = doJSON(t, http.MethodGet, env.srv.URL+"/v1/stablecoins", nil)
	if body["count"] != float64(2) {
		t.Fatalf("token count: %v", body)
	}

	// Duplicate registration answers the canonical conflict message.
	resp, body = doJSON(t, http.MethodPost, env.srv.URL+"/v1/stablecoins/1/tokens", map[string]any{
		"caller": string(env.owner),
		"tokens": []map[string]any{
			{"address": dai, "decimals": 18},
		},
	})
	if resp.StatusCode != http.StatusConflict || body["error"] != "This ERC20 is already registered" {
		t.Fatalf("duplicate token: status=%d body=%v", resp.StatusCode, body)
	}

	req, _ := http.NewRequest(http.MethodDelete,
		env.srv.URL+"/v1/stablecoins/1/tokens?caller="+string(env.owner)+"&token="+usdc, nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusOK {
		t.Fatalf("unregister: status=%d", delResp.StatusCode)
	}
}

func TestHealthReadyInfo(t *testing.T) {
	env := newTestEnv(t, 0)

	for path, wantKey := range map[string]string{
		"/healthz": "status",
		"/readyz":  "status",
		"/v1/info": "name",
	} {
		resp, body := doJSON(t, http.MethodGet, env.srv.URL+path, nil)
		if resp.StatusCode != http.StatusOK || body[wantKey] == nil {
			t.Fatalf("%s: status=%d body=%v", path, resp.StatusCode, body)
		}
	}
}

func TestValidationErrors(t *testing.T) {
	env := newTestEnv(t, 0)

	resp, body := doJSON(t, http.MethodPost, env.srv.URL+"/v1/grants", map[string]any{
		"document_id": "not-a-document",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad document: status=%d body=%v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodGet, env.srv.URL+"/v1/access?user=nope&document_id="+string(gateway.NewDocumentID()), nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad address: status=%d body=%v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodPost, env.srv.URL+"/v1/grants", map[string]any{
		"document_id": string(gateway.NewDocumentID()),
		"surprise":    true,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown field: status=%d body=%v", resp.StatusCode, body)
	}
}
