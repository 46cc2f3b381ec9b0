package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"keygate.org/internal/gateway"
)

// End-to-end smoke check against a running keygate-api: register a fee-gated
// grant, pay the fee from a second address, and verify both access answers.
func main() {
	base := os.Getenv("KEYGATE_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	client := &http.Client{Timeout: 5 * time.Second}

	fee := getFee(client, base)
	doc := gateway.NewDocumentID()
	beneficiary := gateway.RandomAddress()
	payer := gateway.RandomAddress()

	post(client, base+"/v1/grants", map[string]any{
		"document_id": string(doc),
		"beneficiary": string(beneficiary),
		"payment_wei": fee,
	}, http.StatusCreated, "grant")

	post(client, base+"/v1/grants/"+string(doc)+"/payments", map[string]any{
		"payer":       string(payer),
		"payment_wei": fee,
	}, http.StatusCreated, "pay fee")

	for user, want := range map[gateway.Address]bool{
		beneficiary:             true,
		payer:                   true,
		gateway.RandomAddress(): false,
	} {
		if got := checkAccess(client, base, user, doc); got != want {
			log.Fatalf("access for %s = %v, want %v", user, got, want)
		}
	}

	fmt.Printf("✅ gateway smoke test passed: document=%s\n", doc)
}

func getFee(client *http.Client, base string) int64 {
	resp, err := client.Get(base + "/v1/fee")
	if err != nil {
		log.Fatalf("get fee: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		FeeWei int64 `json:"fee_wei"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		log.Fatalf("decode fee: %v", err)
	}
	return body.FeeWei
}

func post(client *http.Client, url string, payload map[string]any, wantStatus int, step string) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Fatalf("%s: marshal: %v", step, err)
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		log.Fatalf("%s: %v", step, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		log.Fatalf("%s: status=%d, want %d", step, resp.StatusCode, wantStatus)
	}
}

func checkAccess(client *http.Client, base string, user gateway.Address, doc gateway.DocumentID) bool {
	resp, err := client.Get(base + "/v1/access?user=" + string(user) + "&document_id=" + string(doc))
	if err != nil {
		log.Fatalf("access query: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Permitted bool `json:"permitted"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		log.Fatalf("decode access: %v", err)
	}
	return body.Permitted
}
