package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"keygate.org/internal/condition"
	"keygate.org/internal/feeregistry"
	"keygate.org/internal/gateway"
	"keygate.org/internal/httpapi"
	"keygate.org/internal/obs"
	"keygate.org/internal/proxy"
	"keygate.org/internal/store/pg"
	"keygate.org/internal/stream"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("KEYGATE_COMMIT"))

	owner := gateway.Address("0x0000000000000000000000000000000000000001")
	if raw := os.Getenv("KEYGATE_OWNER"); raw != "" {
		parsed, err := gateway.ParseAddress(raw)
		if err != nil {
			log.Fatalf("KEYGATE_OWNER: %v", err)
		}
		owner = parsed
	}
	var feeWei gateway.Wei
	if raw := os.Getenv("KEYGATE_FEE_WEI"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			log.Fatalf("KEYGATE_FEE_WEI must be a non-negative integer, got %q", raw)
		}
		feeWei = gateway.Wei(v)
	}

	conditions := condition.NewRegistry()

	// Durable ledger when a DSN is configured, in-memory otherwise.
	var (
		ledger gateway.Service
		store  *pg.Store
	)
	if dsn := os.Getenv("KEYGATE_PG_DSN"); dsn != "" {
		var err error
		store, err = pg.Open(dsn, conditions)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := store.Init(ctx, owner, feeWei); err != nil {
			cancel()
			log.Fatalf("init gateway config: %v", err)
		}
		cancel()
		ledger = store
	} else {
		ledger = gateway.NewInMemory(owner, feeWei, conditions)
	}

	directory := proxy.NewDirectory()
	ledgerProxy := proxy.New(owner, directory, directory.Deploy(ledger))

	probe := httpapi.ReadyProbe{}
	if store != nil {
		probe.DB = store.DB()
	}
	// Asset-backed checkers need an ownership source (an RPC client against the
	// asset contracts); they stay disabled until one is wired in.
	api := httpapi.New(httpapi.Config{
		Ledger:      ledger,
		Proxy:       ledgerProxy,
		Stablecoins: feeregistry.New(owner),
		Stream:      stream.New(),
		Ready:       probe,
		Version:     version,
		AuthEnabled: os.Getenv("KEYGATE_AUTH_SECRET") != "",
	})

	addr := os.Getenv("KEYGATE_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	handler := httpapi.RequestID(
		httpapi.SecurityHeaders(
			httpapi.CORS(
				httpapi.MaxBodyBytes(
					httpapi.RateLimit(
						httpapi.LoggingJSON(api.Handler()),
						20, 10),
					1<<20))))

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting keygate-api %s on %s", version, srv.Addr)

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if store != nil {
		_ = store.Close()
	}
	log.Println("Stopped")
}
