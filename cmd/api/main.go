package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SamSamskies/coinos-server/internal/config"
	"github.com/SamSamskies/coinos-server/internal/db"
	"github.com/SamSamskies/coinos-server/internal/directory"
	"github.com/SamSamskies/coinos-server/internal/engine"
	internalhttp "github.com/SamSamskies/coinos-server/internal/http"
	"github.com/SamSamskies/coinos-server/internal/invoices"
	"github.com/SamSamskies/coinos-server/internal/ledger"
	"github.com/SamSamskies/coinos-server/internal/lnurl"
	"github.com/SamSamskies/coinos-server/internal/rails/bitcoin"
	"github.com/SamSamskies/coinos-server/internal/rails/ecash"
	"github.com/SamSamskies/coinos-server/internal/rails/lightning"
	"github.com/SamSamskies/coinos-server/internal/rates"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx := context.Background()
	rdb, err := db.ConnectRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("redis connect failed: %v", err)
	}
	defer rdb.Close()

	pool, err := db.ConnectPostgres(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()

	store := ledger.NewWithRetries(rdb, cfg.Ledger.MaxRetries)
	dir := directory.NewPG(pool)

	ln := lightning.NewRPCClient(cfg.Lightning.RPCURL, time.Duration(cfg.Lightning.TimeoutSeconds)*time.Second)
	bc := bitcoin.NewRPCClient(cfg.Bitcoin.RPCURL, cfg.Bitcoin.RPCUser, cfg.Bitcoin.RPCPass, time.Duration(cfg.Bitcoin.TimeoutSeconds)*time.Second)
	mint := ecash.NewHTTPClient(cfg.Mint.URL, time.Duration(cfg.Mint.TimeoutSeconds)*time.Second)

	rateCache := rates.New(rates.HTTPFetcher(cfg.Rates.URL, 10*time.Second), time.Duration(cfg.Rates.TTLMinutes)*time.Minute)
	nodes := lightning.NewNodeCache(ln, time.Hour)

	eng := &engine.Engine{
		Store:      store,
		Invoices:   invoices.New(store),
		Rates:      rateCache,
		Lightning:  ln,
		Bitcoin:    bc,
		Ecash:      mint,
		Wallet:     cfg.Bitcoin.Wallet,
		WalletPass: cfg.Bitcoin.WalletPass,
		MintUser:   cfg.Mint.Username,
	}

	adapter, err := lnurl.New(store, eng, dir, cfg.Server.BaseURL, cfg.Lnurl.NostrSeckey)
	if err != nil {
		log.Fatalf("lnurl adapter init failed: %v", err)
	}
	if cfg.Lnurl.MinSendable > 0 {
		adapter.MinSendable = cfg.Lnurl.MinSendable
	}
	if cfg.Lnurl.MaxSendable > 0 {
		adapter.MaxSendable = cfg.Lnurl.MaxSendable
	}

	h := internalhttp.NewHandler(eng, adapter, dir, nodes, cfg.Auth.JWTSecret)
	srv := internalhttp.NewServer(h)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router,
	}

	go func() {
		log.Printf("api listening on %s", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
}
