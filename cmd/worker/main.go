package main

import (
	"context"
	"log"
	"time"

	"github.com/SamSamskies/coinos-server/internal/config"
	"github.com/SamSamskies/coinos-server/internal/db"
	"github.com/SamSamskies/coinos-server/internal/engine"
	"github.com/SamSamskies/coinos-server/internal/invoices"
	"github.com/SamSamskies/coinos-server/internal/ledger"
	"github.com/SamSamskies/coinos-server/internal/rails/bitcoin"
	"github.com/SamSamskies/coinos-server/internal/worker"
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

	store := ledger.NewWithRetries(rdb, cfg.Ledger.MaxRetries)
	bc := bitcoin.NewRPCClient(cfg.Bitcoin.RPCURL, cfg.Bitcoin.RPCUser, cfg.Bitcoin.RPCPass, time.Duration(cfg.Bitcoin.TimeoutSeconds)*time.Second)

	eng := &engine.Engine{
		Store:    store,
		Invoices: invoices.New(store),
		Bitcoin:  bc,
		Wallet:   cfg.Bitcoin.Wallet,
	}

	w := &worker.Worker{
		Engine:     eng,
		WSEndpoint: cfg.Bitcoin.NotifyWS,
	}

	if height, err := bc.GetBlockCount(ctx); err != nil {
		log.Printf("bitcoin rpc unreachable at startup: %v", err)
	} else {
		log.Printf("worker started (rpc=%s, height=%d)", cfg.Bitcoin.RPCURL, height)
	}
	w.Run(ctx)
}
