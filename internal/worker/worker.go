// Package worker watches the on-chain rail: it subscribes to the node's
// wallet-notification feed and drives zero-conf credits and confirmations
// through the settlement engine.
package worker

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/SamSamskies/coinos-server/internal/engine"

	"github.com/gorilla/websocket"
)

type Worker struct {
	Engine     *engine.Engine
	WSEndpoint string
}

type notification struct {
	TxID   string `json:"txid"`
	Wallet string `json:"wallet"`
}

func (w *Worker) Run(ctx context.Context) {
	if w.WSEndpoint == "" {
		log.Printf("ws disabled: notify endpoint is empty")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.WSEndpoint, nil)
		if err != nil {
			log.Printf("ws connect failed: %v", err)
			time.Sleep(3 * time.Second)
			continue
		}
		log.Printf("ws connected %s", w.WSEndpoint)

		w.readLoop(ctx, conn)
		_ = conn.Close()
		time.Sleep(2 * time.Second)
	}
}

func (w *Worker) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			log.Printf("ws read failed: %v", err)
			return
		}

		var n notification
		if err := json.Unmarshal(msg, &n); err != nil {
			log.Printf("ws parse failed: %v", err)
			continue
		}
		if n.TxID == "" {
			continue
		}

		if err := w.Engine.ObserveTransaction(ctx, n.TxID, n.Wallet); err != nil {
			log.Printf("observe tx %s failed: %v", n.TxID, err)
		}
	}
}
