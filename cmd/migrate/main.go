package main

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/SamSamskies/coinos-server/internal/config"
	"github.com/SamSamskies/coinos-server/internal/db"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx := context.Background()
	pool, err := db.ConnectPostgres(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (filename TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT now())`); err != nil {
		log.Fatalf("ensure schema table failed: %v", err)
	}

	entries, err := os.ReadDir("migrations")
	if err != nil {
		log.Fatalf("list migrations failed: %v", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, filepath.Join("migrations", e.Name()))
		}
	}
	sort.Strings(files)

	applied := 0
	for _, file := range files {
		var done bool
		if err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE filename=$1)`, file).Scan(&done); err != nil {
			log.Fatalf("check %s failed: %v", file, err)
		}
		if done {
			continue
		}

		sql, err := os.ReadFile(file)
		if err != nil {
			log.Fatalf("read %s failed: %v", file, err)
		}
		if strings.TrimSpace(string(sql)) != "" {
			if _, err := pool.Exec(ctx, string(sql)); err != nil {
				log.Fatalf("apply %s failed: %v", file, err)
			}
		}
		if _, err := pool.Exec(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, file); err != nil {
			log.Fatalf("mark %s failed: %v", file, err)
		}
		log.Printf("applied %s", file)
		applied++
	}
	log.Printf("schema up to date, %d of %d migrations applied this run", applied, len(files))
}
