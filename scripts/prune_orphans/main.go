package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"

	"logoqr/pkg/config"
	"logoqr/pkg/database"
	"logoqr/pkg/storage"
)

func main() {
	del := flag.Bool("delete", false, "remove orphaned files instead of listing them")
	minAge := flag.Duration("min-age", time.Hour, "ignore files younger than this (uploads in flight)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DB.Driver != "postgres" {
		log.Fatalf("prune_orphans only supports DB_DRIVER=postgres, got %s", cfg.DB.Driver)
	}
	db, err := sql.Open("postgres", database.PostgresDSN(cfg.DB))
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	referenced, err := referencedFiles(ctx, db)
	if err != nil {
		log.Fatalf("load profils: %v", err)
	}

	store, err := storage.NewLocal(cfg.Storage.BasePath)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	names, err := store.List()
	if err != nil {
		log.Fatalf("list %s: %v", store.Dir(), err)
	}

	var orphans, removed int
	for _, name := range names {
		if referenced[name] {
			continue
		}
		info, err := os.Stat(filepath.Join(store.Dir(), name))
		if err != nil || time.Since(info.ModTime()) < *minAge {
			continue
		}
		orphans++
		if !*del {
			fmt.Println(name)
			continue
		}
		if err := store.Delete(ctx, name); err != nil {
			log.Printf("failed to delete %s: %v", name, err)
			continue
		}
		removed++
	}
	fmt.Printf("orphaned files=%d removed=%d (referenced=%d, scanned=%d)\n", orphans, removed, len(referenced), len(names))
}

func referencedFiles(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT logo_path, qr_path FROM profils`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var logo, qr string
		if err := rows.Scan(&logo, &qr); err != nil {
			return nil, err
		}
		out[logo] = true
		out[qr] = true
	}
	return out, rows.Err()
}
