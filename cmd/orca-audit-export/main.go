// Command orca-audit-export writes the audit log to a dated parquet file
// for compliance archiving.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"orca/internal/config"
	"orca/internal/store"
)

func main() {
	dateFlag := flag.String("date", time.Now().UTC().Format("2006-01-02"), "archive date (2006-01-02)")
	flag.Parse()

	date, err := time.Parse("2006-01-02", *dateFlag)
	if err != nil {
		log.Fatalf("invalid -date: %v", err)
	}

	cfgPath := "config/orca.yaml"
	if p := os.Getenv("ORCA_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	s, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer s.Close()

	archive := store.NewAuditArchive(cfg.Storage.DataDir, s)
	path, count, err := archive.Export(context.Background(), date)
	if err != nil {
		log.Fatalf("export failed: %v", err)
	}
	fmt.Printf("wrote %d audit entries to %s\n", count, path)
}
