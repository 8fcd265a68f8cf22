package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/artifortress/artifortress/pkg/storage"
)

var dsn = flag.String("dsn", os.Getenv("ConnectionStrings__Postgres"),
	"Postgres DSN (defaults to ConnectionStrings__Postgres)")

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(),
			"Usage: artifortress-migrate [flags] up|down|status\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	log.SetFlags(log.LstdFlags)

	if *dsn == "" {
		log.Fatal("No DSN: set --dsn or ConnectionStrings__Postgres")
	}
	command := flag.Arg(0)
	if command == "" {
		command = "status"
	}

	store, err := storage.New(storage.Config{DSN: *dsn})
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	switch command {
	case "up":
		if err := store.Migrate(ctx); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("Migrations applied")
	case "down":
		if err := store.MigrateDown(ctx); err != nil {
			log.Fatalf("Rollback failed: %v", err)
		}
		log.Println("Rolled back one migration")
	case "status":
		version, err := store.MigrationStatus(ctx)
		if err != nil {
			log.Fatalf("Failed to read migration status: %v", err)
		}
		log.Printf("Schema version: %d", version)
	default:
		log.Fatalf("Unknown command %q (want up, down, or status)", command)
	}
}
