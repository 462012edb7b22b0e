package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	syntrix "github.com/syntrixbase/syntrix-go"
	"github.com/syntrixbase/syntrix-go/internal/config"
	"github.com/syntrixbase/syntrix-go/internal/logging"
)

func main() {
	configPath := flag.String("config", "config.yml", "Path to config file")
	collection := flag.String("collection", "", "Collection path to watch")
	limit := flag.Int("limit", 0, "Optional result limit")
	orderBy := flag.String("order-by", "", "Optional order-by field")
	flag.Parse()

	if *collection == "" {
		log.Fatal("usage: syntrix-watch --collection <path> [--order-by field] [--limit n]")
	}

	// 1. Load Configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	// 2. Initialize Logging
	if err := logging.Initialize(cfg.Logging); err != nil {
		log.Fatalf("Logging error: %v", err)
	}
	defer logging.Shutdown()

	// 3. Connect the client
	client, err := syntrix.NewClient(cfg, nil)
	if err != nil {
		log.Fatalf("Client error: %v", err)
	}
	defer client.Close()

	query := client.Collection(*collection).Query
	if *orderBy != "" {
		query = query.OrderBy(*orderBy, syntrix.Asc)
	}
	if *limit > 0 {
		query = query.Limit(*limit)
	}

	reg := query.Snapshots(func(snap *syntrix.QuerySnapshot, err error) {
		if err != nil {
			log.Printf("listen failed: %v", err)
			return
		}
		source := "server"
		if snap.Metadata.FromCache {
			source = "cache"
		}
		fmt.Printf("-- snapshot (%d docs, %s)\n", snap.Size(), source)
		for _, change := range snap.Changes {
			verb := "added"
			switch change.Kind {
			case syntrix.DocumentModified:
				verb = "modified"
			case syntrix.DocumentRemoved:
				verb = "removed"
			}
			fmt.Printf("   %s %s %v\n", verb, change.Doc.Ref.Path(), change.Doc.Data())
		}
	})
	defer reg.Remove()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	fmt.Println("shutting down")
}
