package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"pos-offline/internal/core"
	"pos-offline/internal/db"
	"pos-offline/internal/remote"
	"pos-offline/internal/store"

	"github.com/invopop/jsonschema"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	ctx := context.Background()
	pool, err := db.NewPool(ctx)
	if err != nil {
		log.Fatalf("Unable to connect to local database: %v", err)
	}
	defer pool.Close()

	st, err := store.Open(ctx, pool)
	if err != nil {
		// Without the local store there is no offline capture; surface it
		// loudly instead of degrading silently.
		log.Fatalf("Local store unavailable: %v", err)
	}

	queue := core.NewQueueService(pool)
	cache := core.NewCacheService(st)
	sales := core.NewSaleService(st, queue, cache)
	api := remote.NewClient("")

	if len(os.Args) < 2 {
		usage()
		return
	}

	switch os.Args[1] {
	case "migrate":
		version, err := st.SchemaVersion(ctx)
		if err != nil {
			log.Fatalf("Failed to read schema version: %v", err)
		}
		fmt.Printf("Local store ready at schema version %d.\n", version)

	case "pending":
		list, err := sales.PendingSales(ctx)
		if err != nil {
			log.Fatalf("Failed to list pending sales: %v", err)
		}
		printJSON(list)

	case "queue":
		actions, err := queue.PendingActions(ctx)
		if err != nil {
			log.Fatalf("Failed to list sync queue: %v", err)
		}
		printJSON(actions)

	case "dead-letters":
		actions, err := queue.DeadLetters(ctx)
		if err != nil {
			log.Fatalf("Failed to list dead letters: %v", err)
		}
		printJSON(actions)

	case "sync":
		replayer := core.NewReplayer(queue, sales, api)
		stats, err := replayer.Run(ctx)
		if err != nil {
			log.Fatalf("Replay pass aborted: %v", err)
		}
		fmt.Printf("Replay pass done: %d completed, %d failed, %d skipped.\n",
			stats.Completed, stats.Failed, stats.Skipped)

	case "refresh":
		if err := cache.RefreshAll(ctx, api); err != nil {
			log.Fatalf("Reference data refresh failed: %v", err)
		}
		fmt.Println("Reference data refreshed.")

	case "schema":
		printPayloadSchemas()

	default:
		log.Fatalf("Unknown command: %s", os.Args[1])
	}
}

func usage() {
	fmt.Println(`Usage: app <command>

Commands:
  migrate       open the local store and apply pending schema migrations
  pending       list locally held sales
  queue         list replayable sync actions
  dead-letters  list actions that exhausted their retry budget
  sync          run one replay pass against the remote backend
  refresh       pull fresh products, clients and settings into the cache
  schema        print the JSON Schema of every sync action payload`)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

// printPayloadSchemas emits the wire contract of each sync action payload so
// the backend team can validate replayed actions against it.
func printPayloadSchemas() {
	reflector := jsonschema.Reflector{}
	schemas := map[string]any{
		string(core.ActionCreateSale):         reflector.Reflect(&core.CreateSalePayload{}),
		string(core.ActionUpdateSale):         reflector.Reflect(&core.UpdateSalePayload{}),
		string(core.ActionDeleteSale):         reflector.Reflect(&core.DeleteSalePayload{}),
		string(core.ActionUpdateProductStock): reflector.Reflect(&core.StockAdjustmentPayload{}),
	}
	printJSON(schemas)
}
