package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/joseph-ayodele/menu-allergens/internal/app"
	"github.com/joseph-ayodele/menu-allergens/internal/common"
	"github.com/joseph-ayodele/menu-allergens/internal/core/normalize"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		dir       = flag.String("dir", "", "directory of menu files to convert (required)")
		out       = flag.String("out", "", "output CSV path (defaults to allergens.csv next to --dir)")
		xlsxOut   = flag.String("xlsx", "", "optional XLSX output path")
		storeName = flag.String("store-name", "", "store name for synced records")
		region    = flag.String("region", "", "store region for synced records")
		sourceURL = flag.String("source-url", "", "source URL for synced records")
		doSync    = flag.Bool("sync", false, "upsert converted records into the record store")
		target    = flag.String("target", "", "sync target: rest | sql (default: rest when STORE_URL/STORE_KEY are set)")
		inmem     = flag.Bool("inmem", false, "use an in-memory SQLite database")
		dbURL     = flag.String("db", "", "SQL store DSN (postgres URL or sqlite:<path>), overrides DB_URL")
		watch     = flag.Bool("watch", false, "keep running and convert files added later")
		debounce  = flag.Duration("debounce", 750*time.Millisecond, "coalesce bursts of file events (with --watch)")
	)
	flag.Parse()

	if *dir == "" {
		printError("Error: --dir is required\n")
		os.Exit(1)
	}
	if *out == "" {
		*out = filepath.Join(filepath.Dir(filepath.Clean(*dir)), "allergens.csv")
	}
	syncTarget := app.SyncNone
	if *doSync {
		switch *target {
		case "":
			syncTarget = app.SyncAuto
		case "rest":
			syncTarget = app.SyncREST
		case "sql":
			syncTarget = app.SyncSQL
		default:
			printError("Error: --target must be rest or sql\n")
			os.Exit(1)
		}
	}

	_ = godotenv.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if *dbURL != "" {
		cfg.Database.DSN = *dbURL
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.Options{InMemory: *inmem, SyncTarget: syncTarget}, logger)
	if err != nil {
		logger.Error("failed to build conversion stack", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	b := newBatch(a, batchOptions{
		CSVPath:  *out,
		XLSXPath: *xlsxOut,
		Store: normalize.StoreInfo{
			StoreName:   *storeName,
			StoreRegion: *region,
			SourceURL:   *sourceURL,
		},
		Sync: *doSync,
	}, logger)

	sum, err := b.runDirectory(ctx, *dir)
	if err != nil {
		logger.Error("batch failed", "error", err)
		os.Exit(1)
	}
	printSummary(sum, *out, *xlsxOut)

	if !*watch {
		return
	}
	if err := b.watch(ctx, *dir, *debounce); err != nil {
		logger.Error("watch failed", "error", err)
		os.Exit(1)
	}
	printSummary(b.summary(), *out, *xlsxOut)
}

func printSummary(s summary, out, xlsx string) {
	fmt.Printf("Batch processing complete!\n")
	fmt.Printf("- Files processed: %d\n", s.Files)
	fmt.Printf("- Failures: %d\n", s.Failures)
	fmt.Printf("- Menu items: %d\n", s.Items)
	if s.Synced > 0 || s.SyncFailed > 0 {
		fmt.Printf("- Records synced: %d (failed %d)\n", s.Synced, s.SyncFailed)
	}
	fmt.Printf("- Output: %s\n", out)
	if xlsx != "" {
		fmt.Printf("- XLSX: %s\n", xlsx)
	}
}
