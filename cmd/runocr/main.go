package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/joseph-ayodele/menu-allergens/constants"
	"github.com/joseph-ayodele/menu-allergens/internal/app"
	"github.com/joseph-ayodele/menu-allergens/internal/common"
	"github.com/joseph-ayodele/menu-allergens/internal/core/extract"
	"github.com/joseph-ayodele/menu-allergens/internal/ingest"
)

func main() {
	kindFlag := flag.String("kind", "", "input kind: image | pdf | csv_text (default: from extension)")
	showLines := flag.Bool("lines", true, "print the extracted line stream")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall timeout")
	flag.Parse()

	_ = godotenv.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if flag.NArg() != 1 {
		logger.Error("usage", "cmd", "runocr [-kind image|pdf|csv_text] <file>")
		os.Exit(2)
	}
	path := flag.Arg(0)

	cfg := common.LoadConfig()
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	a, err := app.New(ctx, cfg, app.Options{SyncTarget: app.SyncNone}, logger)
	if err != nil {
		logger.Error("failed to build conversion stack", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	doc, err := ingest.NewFSIngestor(cfg.Extract.MaxBytes, logger).ReadPath(path)
	if err != nil {
		logger.Error("read file", "path", path, "error", err)
		os.Exit(1)
	}
	if *kindFlag != "" {
		k, ok := constants.ParseKind(*kindFlag)
		if !ok {
			logger.Error("invalid kind", "kind", *kindFlag)
			os.Exit(2)
		}
		doc.Kind = k
	}

	start := time.Now()
	items, res := a.Processor.ProcessDocument(ctx, extract.Input{Kind: doc.Kind, Data: doc.Data, Name: doc.Path})
	dur := time.Since(start)

	if res.Err != nil {
		logger.Error("text extraction failed", "error", res.Err, "duration_ms", dur.Milliseconds())
	} else {
		logger.Info("text extraction OK",
			"method", res.Method,
			"language", res.Language,
			"pages_processed", res.PagesProcessed,
			"pages_total", res.PagesTotal,
			"lines", len(res.Lines),
			"items", len(items),
			"duration_ms", dur.Milliseconds(),
		)
	}

	if *showLines {
		for _, ln := range res.Lines {
			fmt.Println(ln)
		}
		fmt.Println()
	}
	order := constants.Taxonomy()
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for _, it := range items {
		present := make(map[string]string)
		for _, name := range order {
			if st := it.Status(name); st.Present() {
				present[name] = st.Symbol()
			}
		}
		_ = enc.Encode(map[string]any{"menu_name": it.Name, "allergens": present})
	}
	if res.Err != nil {
		os.Exit(1)
	}
}
