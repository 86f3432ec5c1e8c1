package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/menu-allergens/internal/app"
	"github.com/joseph-ayodele/menu-allergens/internal/common"
	"github.com/joseph-ayodele/menu-allergens/internal/core"
	"github.com/joseph-ayodele/menu-allergens/internal/core/extract"
	"github.com/joseph-ayodele/menu-allergens/internal/core/menu"
	"github.com/joseph-ayodele/menu-allergens/internal/core/normalize"
	"github.com/joseph-ayodele/menu-allergens/internal/ingest"
)

type batchOptions struct {
	CSVPath  string
	XLSXPath string
	Store    normalize.StoreInfo
	Sync     bool
}

type summary struct {
	Files      int
	Failures   int
	Items      int
	Synced     int
	SyncFailed int
}

// batch accumulates items across files and rewrites the outputs after each run.
type batch struct {
	app        *app.App
	id         string
	opts       batchOptions
	ingestor   *ingest.FSIngestor
	normalizer *normalize.Normalizer
	logger     *slog.Logger

	mu    sync.Mutex
	items []menu.MenuItem
	sum   summary
}

func newBatch(a *app.App, opts batchOptions, logger *slog.Logger) *batch {
	if strings.TrimSpace(opts.Store.StoreName) == "" {
		opts.Store.StoreName = core.DefaultStoreName
	}
	if opts.Sync && !a.Sync.Configured() {
		logger.Warn("batch.sync_disabled", "reason", "record store not configured")
		opts.Sync = false
	}
	return &batch{
		app:        a,
		id:         uuid.NewString(),
		opts:       opts,
		ingestor:   ingest.NewFSIngestor(a.Config.Extract.MaxBytes, logger),
		normalizer: normalize.New(normalize.WithLogger(logger)),
		logger:     logger,
	}
}

func (b *batch) summary() summary {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sum
}

// handle converts one document and syncs its items.
func (b *batch) handle(ctx context.Context, doc ingest.Document) error {
	items, res := b.app.Processor.ProcessDocument(ctx, extract.Input{Kind: doc.Kind, Data: doc.Data, Name: doc.Path})
	b.logger.Info("batch.file.done",
		"path", doc.Path,
		"kind", doc.Kind,
		"items", len(items),
		"pages_processed", res.PagesProcessed,
		"warnings", len(res.Warnings),
	)

	var synced, failed int
	if b.opts.Sync && len(items) > 0 {
		records := b.normalizer.Normalize(items, normalize.Options{Store: b.opts.Store})
		out, err := b.app.Sync.Sync(common.WithBatchID(ctx, b.id), records)
		if err != nil {
			return fmt.Errorf("sync %s: %w", doc.Path, err)
		}
		synced, failed = out.Succeeded, out.Failed
	}

	b.mu.Lock()
	b.items = append(b.items, items...)
	b.sum.Items += len(items)
	b.sum.Synced += synced
	b.sum.SyncFailed += failed
	b.mu.Unlock()

	if res.Err != nil {
		return res.Err
	}
	return nil
}

func (b *batch) runDirectory(ctx context.Context, dir string) (summary, error) {
	start := time.Now()
	results, stats, err := b.ingestor.IngestDirectory(ctx, dir, true, b.handle)
	if err != nil {
		return summary{}, err
	}
	b.mu.Lock()
	b.sum.Files += len(results)
	for _, r := range results {
		if r.Err != "" {
			b.sum.Failures++
		}
	}
	b.mu.Unlock()

	b.logger.Info("batch.dir.done",
		"dir", dir,
		"scanned", stats.Scanned,
		"matched", stats.Matched,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if err := b.writeOutputs(); err != nil {
		return summary{}, err
	}
	return b.summary(), nil
}

// watch converts files created under dir until ctx is done.
func (b *batch) watch(ctx context.Context, dir string, debounce time.Duration) error {
	paths, errs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
		Roots:      []string{dir},
		Debounce:   debounce,
		SkipHidden: true,
		Logger:     b.logger,
	})
	if err != nil {
		return err
	}
	b.logger.Info("batch.watch.started", "dir", dir)
	for {
		select {
		case p, ok := <-paths:
			if !ok {
				return nil
			}
			err := b.ingestor.HandlePath(ctx, p, b.handle)
			b.mu.Lock()
			b.sum.Files++
			if err != nil {
				b.sum.Failures++
			}
			b.mu.Unlock()
			if err != nil {
				b.logger.Warn("batch.watch.file_failed", "path", p, "error", err)
			}
			if err := b.writeOutputs(); err != nil {
				b.logger.Error("batch.watch.write_failed", "error", err)
			}
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			b.logger.Warn("batch.watch.error", "error", err)
		case <-ctx.Done():
			return nil
		}
	}
}

func (b *batch) writeOutputs() error {
	b.mu.Lock()
	items := append([]menu.MenuItem(nil), b.items...)
	b.mu.Unlock()

	csvBytes, err := b.app.Exporter.ItemsCSV(items, nil)
	if err != nil {
		return err
	}
	if err := os.WriteFile(b.opts.CSVPath, csvBytes, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", b.opts.CSVPath, err)
	}
	if b.opts.XLSXPath == "" {
		return nil
	}
	xlsxBytes, err := b.app.Exporter.ItemsXLSX(items, nil)
	if err != nil {
		return err
	}
	if err := os.WriteFile(b.opts.XLSXPath, xlsxBytes, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", b.opts.XLSXPath, err)
	}
	return nil
}
