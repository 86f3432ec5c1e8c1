package upsert

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/menu-allergens/internal/common"
	"github.com/joseph-ayodele/menu-allergens/internal/core/normalize"
)

// Identity is the composite key deciding between insert and patch. It is not
// unique in the store: concurrent imports of one identity may both insert.
type Identity struct {
	Name   string
	Brand  string
	Region string
}

// IdentityOf reads the identity fields of a normalized record.
func IdentityOf(r *normalize.Record) Identity {
	name, _ := r.Get(normalize.FieldMenuName)
	brand, _ := r.Get(normalize.FieldStoreName)
	region, _ := r.Get(normalize.FieldStoreRegion)
	return Identity{Name: name, Brand: brand, Region: region}
}

// Store is the record store capability.
type Store interface {
	// Find returns the id of a record with this identity; ok is false when none exists.
	Find(ctx context.Context, id Identity) (recordID string, ok bool, err error)
	Insert(ctx context.Context, rec *normalize.Record) (recordID string, err error)
	Patch(ctx context.Context, recordID string, rec *normalize.Record) error
}

type Outcome string

const (
	Inserted Outcome = "inserted"
	Patched  Outcome = "patched"
	Failed   Outcome = "failed"
)

// ItemResult is the outcome for one record.
type ItemResult struct {
	Identity Identity
	Outcome  Outcome
	RecordID string
	Err      error
}

// Result aggregates one synchronization pass.
type Result struct {
	// BatchID is taken from the context, empty when the caller set none.
	BatchID   string
	Items     []ItemResult
	Succeeded int
	Failed    int
	Inserted  int
	Patched   int
	// Sent is true when at least one record was written.
	Sent bool
}

// Config bounds burst load on the store.
type Config struct {
	BatchSize  int
	BatchPause time.Duration
}

// Synchronizer upserts records one by one, in batches with a pause between
// batches. There is no retry within a pass.
type Synchronizer struct {
	store  Store
	cfg    Config
	logger *slog.Logger
}

// NewSynchronizer accepts a nil store; Sync then reports a configuration error.
func NewSynchronizer(store Store, cfg Config, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchPause < 0 {
		cfg.BatchPause = 0
	}
	return &Synchronizer{store: store, cfg: cfg, logger: logger}
}

// Configured reports whether a store is attached.
func (s *Synchronizer) Configured() bool { return s != nil && s.store != nil }

// Sync writes every record. Per-record failures are counted, never returned;
// the error is reserved for a missing store.
func (s *Synchronizer) Sync(ctx context.Context, records []*normalize.Record) (Result, error) {
	if !s.Configured() {
		return Result{}, common.NewAppError(common.CodeConfig, "record store is not configured", common.ErrStoreNotConfigured)
	}
	start := time.Now()
	res := Result{BatchID: common.BatchIDFromContext(ctx), Items: make([]ItemResult, 0, len(records))}

	for i, rec := range records {
		if i > 0 && i%s.cfg.BatchSize == 0 {
			s.logger.Debug("upsert.batch.done", "batch", i/s.cfg.BatchSize, "processed", i)
			if err := pause(ctx, s.cfg.BatchPause); err != nil {
				s.logger.Warn("upsert.cancelled", "processed", i, "error", err)
			}
		}
		ir := s.syncOne(ctx, rec)
		res.Items = append(res.Items, ir)
		switch ir.Outcome {
		case Inserted:
			res.Inserted++
			res.Succeeded++
		case Patched:
			res.Patched++
			res.Succeeded++
		default:
			res.Failed++
		}
	}
	res.Sent = res.Succeeded > 0

	s.logger.Info("upsert.done",
		"batch_id", res.BatchID,
		"records", len(records),
		"inserted", res.Inserted,
		"patched", res.Patched,
		"failed", res.Failed,
		"sent", res.Sent,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (s *Synchronizer) syncOne(ctx context.Context, rec *normalize.Record) ItemResult {
	id := IdentityOf(rec)
	ir := ItemResult{Identity: id, Outcome: Failed}
	if err := ctx.Err(); err != nil {
		ir.Err = common.StoreWriteError("cancelled", err)
		return ir
	}

	recordID, found, err := s.store.Find(ctx, id)
	if err != nil {
		ir.Err = common.StoreWriteError(fmt.Sprintf("lookup %q", id.Name), err)
		s.logger.Warn("upsert.item.failed", "stage", "find", "name", id.Name, "brand", id.Brand, "error", err)
		return ir
	}
	if found {
		if err := s.store.Patch(ctx, recordID, rec); err != nil {
			ir.Err = common.StoreWriteError(fmt.Sprintf("patch %q", id.Name), err)
			s.logger.Warn("upsert.item.failed", "stage", "patch", "name", id.Name, "record_id", recordID, "error", err)
			return ir
		}
		ir.Outcome, ir.RecordID = Patched, recordID
		s.logger.Debug("upsert.item.patched", "name", id.Name, "record_id", recordID)
		return ir
	}

	newID, err := s.store.Insert(ctx, rec)
	if err != nil {
		ir.Err = common.StoreWriteError(fmt.Sprintf("insert %q", id.Name), err)
		s.logger.Warn("upsert.item.failed", "stage", "insert", "name", id.Name, "error", err)
		return ir
	}
	ir.Outcome, ir.RecordID = Inserted, newID
	s.logger.Debug("upsert.item.inserted", "name", id.Name, "record_id", newID)
	return ir
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
