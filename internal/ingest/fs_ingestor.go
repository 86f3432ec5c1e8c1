package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/menu-allergens/constants"
)

// ErrTooLarge marks files above the size ceiling; they are never read.
var ErrTooLarge = errors.New("file exceeds size limit")

// Document is one menu file read from disk.
type Document struct {
	Path    string
	Kind    constants.InputKind
	Data    []byte
	HashHex string
}

// Handler consumes one document.
type Handler func(ctx context.Context, doc Document) error

// FileResult is the per-file outcome of a directory run.
type FileResult struct {
	Path string
	Err  string
}

type DirStats struct {
	Scanned   uint32
	Matched   uint32
	Succeeded uint32
	Failed    uint32
}

// FSIngestor reads menu files from the local filesystem.
type FSIngestor struct {
	MaxBytes int64 // 0 = unlimited
	logger   *slog.Logger
}

func NewFSIngestor(maxBytes int64, logger *slog.Logger) *FSIngestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &FSIngestor{MaxBytes: maxBytes, logger: logger}
}

// ReadPath loads one file after checking its extension and size.
func (i *FSIngestor) ReadPath(path string) (Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Document{}, err
	}
	kind := constants.MapExtToKind(filepath.Ext(abs))
	if kind == "" {
		return Document{}, fmt.Errorf("unsupported or missing extension: %q", filepath.Ext(abs))
	}
	st, err := os.Stat(abs)
	if err != nil {
		return Document{}, err
	}
	if i.MaxBytes > 0 && st.Size() > i.MaxBytes {
		return Document{Path: abs, Kind: kind}, fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, st.Size(), i.MaxBytes)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return Document{}, err
	}
	sum := sha256.Sum256(data)
	return Document{Path: abs, Kind: kind, Data: data, HashHex: hex.EncodeToString(sum[:])}, nil
}

// IngestDirectory walks root, skips hidden entries if requested, and hands
// every supported file to handle. Per-file failures are collected, not returned.
func (i *FSIngestor) IngestDirectory(ctx context.Context, root string, skipHidden bool, handle Handler) ([]FileResult, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, errors.New("root path is required")
	}

	var results []FileResult
	var stats DirStats

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		if walkErr != nil {
			results = append(results, FileResult{Path: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if skipHidden && path != root && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !constants.IsAllowedExt(filepath.Ext(path)) {
			return nil
		}
		stats.Matched++

		if err := i.HandlePath(ctx, path, handle); err != nil {
			results = append(results, FileResult{Path: path, Err: err.Error()})
			stats.Failed++
			return nil
		}
		results = append(results, FileResult{Path: path})
		stats.Succeeded++
		return nil
	})

	i.logger.Info("ingest.dir.done",
		"root", root,
		"scanned", stats.Scanned,
		"matched", stats.Matched,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
	)
	if err != nil {
		return results, stats, fmt.Errorf("walk: %w", err)
	}
	return results, stats, nil
}

// HandlePath reads one file and passes it to handle.
func (i *FSIngestor) HandlePath(ctx context.Context, path string, handle Handler) error {
	doc, err := i.ReadPath(path)
	if err != nil {
		i.logger.Warn("ingest.file.skipped", "path", path, "error", err)
		return err
	}
	return handle(ctx, doc)
}

// IsHidden reports a dot-prefixed base name.
func IsHidden(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") && base != "." && base != ".."
}
