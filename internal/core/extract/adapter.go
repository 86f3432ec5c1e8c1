package extract

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joseph-ayodele/menu-allergens/constants"
	"github.com/joseph-ayodele/menu-allergens/internal/common"
	"github.com/joseph-ayodele/menu-allergens/internal/core/menu"
	"github.com/joseph-ayodele/menu-allergens/internal/core/ocr"
)

// Engine is the OCR capability the adapter drives.
type Engine interface {
	ExtractImage(ctx context.Context, path string) (ocr.ImageResult, error)
	ExtractPDF(ctx context.Context, path string, lim ocr.PDFLimits) (ocr.PDFResult, error)
	Language() string
}

// Limits are the per-document resource bounds.
type Limits struct {
	MaxBytes     int64
	MaxPages     int
	Budget       time.Duration
	GCEveryPages int
}

// LimitsFromConfig maps the extraction settings.
func LimitsFromConfig(c common.ExtractConfig) Limits {
	return Limits{MaxBytes: c.MaxBytes, MaxPages: c.MaxPages, Budget: c.Budget, GCEveryPages: c.GCEveryPages}
}

// Input is a document and its declared kind. An empty kind is inferred from Name.
type Input struct {
	Kind constants.InputKind
	Data []byte
	Name string
}

// Result is the normalized line stream of one document. On failure Lines is
// empty and Err explains why.
type Result struct {
	Lines          []string
	Kind           constants.InputKind
	Method         string // "image-ocr" | "pdf" | "csv"
	Language       string
	PagesProcessed int
	PagesTotal     int
	Truncated      bool
	BudgetExceeded bool
	Warnings       []string
	Duration       time.Duration
	Err            error
}

// Adapter turns raw bytes into a line stream.
type Adapter struct {
	engine Engine
	limits Limits
	logger *slog.Logger
}

// NewAdapter builds an adapter. A nil engine limits it to csv_text input.
func NewAdapter(engine Engine, limits Limits, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{engine: engine, limits: limits, logger: logger}
}

// Extract never returns an error: failures yield an empty line stream, with
// the cause in Result.Err and Result.Warnings.
func (a *Adapter) Extract(ctx context.Context, in Input) Result {
	start := time.Now()
	kind := in.Kind
	if kind == "" {
		kind = constants.MapExtToKind(filepath.Ext(in.Name))
	}
	res := Result{Kind: kind, Lines: []string{}}

	var err error
	switch {
	case len(in.Data) == 0:
		err = common.ExtractionError("empty input", nil)
	case a.limits.MaxBytes > 0 && int64(len(in.Data)) > a.limits.MaxBytes:
		err = common.ExtractionError(fmt.Sprintf("input of %d bytes exceeds the %d byte limit", len(in.Data), a.limits.MaxBytes), nil)
	case kind == constants.KindCSVText:
		err = a.extractCSV(in.Data, &res)
	case kind == constants.KindImage || kind == constants.KindPDF:
		if a.engine == nil {
			err = common.ExtractionError("OCR engine unavailable", nil)
			break
		}
		err = a.extractDocument(ctx, kind, in, &res)
	default:
		err = common.ExtractionError(fmt.Sprintf("unsupported input kind %q", kind), nil)
	}

	res.Duration = time.Since(start)
	res.Warnings = compact(res.Warnings)
	if res.Lines == nil {
		res.Lines = []string{}
	}
	if err != nil {
		res.Lines = []string{}
		res.Err = err
		res.Warnings = append(res.Warnings, err.Error())
		a.logger.Warn("extract.failed", "kind", kind, "name", in.Name, "bytes", len(in.Data), "error", err)
		return res
	}
	a.logger.Info("extract.ok",
		"kind", kind,
		"name", in.Name,
		"lines", len(res.Lines),
		"pages_processed", res.PagesProcessed,
		"pages_total", res.PagesTotal,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res
}

func (a *Adapter) extractDocument(ctx context.Context, kind constants.InputKind, in Input, res *Result) error {
	sum := sha256.Sum256(in.Data)
	ctx = ocr.WithContentHash(ctx, hex.EncodeToString(sum[:]))

	path, cleanup, err := writeTemp(in.Data, tempExt(kind, in))
	if err != nil {
		return common.ExtractionError("stage upload", err)
	}
	defer cleanup()

	res.Language = a.engine.Language()
	if kind == constants.KindImage {
		ir, err := a.engine.ExtractImage(ctx, path)
		res.Warnings = append(res.Warnings, ir.Warnings...)
		if err != nil {
			return common.ExtractionError("image OCR failed", err)
		}
		res.Method = "image-ocr"
		res.PagesProcessed, res.PagesTotal = 1, 1
		if ir.Dropped > 0 {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%d low-confidence words discarded", ir.Dropped))
		}
		res.Lines = ocr.Lines(ir.Text)
		return nil
	}

	pr, err := a.engine.ExtractPDF(ctx, path, ocr.PDFLimits{
		MaxPages:     a.limits.MaxPages,
		Budget:       a.limits.Budget,
		GCEveryPages: a.limits.GCEveryPages,
	})
	res.Warnings = append(res.Warnings, pr.Warnings...)
	if err != nil {
		return common.ExtractionError("pdf extraction failed", err)
	}
	res.Method = "pdf"
	res.PagesProcessed, res.PagesTotal = pr.PagesProcessed, pr.PagesTotal
	res.Truncated, res.BudgetExceeded = pr.Truncated, pr.BudgetExceeded
	for _, page := range pr.Pages {
		res.Lines = append(res.Lines, ocr.Lines(page)...)
	}
	return nil
}

// extractCSV flattens rows into "<name>" then "<allergen>: <value>" lines.
func (a *Adapter) extractCSV(data []byte, res *Result) error {
	t, err := menu.ReadTable(data)
	if err != nil {
		return common.ExtractionError("unreadable csv", err)
	}
	res.Method = "csv"
	var b strings.Builder
	for _, row := range t.Rows {
		name := t.Name(row)
		if name == "" {
			continue
		}
		b.WriteString(name)
		b.WriteByte('\n')
		for i := range t.Header {
			allergen, ok := t.Allergens[i]
			if !ok || i >= len(row) || strings.TrimSpace(row[i]) == "" {
				continue
			}
			fmt.Fprintf(&b, "%s: %s\n", allergen, strings.TrimSpace(row[i]))
		}
	}
	res.Lines = ocr.Lines(b.String())
	return nil
}

// DecodeBase64 decodes a payload that may carry a data URL prefix.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' {
			return -1
		}
		return r
	}, s)
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	b, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return nil, common.NewAppError(common.CodeInvalidPayload, "invalid base64 payload", fmt.Errorf("%w: %w", common.ErrInvalidInput, err))
	}
	return b, nil
}

func tempExt(kind constants.InputKind, in Input) string {
	if ext := constants.NormalizeExt(filepath.Ext(in.Name)); ext != "" && constants.MapExtToKind(ext) == kind {
		return "." + ext
	}
	if kind == constants.KindPDF {
		return ".pdf"
	}
	if isHEIC(in.Data) {
		return ".heic"
	}
	return ".png"
}

// isHEIC sniffs the ISO-BMFF brand of HEIC/HEIF images.
func isHEIC(b []byte) bool {
	if len(b) < 12 || !bytes.Equal(b[4:8], []byte("ftyp")) {
		return false
	}
	switch string(b[8:12]) {
	case "heic", "heix", "hevc", "heim", "heis", "mif1", "msf1":
		return true
	}
	return false
}

func writeTemp(data []byte, ext string) (string, func(), error) {
	f, err := os.CreateTemp("", "ma-upload-*"+ext)
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { _ = os.Remove(f.Name()) }
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		cleanup()
		return "", nil, err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return f.Name(), cleanup, nil
}

func compact(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
