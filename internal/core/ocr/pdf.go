package ocr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// PDFLimits bounds the work done on one document.
type PDFLimits struct {
	MaxPages     int           // 0 = no cap
	Budget       time.Duration // 0 = no budget
	GCEveryPages int           // 0 = never force a collection
}

// PDFResult holds per-page text for the processed prefix of a document.
type PDFResult struct {
	Pages          []string
	PagesTotal     int
	PagesProcessed int
	OCRPages       int // pages that had no text layer and were rasterized
	Truncated      bool
	BudgetExceeded bool
	Warnings       []string
}

var rePdfinfoPages = regexp.MustCompile(`(?m)^Pages:\s+(\d+)`)

// PageCount asks pdfinfo for the number of pages.
func (e *Engine) PageCount(ctx context.Context, path string) (int, error) {
	out, errb, err := e.run(ctx, e.cfg.Pdfinfo, path)
	if err != nil {
		return 0, fmt.Errorf("pdfinfo: %w (%s)", err, strings.TrimSpace(string(errb)))
	}
	m := rePdfinfoPages.FindStringSubmatch(string(out))
	if m == nil {
		return 0, fmt.Errorf("pdfinfo: no page count in output")
	}
	return strconv.Atoi(m[1])
}

// ExtractPDF walks pages sequentially. The text layer is used when present,
// otherwise the page is rasterized and OCR'd. The budget is checked between
// pages; the page in flight always completes.
func (e *Engine) ExtractPDF(ctx context.Context, path string, lim PDFLimits) (PDFResult, error) {
	start := time.Now()
	total, err := e.PageCount(ctx, path)
	if err != nil {
		return PDFResult{}, err
	}
	res := PDFResult{PagesTotal: total}
	limit := total
	if lim.MaxPages > 0 && total > lim.MaxPages {
		limit = lim.MaxPages
		res.Truncated = true
		res.Warnings = append(res.Warnings, fmt.Sprintf("page cap reached: processing %d of %d pages", limit, total))
	}

	tmpDir, err := os.MkdirTemp("", "ma-pdf-*")
	if err != nil {
		return res, err
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			e.logger.Warn("ocr.pdf.cleanup_failed", "dir", tmpDir, "error", err)
		}
	}()

	for page := 1; page <= limit; page++ {
		if page > 1 && lim.Budget > 0 && time.Since(start) >= lim.Budget {
			res.BudgetExceeded = true
			res.Warnings = append(res.Warnings, fmt.Sprintf("time budget exceeded after %d of %d pages", res.PagesProcessed, total))
			e.logger.Warn("ocr.pdf.budget_exceeded", "path", path, "pages_processed", res.PagesProcessed, "budget_ms", lim.Budget.Milliseconds())
			break
		}
		if ctx.Err() != nil {
			res.Warnings = append(res.Warnings, "extraction cancelled: "+ctx.Err().Error())
			break
		}

		text, rasterized, warn := e.extractPage(ctx, path, page, tmpDir)
		res.Warnings = append(res.Warnings, warn...)
		res.Pages = append(res.Pages, text)
		res.PagesProcessed++
		if rasterized {
			res.OCRPages++
		}
		e.logger.Debug("ocr.pdf.page_done", "page", page, "rasterized", rasterized, "chars", len(text))

		if lim.GCEveryPages > 0 && page%lim.GCEveryPages == 0 {
			runtime.GC()
		}
	}

	e.logger.Info("ocr.pdf.done",
		"path", path,
		"pages_total", res.PagesTotal,
		"pages_processed", res.PagesProcessed,
		"ocr_pages", res.OCRPages,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// extractPage never fails the document: problems become warnings and an empty page.
func (e *Engine) extractPage(ctx context.Context, path string, page int, tmpDir string) (string, bool, []string) {
	n := strconv.Itoa(page)
	out, errb, err := e.run(ctx, e.cfg.Pdftotext, "-f", n, "-l", n, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err == nil && strings.TrimSpace(string(out)) != "" {
		return string(out), false, nil
	}
	var warns []string
	if err != nil {
		warns = append(warns, fmt.Sprintf("page %d: pdftotext: %v %s", page, err, strings.TrimSpace(string(errb))))
	}
	if e.probeErr != nil {
		return "", false, append(warns, fmt.Sprintf("page %d: no text layer and OCR unavailable", page))
	}

	prefix := filepath.Join(tmpDir, "page-"+n)
	_, errb, err = e.run(ctx, e.cfg.Pdftoppm, "-f", n, "-l", n, "-r", strconv.Itoa(e.cfg.DPI), "-png", "-singlefile", path, prefix)
	img := prefix + ".png"
	defer func() { _ = os.Remove(img) }()
	if err != nil {
		return "", true, append(warns, fmt.Sprintf("page %d: pdftoppm: %v %s", page, err, strings.TrimSpace(string(errb))))
	}

	ir, err := e.recognize(ctx, img)
	warns = append(warns, ir.Warnings...)
	if err != nil {
		return "", true, append(warns, fmt.Sprintf("page %d: %v", page, err))
	}
	return ir.Text, true, warns
}
