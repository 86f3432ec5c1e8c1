package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Config configures the external OCR/PDF tools.
type Config struct {
	Tesseract string // binary name or absolute path; if empty -> "tesseract"
	Pdftotext string // if empty -> "pdftotext"
	Pdftoppm  string // if empty -> "pdftoppm"
	Pdfinfo   string // if empty -> "pdfinfo"

	// Languages is the priority list probed at startup; the first installed one is kept.
	Languages []string
	DPI       int
	PSM       int // 6 = uniform block of text; 0 leaves the tesseract default

	TessdataDir      string
	HeicConverter    string // heif-convert | magick | sips
	ArtifactCacheDir string

	// MinConfidence drops recognized words below this score (0..1).
	MinConfidence float32
	// CommandTimeout bounds a single external command.
	CommandTimeout time.Duration
}

// ErrNoLanguage is reported when none of the configured languages is installed.
var ErrNoLanguage = errors.New("no configured OCR language is installed")

// Engine is the process-wide OCR handle. It is built once and shared by reference.
type Engine struct {
	cfg      Config
	runner   Runner
	logger   *slog.Logger
	lang     string
	probeErr error
}

// Option customizes an Engine.
type Option func(*Engine)

// WithRunner replaces the exec-backed runner (tests).
func WithRunner(r Runner) Option {
	return func(e *Engine) { e.runner = r }
}

// NewEngine fills defaults and probes the installed tesseract languages.
func NewEngine(ctx context.Context, cfg Config, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Pdfinfo == "" {
		cfg.Pdfinfo = "pdfinfo"
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"jpn", "chi_sim", "eng"}
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if cfg.ArtifactCacheDir == "" {
		cfg.ArtifactCacheDir = "./tmp"
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 20 * time.Second
	}

	e := &Engine{cfg: cfg, runner: execRunner{}, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	e.probe(ctx)
	return e
}

// probe keeps the first configured language that tesseract reports as installed.
func (e *Engine) probe(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, e.cfg.CommandTimeout)
	defer cancel()

	args := []string{"--list-langs"}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}
	out, errb, err := e.runner.Run(cctx, e.cfg.Tesseract, e.logger, args...)
	if err != nil {
		e.probeErr = fmt.Errorf("tesseract --list-langs: %w (%s)", err, strings.TrimSpace(string(errb)))
		e.logger.Error("ocr.engine.probe_failed", "error", e.probeErr)
		return
	}

	// older tesseract builds print the list on stderr
	installed := parseLangList(string(out) + "\n" + string(errb))
	for _, lang := range e.cfg.Languages {
		if _, ok := installed[lang]; ok {
			e.lang = lang
			e.logger.Info("ocr.engine.ready", "language", lang, "installed", len(installed))
			return
		}
		e.logger.Warn("ocr.engine.language_missing", "language", lang)
	}
	e.probeErr = fmt.Errorf("%w: tried %s", ErrNoLanguage, strings.Join(e.cfg.Languages, ", "))
	e.logger.Error("ocr.engine.probe_failed", "error", e.probeErr)
}

func parseLangList(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, ln := range strings.Split(s, "\n") {
		ln = strings.TrimSpace(ln)
		if ln == "" || strings.HasPrefix(ln, "List of available languages") {
			continue
		}
		out[ln] = struct{}{}
	}
	return out
}

// Language is the retained OCR language, "" when the probe failed.
func (e *Engine) Language() string { return e.lang }

// Ready reports the startup probe failure, if any.
func (e *Engine) Ready() error { return e.probeErr }

// MinConfidence is the word confidence threshold in 0..1.
func (e *Engine) MinConfidence() float32 { return e.cfg.MinConfidence }

func (e *Engine) run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cctx, cancel := context.WithTimeout(ctx, e.cfg.CommandTimeout)
	defer cancel()
	return e.runner.Run(cctx, name, e.logger, args...)
}
