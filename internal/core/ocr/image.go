package ocr

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/joseph-ayodele/menu-allergens/constants"
)

// ImageResult is the recognized text of one image or rasterized page.
type ImageResult struct {
	Text       string
	Language   string
	Words      int // words kept
	Dropped    int // words below the confidence threshold
	Confidence float32
	Warnings   []string
}

type tsvWord struct {
	block, par, line int
	conf             float64 // 0..100
	text             string
}

// ExtractImage runs OCR on an image file, converting HEIC/HEIF first.
func (e *Engine) ExtractImage(ctx context.Context, path string) (ImageResult, error) {
	if e.probeErr != nil {
		return ImageResult{}, e.probeErr
	}
	var warns []string
	if constants.IsHEICExt(filepath.Ext(path)) {
		hashHex, _ := contentHashFromCtx(ctx)
		out, w, cleanup, err := convertHEICtoPNG(ctx, e.runner, e.logger, e.cfg.HeicConverter, path, e.cfg.ArtifactCacheDir, hashHex)
		warns = append(warns, w...)
		if cleanup != nil {
			defer cleanup()
		}
		if err != nil {
			return ImageResult{Warnings: warns}, err
		}
		path = out
	}
	res, err := e.recognize(ctx, path)
	res.Warnings = append(warns, res.Warnings...)
	return res, err
}

// recognize runs tesseract in TSV mode and rebuilds lines from the confident words.
func (e *Engine) recognize(ctx context.Context, path string) (ImageResult, error) {
	args := []string{path, "stdout", "-l", e.lang}
	if e.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(e.cfg.PSM))
	}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}
	args = append(args, "tsv")

	out, errb, err := e.run(ctx, e.cfg.Tesseract, args...)
	if err != nil {
		return ImageResult{Language: e.lang, Warnings: []string{strings.TrimSpace(string(errb))}}, fmt.Errorf("tesseract: %w", err)
	}

	words := parseTSV(string(out))
	lines, kept, dropped, mean := groupLines(words, float64(e.cfg.MinConfidence)*100)
	e.logger.Debug("ocr.image.recognized", "path", path, "words", kept, "dropped", dropped, "lines", len(lines))
	return ImageResult{
		Text:       strings.Join(lines, "\n"),
		Language:   e.lang,
		Words:      kept,
		Dropped:    dropped,
		Confidence: float32(mean / 100),
	}, nil
}

// parseTSV reads word rows (level 5) from tesseract TSV output.
func parseTSV(s string) []tsvWord {
	var words []tsvWord
	for i, ln := range strings.Split(s, "\n") {
		if i == 0 || ln == "" {
			continue
		}
		cols := strings.Split(ln, "\t")
		if len(cols) < 12 || cols[0] != "5" {
			continue
		}
		text := strings.TrimSpace(cols[11])
		if text == "" {
			continue
		}
		conf, err := strconv.ParseFloat(cols[10], 64)
		if err != nil || conf < 0 {
			continue
		}
		block, _ := strconv.Atoi(cols[2])
		par, _ := strconv.Atoi(cols[3])
		line, _ := strconv.Atoi(cols[4])
		words = append(words, tsvWord{block: block, par: par, line: line, conf: conf, text: text})
	}
	return words
}

// groupLines joins confident words sharing (block, par, line). minConf is on the 0..100 scale.
func groupLines(words []tsvWord, minConf float64) (lines []string, kept, dropped int, mean float64) {
	var (
		b       strings.Builder
		sum     float64
		curKey  [3]int
		started bool
		last    string
	)
	flush := func() {
		if b.Len() > 0 {
			lines = append(lines, b.String())
		}
		b.Reset()
		last = ""
	}
	for _, w := range words {
		if w.conf < minConf {
			dropped++
			continue
		}
		key := [3]int{w.block, w.par, w.line}
		if !started || key != curKey {
			flush()
			curKey, started = key, true
		}
		if last != "" && needsSpace(last, w.text) {
			b.WriteByte(' ')
		}
		b.WriteString(w.text)
		last = w.text
		kept++
		sum += w.conf
	}
	flush()
	if kept > 0 {
		mean = sum / float64(kept)
	}
	return lines, kept, dropped, mean
}

// needsSpace separates words only between Latin letters or digits; CJK runs are joined.
func needsSpace(prev, next string) bool {
	a, _ := utf8.DecodeLastRuneInString(prev)
	z, _ := utf8.DecodeRuneInString(next)
	return isLatinWordRune(a) && isLatinWordRune(z)
}

func isLatinWordRune(r rune) bool {
	return r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r))
}
