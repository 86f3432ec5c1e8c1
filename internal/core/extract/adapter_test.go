package extract

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/menu-allergens/constants"
	"github.com/joseph-ayodele/menu-allergens/internal/common"
	"github.com/joseph-ayodele/menu-allergens/internal/core/ocr"
)

type fakeEngine struct {
	image    ocr.ImageResult
	pdf      ocr.PDFResult
	err      error
	gotPath  string
	gotLimit ocr.PDFLimits
}

func (f *fakeEngine) ExtractImage(_ context.Context, path string) (ocr.ImageResult, error) {
	f.gotPath = path
	_, statErr := os.Stat(path)
	if statErr != nil {
		return ocr.ImageResult{}, statErr
	}
	return f.image, f.err
}

func (f *fakeEngine) ExtractPDF(_ context.Context, path string, lim ocr.PDFLimits) (ocr.PDFResult, error) {
	f.gotPath = path
	f.gotLimit = lim
	return f.pdf, f.err
}

func (f *fakeEngine) Language() string { return "jpn" }

func TestExtractRejectsOversizedInput(t *testing.T) {
	eng := &fakeEngine{image: ocr.ImageResult{Text: "牛丼"}}
	a := NewAdapter(eng, Limits{MaxBytes: 8}, nil)

	res := a.Extract(context.Background(), Input{Kind: constants.KindImage, Data: make([]byte, 9)})
	require.NotNil(t, res.Lines)
	require.Empty(t, res.Lines)
	require.ErrorIs(t, res.Err, common.ErrExtraction)
	require.Empty(t, eng.gotPath, "engine must not run for oversized input")
	require.NotEmpty(t, res.Warnings)
}

func TestExtractImage(t *testing.T) {
	eng := &fakeEngine{image: ocr.ImageResult{Text: "牛丼（並盛）\n\n牛肉: ●\n--- ページ 1 ---", Dropped: 2}}
	a := NewAdapter(eng, Limits{MaxBytes: 1 << 20}, nil)

	res := a.Extract(context.Background(), Input{Data: []byte("\x89PNG...."), Name: "menu.PNG"})
	require.NoError(t, res.Err)
	require.Equal(t, constants.KindImage, res.Kind)
	require.Equal(t, []string{"牛丼（並盛）", "牛肉: ●"}, res.Lines)
	require.Equal(t, 1, res.PagesProcessed)
	require.Equal(t, "jpn", res.Language)
	require.Contains(t, res.Warnings, "2 low-confidence words discarded")
	require.Equal(t, ".png", filepath.Ext(eng.gotPath))

	_, err := os.Stat(eng.gotPath)
	require.True(t, os.IsNotExist(err), "staged upload must be removed")
}

func TestExtractPDFReportsPartialResult(t *testing.T) {
	eng := &fakeEngine{pdf: ocr.PDFResult{
		Pages:          []string{"牛丼\n牛肉: ●", "豚丼\n豚肉: ●"},
		PagesTotal:     60,
		PagesProcessed: 2,
		Truncated:      true,
		BudgetExceeded: true,
		Warnings:       []string{"time budget exceeded after 2 of 60 pages", ""},
	}}
	a := NewAdapter(eng, Limits{MaxBytes: 1 << 20, MaxPages: 50, GCEveryPages: 10}, nil)

	res := a.Extract(context.Background(), Input{Kind: constants.KindPDF, Data: []byte("%PDF-1.7")})
	require.NoError(t, res.Err)
	require.Equal(t, []string{"牛丼", "牛肉: ●", "豚丼", "豚肉: ●"}, res.Lines)
	require.Equal(t, 2, res.PagesProcessed)
	require.Equal(t, 60, res.PagesTotal)
	require.True(t, res.Truncated)
	require.True(t, res.BudgetExceeded)
	require.Equal(t, []string{"time budget exceeded after 2 of 60 pages"}, res.Warnings)
	require.Equal(t, ocr.PDFLimits{MaxPages: 50, GCEveryPages: 10}, eng.gotLimit)
	require.Equal(t, ".pdf", filepath.Ext(eng.gotPath))
}

func TestExtractEngineFailureDegradesToEmpty(t *testing.T) {
	eng := &fakeEngine{err: errors.New("tesseract: exit status 1")}
	res := NewAdapter(eng, Limits{}, nil).Extract(context.Background(), Input{Kind: constants.KindPDF, Data: []byte("x")})
	require.Empty(t, res.Lines)
	require.ErrorIs(t, res.Err, common.ErrExtraction)

	res = NewAdapter(nil, Limits{}, nil).Extract(context.Background(), Input{Kind: constants.KindImage, Data: []byte("x")})
	require.Empty(t, res.Lines)
	require.ErrorContains(t, res.Err, "OCR engine unavailable")

	res = NewAdapter(nil, Limits{}, nil).Extract(context.Background(), Input{Kind: "docx", Data: []byte("x")})
	require.ErrorContains(t, res.Err, "unsupported input kind")
}

func TestExtractCSVFlattensRows(t *testing.T) {
	data := "メニュー名,卵,乳,小麦\nオムライス,●,,○\n,●,●,●\nサラダ,-,-,-\n"
	res := NewAdapter(nil, Limits{MaxBytes: 1024}, nil).Extract(context.Background(), Input{Kind: constants.KindCSVText, Data: []byte(data)})
	require.NoError(t, res.Err)
	require.Equal(t, "csv", res.Method)
	require.Equal(t, []string{
		"オムライス", "卵: ●", "小麦: ○",
		"サラダ", "卵: -", "乳: -", "小麦: -",
	}, res.Lines)
}

func TestDecodeBase64(t *testing.T) {
	raw := []byte("menu bytes")
	enc := base64.StdEncoding.EncodeToString(raw)

	b, err := DecodeBase64("data:application/pdf;base64," + enc)
	require.NoError(t, err)
	require.Equal(t, raw, b)

	b, err = DecodeBase64(base64.RawStdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	require.Equal(t, raw, b)

	_, err = DecodeBase64("***")
	require.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestIsHEIC(t *testing.T) {
	require.True(t, isHEIC([]byte("\x00\x00\x00\x18ftypheic\x00\x00")))
	require.False(t, isHEIC([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\x00")))
	require.Equal(t, ".heic", tempExt(constants.KindImage, Input{Data: []byte("\x00\x00\x00\x18ftypmif1")}))
}
