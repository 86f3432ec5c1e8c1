package app

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/menu-allergens/internal/common"
	"github.com/joseph-ayodele/menu-allergens/internal/core"
	"github.com/joseph-ayodele/menu-allergens/internal/core/ocr"
)

type langRunner struct{ langs string }

func (r langRunner) Run(_ context.Context, name string, _ *slog.Logger, args ...string) ([]byte, []byte, error) {
	if name == "tesseract" && len(args) > 0 && args[0] == "--list-langs" {
		if r.langs == "" {
			return nil, []byte("tesseract: not found"), errors.New("exit status 127")
		}
		return []byte("List of available languages (2):\n" + r.langs), nil, nil
	}
	return nil, nil, errors.New("unexpected command " + name)
}

func testConfig(t *testing.T) *common.Config {
	t.Helper()
	t.Setenv("STORE_URL", "")
	t.Setenv("STORE_KEY", "")
	t.Setenv("DB_URL", "")
	t.Setenv("OCR_LANGS", "")
	return common.LoadConfig()
}

func TestNewWithSQLSync(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), Options{
		InMemory:      true,
		SyncTarget:    SyncSQL,
		EngineOptions: []ocr.Option{ocr.WithRunner(langRunner{langs: "eng\nchi_sim\n"})},
	}, nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.Equal(t, "chi_sim", a.OCRLanguage())
	require.True(t, a.Sync.Configured())
	require.NotNil(t, a.Jobs)

	resp := a.Processor.Dispatch(ctx, core.Request{
		Action:  core.ActionConvert,
		Payload: []byte(`{"lines":["牛丼（並盛）","牛肉: 含有","豚丼（並盛）","豚肉: 含有"]}`),
	})
	require.True(t, resp.Success)
	require.True(t, *resp.Sent)

	n, err := a.Products.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	jobs, err := a.Jobs.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, jobs)
}

func TestNewWithoutStoreOrOCR(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), Options{
		EngineOptions: []ocr.Option{ocr.WithRunner(langRunner{})},
	}, nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.Empty(t, a.OCRLanguage())
	require.False(t, a.Sync.Configured())
	require.Nil(t, a.DB)
	require.Nil(t, a.Jobs)
}

func TestNewRejectsUnusableSyncTargets(t *testing.T) {
	runner := []ocr.Option{ocr.WithRunner(langRunner{langs: "eng\n"})}

	_, err := New(context.Background(), testConfig(t), Options{SyncTarget: SyncSQL, EngineOptions: runner}, nil)
	require.ErrorIs(t, err, common.ErrStoreNotConfigured)

	_, err = New(context.Background(), testConfig(t), Options{SyncTarget: SyncREST, EngineOptions: runner}, nil)
	require.ErrorIs(t, err, common.ErrStoreNotConfigured)
}

func TestNewValidatesConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.BatchSize = 0
	_, err := New(context.Background(), cfg, Options{}, nil)
	require.ErrorIs(t, err, common.ErrInvalidInput)
}
