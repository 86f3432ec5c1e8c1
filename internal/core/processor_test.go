package core

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/menu-allergens/constants"
	"github.com/joseph-ayodele/menu-allergens/internal/common"
	"github.com/joseph-ayodele/menu-allergens/internal/core/extract"
	"github.com/joseph-ayodele/menu-allergens/internal/core/normalize"
	"github.com/joseph-ayodele/menu-allergens/internal/core/upsert"
	"github.com/joseph-ayodele/menu-allergens/internal/repository"
)

const menuCSV = "menu_name,卵,allergy_乳,価格\nオムライス,●,-,980\nナポリタン,,○,880\nサラダ,-,-,500\n"

func newTestProcessor(t *testing.T, sync *upsert.Synchronizer, jobs repository.ConversionJobRepository) *Processor {
	t.Helper()
	adapter := extract.NewAdapter(nil, extract.Limits{MaxBytes: 64}, nil)
	p := NewProcessor(nil, adapter, nil, nil, sync, nil, jobs)
	p.now = func() time.Time { return time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC) }
	return p
}

func dispatch(t *testing.T, p *Processor, action string, pl any) Response {
	t.Helper()
	raw, err := json.Marshal(pl)
	require.NoError(t, err)
	return p.Dispatch(context.Background(), Request{Action: action, Payload: raw})
}

func records(t *testing.T, resp Response) []*normalize.Record {
	t.Helper()
	recs, ok := resp.Data.([]*normalize.Record)
	require.True(t, ok, "data is %T", resp.Data)
	return recs
}

func field(t *testing.T, r *normalize.Record, key string) string {
	t.Helper()
	v, ok := r.Get(key)
	require.True(t, ok, "missing %s", key)
	return v
}

func openJobs(t *testing.T) (*repository.DB, repository.ConversionJobRepository) {
	t.Helper()
	db, err := repository.Open(context.Background(), repository.Config{DSN: "sqlite::memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(nil) })
	return db, repository.NewConversionJobRepository(db, nil)
}

func TestProcessTextSegmentsItems(t *testing.T) {
	p := newTestProcessor(t, nil, nil)
	resp := dispatch(t, p, ActionProcessText, map[string]any{
		"lines": []string{"牛丼（並盛）", "牛肉: 含有", "豚丼（並盛）", "豚肉: 含有"},
	})
	require.True(t, resp.Success)
	require.Equal(t, 2, resp.Count)

	recs := records(t, resp)
	require.Equal(t, "牛丼（並盛）", field(t, recs[0], "menu_name"))
	require.Equal(t, constants.SymbolDirectlyContains, field(t, recs[0], "牛肉"))
	require.Equal(t, constants.SymbolNotPresent, field(t, recs[0], "豚肉"))
	require.Equal(t, constants.SymbolDirectlyContains, field(t, recs[1], "豚肉"))
	require.Equal(t, "text", field(t, recs[1], "source_file"))
}

func TestProcessTextEmptyIsSuccess(t *testing.T) {
	p := newTestProcessor(t, nil, nil)
	resp := dispatch(t, p, ActionProcessText, map[string]any{"text": "\n\n  \n"})
	require.True(t, resp.Success)
	require.Zero(t, resp.Count)
	require.Empty(t, records(t, resp))

	out, err := json.Marshal(resp)
	require.NoError(t, err)
	require.Contains(t, string(out), `"data":[]`)
	require.Contains(t, string(out), `"count":0`)
}

func TestOversizedImageYieldsZeroItems(t *testing.T) {
	p := newTestProcessor(t, nil, nil)
	big := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("x", 128)))
	resp := dispatch(t, p, ActionProcessImage, map[string]any{"file": big, "filename": "menu.png"})

	require.True(t, resp.Success)
	require.Zero(t, resp.Count)
	require.NotEmpty(t, resp.Warnings)
	require.Contains(t, resp.Warnings[len(resp.Warnings)-1], "exceeds")
}

func TestProcessPDFReportsPages(t *testing.T) {
	p := newTestProcessor(t, nil, nil)
	resp := dispatch(t, p, ActionProcessPDF, map[string]any{"file": "data:application/pdf;base64," + base64.StdEncoding.EncodeToString([]byte("%PDF"))})

	require.True(t, resp.Success, "no engine still degrades to an empty result")
	require.NotNil(t, resp.PagesProcessed)
	require.NotNil(t, resp.PagesTotal)
	require.Zero(t, *resp.PagesTotal)
}

func TestProcessCSV(t *testing.T) {
	p := newTestProcessor(t, nil, nil)
	resp := dispatch(t, p, ActionProcessCSV, map[string]any{
		"file":     base64.StdEncoding.EncodeToString([]byte(menuCSV)),
		"filename": "menu.csv",
	})
	require.True(t, resp.Success)
	require.Equal(t, 3, resp.Count)
	recs := records(t, resp)
	require.Equal(t, constants.SymbolDirectlyContains, field(t, recs[0], "卵"))
	require.Equal(t, constants.SymbolCrossContamination, field(t, recs[1], "乳"))
	require.Equal(t, "menu.csv", field(t, recs[1], "source_file"))
	require.Equal(t, "2024-05-01T09:30:00Z", field(t, recs[2], "extracted_at"))
}

func TestUnknownAction(t *testing.T) {
	p := newTestProcessor(t, nil, nil)
	resp := p.Handle(context.Background(), []byte(`{"action":"delete_everything","payload":{}}`))
	require.False(t, resp.Success)
	require.Equal(t, common.CodeUnknownAction, resp.Code)
	require.ErrorIs(t, resp.Err(), common.ErrInvalidInput)
}

func TestInvalidPayloads(t *testing.T) {
	p := newTestProcessor(t, nil, nil)

	resp := p.Handle(context.Background(), []byte(`{"action":`))
	require.False(t, resp.Success)
	require.Equal(t, common.CodeInvalidPayload, resp.Code)

	resp = dispatch(t, p, ActionPreview, map[string]any{"limit": 5})
	require.False(t, resp.Success, "preview needs an item source")
	require.Equal(t, common.CodeInvalidPayload, resp.Code)

	resp = dispatch(t, p, ActionProcessPDF, map[string]any{"file": "%%%not base64%%%"})
	require.False(t, resp.Success)
	require.Equal(t, common.CodeInvalidPayload, resp.Code)

	resp = dispatch(t, p, ActionConvert, map[string]any{"csv_data": menuCSV, "filters": map[string]any{"bogus": true}})
	require.False(t, resp.Success)
}

func TestPreviewSelectsColumnsAndLimits(t *testing.T) {
	p := newTestProcessor(t, nil, nil)
	resp := dispatch(t, p, ActionPreview, map[string]any{
		"csv_data":         menuCSV,
		"selected_columns": []string{"menu_name", "allergy_卵", "store_name"},
		"limit":            2,
	})
	require.True(t, resp.Success)
	require.Equal(t, 3, resp.Count)

	recs := records(t, resp)
	require.Len(t, recs, 2)
	require.Equal(t, []string{"menu_name", "allergy_卵", "store_name"}, recs[0].Keys())
	require.Equal(t, DefaultStoreName, field(t, recs[0], "store_name"))
	require.Equal(t, constants.SymbolNotPresent, field(t, recs[1], "allergy_卵"))
}

func TestConvertWithoutStoreIsNotSent(t *testing.T) {
	p := newTestProcessor(t, nil, nil)
	resp := dispatch(t, p, ActionConvert, map[string]any{
		"csv_data": menuCSV,
		"filters":  map[string]any{"allergy_contains": []string{"卵", "乳"}},
	})
	require.True(t, resp.Success)
	require.Equal(t, 2, resp.Count)
	require.NotNil(t, resp.Sent)
	require.False(t, *resp.Sent)
	require.Contains(t, resp.Message, "not configured")
}

func TestConvertAcceptsWrappedFilters(t *testing.T) {
	p := newTestProcessor(t, nil, nil)
	resp := dispatch(t, p, ActionConvert, map[string]any{
		"csv_data": menuCSV,
		"filters": map[string]any{
			"allergy_contains":   map[string]any{"items": []string{"卵", "乳"}},
			"menu_name_contains": map[string]any{"keywords": []string{"ナポリ"}},
		},
	})
	require.True(t, resp.Success, resp.Error)
	require.Equal(t, 1, resp.Count)
	require.Equal(t, "ナポリタン", field(t, records(t, resp)[0], "menu_name"))

	resp = dispatch(t, p, ActionConvert, map[string]any{
		"csv_data": menuCSV,
		"filters":  map[string]any{"allergy_contains": map[string]any{"keywords": []string{"卵"}}},
	})
	require.False(t, resp.Success, "allergen filters wrap their list under items")
	require.Equal(t, common.CodeInvalidPayload, resp.Code)
}

func TestConvertUpsertsIntoSQLStore(t *testing.T) {
	db, jobs := openJobs(t)
	store := repository.NewProductStore(db, nil)
	p := newTestProcessor(t, upsert.NewSynchronizer(store, upsert.Config{BatchSize: 2}, nil), jobs)
	ctx := context.Background()

	pl := map[string]any{
		"csv_data":   menuCSV,
		"store_info": map[string]any{"storeName": "洋食屋", "storeRegion": "関東"},
	}
	resp := dispatch(t, p, ActionConvert, pl)
	require.True(t, resp.Success)
	require.True(t, *resp.Sent)
	require.Contains(t, resp.Message, "3 inserted")
	require.NotEmpty(t, resp.JobID)
	first := resp.BatchID
	require.NotEmpty(t, first)

	resp = dispatch(t, p, ActionConvert, pl)
	require.True(t, *resp.Sent)
	require.Contains(t, resp.Message, "3 updated")
	require.NotEqual(t, first, resp.BatchID, "each send is its own batch")

	n, err := store.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	recent, err := jobs.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, constants.JobStatusDone, recent[0].Status)
	require.Equal(t, 3, recent[0].ItemCount)
	require.True(t, recent[0].Sent)
}

func TestConvertSyncFalseSkipsStore(t *testing.T) {
	db, _ := openJobs(t)
	store := repository.NewProductStore(db, nil)
	p := newTestProcessor(t, upsert.NewSynchronizer(store, upsert.Config{}, nil), nil)

	resp := dispatch(t, p, ActionConvert, map[string]any{"csv_data": menuCSV, "sync": false})
	require.True(t, resp.Success)
	require.False(t, *resp.Sent)

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestFailedActionIsLogged(t *testing.T) {
	_, jobs := openJobs(t)
	p := newTestProcessor(t, nil, jobs)

	resp := dispatch(t, p, ActionProcessPDF, map[string]any{"file": "!!"})
	require.False(t, resp.Success)

	recent, err := jobs.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, constants.JobStatusFailed, recent[0].Status)
	require.Equal(t, ActionProcessPDF, recent[0].Action)
}

func TestDownloadCSVFromItems(t *testing.T) {
	p := newTestProcessor(t, nil, nil)
	resp := dispatch(t, p, ActionDownloadCSV, map[string]any{
		"items": []map[string]string{
			{"menu_name": "オムライス", "卵": "●", "allergy_乳": "○"},
			{"menu_name": "サラダ"},
		},
		"allergy_order": []string{"乳", "卵"},
	})
	require.True(t, resp.Success)
	require.Equal(t, 2, resp.Count)

	d, ok := resp.Data.(Download)
	require.True(t, ok)
	require.True(t, strings.HasPrefix(d.Filename, "allergy_data_"))
	require.True(t, strings.HasSuffix(d.Filename, ".csv"))
	lines := strings.Split(strings.TrimSpace(d.Content), "\n")
	require.True(t, strings.HasPrefix(lines[0], "menu_name,乳,卵,"))
	require.True(t, strings.HasPrefix(lines[1], "オムライス,○,●,"))
}

func TestDownloadXLSXWithFiltersUsesRecords(t *testing.T) {
	p := newTestProcessor(t, nil, nil)
	resp := dispatch(t, p, ActionDownloadXLSX, map[string]any{
		"csv_data": menuCSV,
		"filters":  map[string]any{"menu_name_contains": []string{"オム"}},
	})
	require.True(t, resp.Success)
	require.Equal(t, 1, resp.Count)

	d := resp.Data.(Download)
	require.Equal(t, "base64", d.Encoding)
	raw, err := base64.StdEncoding.DecodeString(d.Content)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(raw), "PK"), "xlsx is a zip archive")
}
