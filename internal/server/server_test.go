package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/menu-allergens/internal/common"
	"github.com/joseph-ayodele/menu-allergens/internal/core"
	"github.com/joseph-ayodele/menu-allergens/internal/repository"
)

func newTestServer(t *testing.T, deps Deps, maxBytes int64) *httptest.Server {
	t.Helper()
	if deps.Processor == nil {
		deps.Processor = core.NewProcessor(nil, nil, nil, nil, nil, nil, deps.Jobs)
	}
	srv := httptest.NewServer(NewHandlers(deps, maxBytes).Router(0))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	res, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer res.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return res, out
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	res, err := http.Get(url)
	require.NoError(t, err)
	defer res.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return res, out
}

func TestConvertProcessText(t *testing.T) {
	srv := newTestServer(t, Deps{}, 0)
	res, out := postJSON(t, srv.URL+"/api/convert",
		`{"action":"process_text","payload":{"text":"牛丼（並盛）\n牛肉: 含有\n豚丼（並盛）\n豚肉: 含有"}}`)

	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, true, out["success"])
	require.EqualValues(t, 2, out["count"])
	require.NotEmpty(t, res.Header.Get("Content-Type"))
}

func TestConvertErrorsMapToStatus(t *testing.T) {
	srv := newTestServer(t, Deps{}, 0)

	res, out := postJSON(t, srv.URL+"/api/convert", `{"action":"nope","payload":{}}`)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	require.Equal(t, false, out["success"])
	require.Equal(t, common.CodeUnknownAction, out["code"])

	res, out = postJSON(t, srv.URL+"/api/convert", `not json`)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	require.Equal(t, common.CodeInvalidPayload, out["code"])
}

func TestConvertBodyLimit(t *testing.T) {
	srv := newTestServer(t, Deps{}, 32)
	body := `{"action":"process_text","payload":{"text":"` + strings.Repeat("あ", 64) + `"}}`
	res, out := postJSON(t, srv.URL+"/api/convert", body)
	require.Equal(t, http.StatusRequestEntityTooLarge, res.StatusCode)
	require.Equal(t, false, out["success"])
}

func TestConvertMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, Deps{}, 0)
	res, err := http.Get(srv.URL + "/api/convert")
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, Deps{}, 0)
	res, out := getJSON(t, srv.URL+"/health")
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "ok", out["status"])
	require.NotContains(t, out, "database")
}

func TestHealthWithDatabase(t *testing.T) {
	db, err := repository.Open(context.Background(), repository.Config{DSN: "sqlite::memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(nil) })

	srv := newTestServer(t, Deps{DB: db}, 0)
	res, out := getJSON(t, srv.URL+"/health")
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "ok", out["database"])
}

func TestEnvCheckNeverEchoesKey(t *testing.T) {
	store := common.StoreConfig{URL: "https://store.example", Key: "secret-key-value", Table: "products"}
	srv := newTestServer(t, Deps{Store: store, OCRLanguage: func() string { return "jpn" }}, 0)

	res, err := http.Get(srv.URL + "/env-check")
	require.NoError(t, err)
	defer res.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(res.Body)
	require.NoError(t, err)
	require.NotContains(t, buf.String(), "secret-key-value")

	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.Equal(t, true, out["store_configured"])
	require.Equal(t, true, out["store_key_set"])
	require.Equal(t, "jpn", out["ocr_language"])
}

func TestEnvCheckPlaceholders(t *testing.T) {
	store := common.StoreConfig{URL: "your_supabase_url", Key: "your_supabase_key"}
	srv := newTestServer(t, Deps{Store: store}, 0)
	_, out := getJSON(t, srv.URL+"/env-check")
	require.Equal(t, false, out["store_url_set"])
	require.Equal(t, false, out["store_key_set"])
	require.Equal(t, false, out["store_configured"])
	require.Equal(t, false, out["ocr_available"])
}

func TestListJobs(t *testing.T) {
	db, err := repository.Open(context.Background(), repository.Config{DSN: "sqlite::memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(nil) })
	jobs := repository.NewConversionJobRepository(db, nil)

	srv := newTestServer(t, Deps{Jobs: jobs, DB: db}, 0)
	postJSON(t, srv.URL+"/api/convert", `{"action":"process_text","payload":{"lines":["カレーライス","小麦: ●"]}}`)
	postJSON(t, srv.URL+"/api/convert", `{"action":"preview","payload":{}}`)

	res, out := getJSON(t, srv.URL+"/api/jobs?limit=5")
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.EqualValues(t, 2, out["count"])

	res, _ = getJSON(t, srv.URL+"/api/jobs?limit=zero")
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestListJobsWithoutLog(t *testing.T) {
	srv := newTestServer(t, Deps{}, 0)
	res, _ := getJSON(t, srv.URL+"/api/jobs")
	require.Equal(t, http.StatusPreconditionFailed, res.StatusCode)
}
