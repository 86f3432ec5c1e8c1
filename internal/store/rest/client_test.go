package rest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/menu-allergens/internal/common"
	"github.com/joseph-ayodele/menu-allergens/internal/core/normalize"
	"github.com/joseph-ayodele/menu-allergens/internal/core/upsert"
)

type seen struct {
	method string
	query  string
	prefer string
	auth   string
	body   map[string]string
}

type fakeStore struct {
	mu       sync.Mutex
	existing string // id returned by lookups; "" = no match
	requests []seen
	status   int // forced write status
}

func (f *fakeStore) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/products" {
			http.NotFound(w, r)
			return
		}
		s := seen{method: r.Method, query: r.URL.RawQuery, prefer: r.Header.Get("Prefer"), auth: r.Header.Get("Authorization")}
		if b, _ := io.ReadAll(r.Body); len(b) > 0 {
			_ = json.Unmarshal(b, &s.body)
		}
		f.mu.Lock()
		f.requests = append(f.requests, s)
		f.mu.Unlock()

		switch r.Method {
		case http.MethodGet:
			if f.existing == "" {
				_, _ = w.Write([]byte(`[]`))
				return
			}
			_, _ = w.Write([]byte(`[{"id":` + f.existing + `,"name":"x","brand":"y","store_region":""}]`))
		case http.MethodPost:
			if f.status != 0 {
				w.WriteHeader(f.status)
				return
			}
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`[{"id":"new-uuid"}]`))
		case http.MethodPatch:
			if f.status != 0 {
				w.WriteHeader(f.status)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		}
	})
}

func newClient(t *testing.T, f *fakeStore, include bool) *Client {
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	c, err := New(common.StoreConfig{URL: srv.URL + "/", Key: "secret", Timeout: 5 * time.Second}, Options{IncludeAllergens: include}, nil)
	require.NoError(t, err)
	return c
}

func testRecord(region string) *normalize.Record {
	r := normalize.NewRecord()
	r.Set(normalize.FieldMenuName, "牛丼（並盛）")
	r.Set(normalize.FieldStoreName, "すき家")
	r.Set(normalize.FieldStoreRegion, region)
	r.Set(normalize.FieldSourceURL, "https://example.com/menu.pdf")
	r.Set(normalize.FieldStoreURL, "https://example.com")
	r.Set(normalize.FieldCreatedAt, "2024-05-01T00:00:00Z")
	r.Set("allergy_牛肉", "●")
	return r
}

func TestNewRejectsPlaceholderCredentials(t *testing.T) {
	_, err := New(common.StoreConfig{URL: "your_supabase_url", Key: "your_supabase_key"}, Options{}, nil)
	require.ErrorIs(t, err, common.ErrStoreNotConfigured)
	_, err = New(common.StoreConfig{URL: "https://x.supabase.co"}, Options{}, nil)
	require.ErrorIs(t, err, common.ErrStoreNotConfigured)
}

func TestSyncPatchesMatchingRecord(t *testing.T) {
	f := &fakeStore{existing: "42"}
	s := upsert.NewSynchronizer(newClient(t, f, false), upsert.Config{}, nil)

	res, err := s.Sync(context.Background(), []*normalize.Record{testRecord("関東")})
	require.NoError(t, err)
	require.True(t, res.Sent)
	require.Equal(t, upsert.Patched, res.Items[0].Outcome)
	require.Equal(t, "42", res.Items[0].RecordID)

	require.Len(t, f.requests, 2)
	require.Equal(t, http.MethodGet, f.requests[0].method)
	require.Contains(t, f.requests[0].query, "store_region.eq.")
	require.Equal(t, "Bearer secret", f.requests[0].auth)
	require.Equal(t, http.MethodPatch, f.requests[1].method)
	require.Equal(t, "id=eq.42", f.requests[1].query)
	require.Equal(t, "牛丼（並盛）", f.requests[1].body["name"])
	require.Equal(t, "すき家", f.requests[1].body["brand"])
	require.Equal(t, "Food", f.requests[1].body["category"])
	require.NotContains(t, f.requests[1].body, "allergy_牛肉")
}

func TestSyncInsertsWhenNoMatch(t *testing.T) {
	f := &fakeStore{}
	s := upsert.NewSynchronizer(newClient(t, f, true), upsert.Config{}, nil)

	res, err := s.Sync(context.Background(), []*normalize.Record{testRecord("")})
	require.NoError(t, err)
	require.Equal(t, upsert.Inserted, res.Items[0].Outcome)
	require.Equal(t, "new-uuid", res.Items[0].RecordID)

	require.Len(t, f.requests, 2)
	q, err := url.ParseQuery(f.requests[0].query)
	require.NoError(t, err)
	require.Contains(t, q.Get("and"), "name.eq.")
	require.NotContains(t, q.Get("and"), "store_region.eq")
	require.Equal(t, http.MethodPost, f.requests[1].method)
	require.Equal(t, "return=representation", f.requests[1].prefer)
	require.Equal(t, "●", f.requests[1].body["allergy_牛肉"])
	require.Equal(t, "OCRで抽出されたメニュー: https://example.com/menu.pdf", f.requests[1].body["description"])
}

func TestWriteFailureIsPerItem(t *testing.T) {
	f := &fakeStore{status: http.StatusConflict}
	s := upsert.NewSynchronizer(newClient(t, f, false), upsert.Config{}, nil)

	res, err := s.Sync(context.Background(), []*normalize.Record{testRecord(""), testRecord("関西")})
	require.NoError(t, err)
	require.False(t, res.Sent)
	require.Equal(t, 2, res.Failed)
	var se *StatusError
	require.ErrorAs(t, res.Items[0].Err, &se)
	require.Equal(t, http.StatusConflict, se.Status)
}

func TestQuote(t *testing.T) {
	require.Equal(t, "牛丼", quote("牛丼"))
	require.Equal(t, `"a,b"`, quote("a,b"))
	require.Equal(t, `"say \"hi\""`, quote(`say "hi"`))
}
