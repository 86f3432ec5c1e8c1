package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/joseph-ayodele/menu-allergens/internal/common"
	"github.com/joseph-ayodele/menu-allergens/internal/core/normalize"
	"github.com/joseph-ayodele/menu-allergens/internal/core/upsert"
)

const (
	defaultCategory = "Food"
	descriptionHead = "OCRで抽出されたメニュー: "
)

// Options tunes the payload and transport.
type Options struct {
	Table string
	// IncludeAllergens also sends the allergy_* fields.
	IncludeAllergens bool
	HTTPClient       *http.Client
	Timeout          time.Duration
}

// Client is a PostgREST-style record store (find / insert / patch on one table).
type Client struct {
	baseURL string
	key     string
	opts    Options
	client  *http.Client
	logger  *slog.Logger
}

var _ upsert.Store = (*Client)(nil)

// New returns ErrStoreNotConfigured for missing or placeholder credentials.
func New(cfg common.StoreConfig, opts Options, logger *slog.Logger) (*Client, error) {
	if !cfg.Configured() {
		return nil, common.NewAppError(common.CodeConfig, "STORE_URL and STORE_KEY must be set", common.ErrStoreNotConfigured)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Table == "" {
		opts.Table = cfg.Table
	}
	if opts.Table == "" {
		opts.Table = "products"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = cfg.Timeout
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		key:     cfg.Key,
		opts:    opts,
		client:  hc,
		logger:  logger,
	}, nil
}

func (c *Client) tableURL() string {
	return c.baseURL + "/rest/v1/" + url.PathEscape(c.opts.Table)
}

func (c *Client) headers(prefer string) map[string]string {
	h := map[string]string{
		"apikey":        c.key,
		"Authorization": "Bearer " + c.key,
		"Accept":        "application/json",
	}
	if prefer != "" {
		h["Prefer"] = prefer
	}
	return h
}

type row struct {
	ID          json.RawMessage `json:"id"`
	Name        string          `json:"name"`
	Brand       string          `json:"brand"`
	StoreRegion string          `json:"store_region"`
}

// Find looks a record up by name and brand, and by region when one is given.
func (c *Client) Find(ctx context.Context, id upsert.Identity) (string, bool, error) {
	conds := []string{"name.eq." + quote(id.Name), "brand.eq." + quote(id.Brand)}
	if id.Region != "" {
		conds = append(conds, "store_region.eq."+quote(id.Region))
	}
	q := url.Values{}
	q.Set("select", "id,name,brand,store_region")
	q.Set("and", "("+strings.Join(conds, ",")+")")
	q.Set("limit", "1")

	raw, _, err := sendJSON(ctx, c.client, http.MethodGet, c.tableURL()+"?"+q.Encode(), nil, c.headers(""), []int{http.StatusOK}, c.logger)
	if err != nil {
		return "", false, fmt.Errorf("find: %w", err)
	}
	var rows []row
	if err := json.Unmarshal(raw, &rows); err != nil {
		return "", false, fmt.Errorf("find: decode rows: %w", err)
	}
	if len(rows) == 0 {
		return "", false, nil
	}
	return rawID(rows[0].ID), true, nil
}

// Insert creates a record and returns its id.
func (c *Client) Insert(ctx context.Context, rec *normalize.Record) (string, error) {
	raw, _, err := sendJSON(ctx, c.client, http.MethodPost, c.tableURL(), c.payload(rec), c.headers("return=representation"),
		[]int{http.StatusOK, http.StatusCreated}, c.logger)
	if err != nil {
		return "", fmt.Errorf("insert: %w", err)
	}
	var rows []row
	if err := json.Unmarshal(raw, &rows); err != nil || len(rows) == 0 {
		// a store configured for return=minimal answers with an empty body
		return "", nil
	}
	return rawID(rows[0].ID), nil
}

// Patch overwrites the fields of record recordID.
func (c *Client) Patch(ctx context.Context, recordID string, rec *normalize.Record) error {
	q := url.Values{}
	q.Set("id", "eq."+recordID)
	_, _, err := sendJSON(ctx, c.client, http.MethodPatch, c.tableURL()+"?"+q.Encode(), c.payload(rec), c.headers("return=minimal"),
		[]int{http.StatusOK, http.StatusNoContent}, c.logger)
	if err != nil {
		return fmt.Errorf("patch: %w", err)
	}
	return nil
}

// payload maps a normalized record onto the products columns.
func (c *Client) payload(rec *normalize.Record) map[string]string {
	get := func(k string) string { v, _ := rec.Get(k); return v }

	source := get("source_file")
	if source == "" {
		source = get(normalize.FieldSourceURL)
	}
	p := map[string]string{
		"name":         get(normalize.FieldMenuName),
		"brand":        get(normalize.FieldStoreName),
		"category":     defaultCategory,
		"description":  descriptionHead + source,
		"source_url":   get(normalize.FieldSourceURL),
		"store_region": get(normalize.FieldStoreRegion),
		"store_url":    get(normalize.FieldStoreURL),
		"created_at":   get(normalize.FieldCreatedAt),
	}
	if c.opts.IncludeAllergens {
		for _, k := range rec.Keys() {
			if strings.HasPrefix(k, normalize.AllergyPrefix) {
				p[k] = get(k)
			}
		}
	}
	return p
}

// quote renders a PostgREST filter value, quoting reserved characters.
func quote(v string) string {
	if !strings.ContainsAny(v, `,.:()"\ `) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(v) + `"`
}

func rawID(b json.RawMessage) string {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(b))
}
