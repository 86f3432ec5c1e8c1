package normalize

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/joseph-ayodele/menu-allergens/constants"
	"github.com/joseph-ayodele/menu-allergens/internal/core/menu"
)

// Output field names.
const (
	FieldMenuName    = "menu_name"
	FieldStoreName   = "store_name"
	FieldStoreRegion = "store_region"
	FieldSourceURL   = "source_url"
	FieldStoreURL    = "store_url"
	FieldCreatedAt   = "created_at"

	AllergyPrefix = "allergy_"
)

// AllergyField is the output field name of one allergen.
func AllergyField(allergen string) string { return AllergyPrefix + allergen }

// StoreInfo is the store/source metadata merged into every record.
type StoreInfo struct {
	StoreName   string `json:"storeName"`
	StoreRegion string `json:"storeRegion"`
	SourceURL   string `json:"sourceUrl"`
	StoreURL    string `json:"storeUrl"`
}

// Filters are inclusion filters. Within a kind any match keeps the record;
// configured kinds must all match.
type Filters struct {
	AllergyContains []string `json:"allergy_contains"`
	NameContains    []string `json:"menu_name_contains"`
}

// UnmarshalJSON takes each filter either as a plain list or wrapped as
// {"items": [...]} / {"keywords": [...]}.
func (f *Filters) UnmarshalJSON(b []byte) error {
	var raw struct {
		AllergyContains json.RawMessage `json:"allergy_contains"`
		NameContains    json.RawMessage `json:"menu_name_contains"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	allergy, err := filterTerms(raw.AllergyContains, "items")
	if err != nil {
		return fmt.Errorf("allergy_contains: %w", err)
	}
	names, err := filterTerms(raw.NameContains, "keywords")
	if err != nil {
		return fmt.Errorf("menu_name_contains: %w", err)
	}
	f.AllergyContains, f.NameContains = allergy, names
	return nil
}

func filterTerms(raw json.RawMessage, key string) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var wrapped map[string][]string
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, err
	}
	return wrapped[key], nil
}

// Options drive one normalization call.
type Options struct {
	// ColumnMapping copies item field source to record field target.
	ColumnMapping map[string]string
	// AllergenOrder overrides the allergen field order; missing taxonomy entries follow.
	AllergenOrder []string
	Store         StoreInfo
	Filters       Filters
}

// Normalizer turns parsed items into flat output records.
type Normalizer struct {
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Normalizer)

// WithClock fixes the created_at source.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(n *Normalizer) {
		if l != nil {
			n.logger = l
		}
	}
}

func New(opts ...Option) *Normalizer {
	n := &Normalizer{now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize builds one record per item surviving the filters, in input order.
func (n *Normalizer) Normalize(items []menu.MenuItem, o Options) []*Record {
	createdAt := n.now().UTC().Format(time.RFC3339)
	order := constants.EffectiveOrder(o.AllergenOrder)
	inOrder := make(map[string]struct{}, len(order))
	for _, a := range order {
		inOrder[a] = struct{}{}
	}
	mapping, reserved := sortedMapping(o.ColumnMapping)
	for _, m := range reserved {
		n.logger.Warn("normalize.mapping.reserved", "source", m.source, "target", m.target)
	}
	allergyFilter := filterAllergens(o.Filters.AllergyContains)
	nameFilter := lowerAll(o.Filters.NameContains)

	out := make([]*Record, 0, len(items))
	for _, it := range items {
		if !matchAllergy(it, allergyFilter) || !matchName(it.Name, nameFilter) {
			continue
		}

		r := NewRecord()
		r.Set(FieldMenuName, it.Name)
		r.Set(FieldStoreName, o.Store.StoreName)
		r.Set(FieldStoreRegion, o.Store.StoreRegion)
		r.Set(FieldSourceURL, o.Store.SourceURL)
		r.Set(FieldStoreURL, o.Store.StoreURL)
		r.Set(FieldCreatedAt, createdAt)

		for _, m := range mapping {
			if v, ok := it.Field(m.source); ok {
				r.Set(m.target, v)
			}
		}

		for _, a := range order {
			r.Set(AllergyField(a), it.Status(a).Symbol())
		}
		for _, a := range sortedKeys(it.Allergens) {
			if _, ok := inOrder[a]; !ok {
				r.Set(AllergyField(a), it.Status(a).Symbol())
			}
		}
		out = append(out, r)
	}

	n.logger.Debug("normalize.done", "items", len(items), "records", len(out), "mapped_columns", len(mapping))
	return out
}

type columnRule struct{ source, target string }

// sortedMapping fixes an application order for the rename map. Targets under
// the allergy_ prefix belong to the allergen columns and are returned as reserved.
func sortedMapping(m map[string]string) (rules, reserved []columnRule) {
	rules = make([]columnRule, 0, len(m))
	for s, t := range m {
		s, t = strings.TrimSpace(s), strings.TrimSpace(t)
		if s == "" || t == "" {
			continue
		}
		if strings.HasPrefix(t, AllergyPrefix) {
			reserved = append(reserved, columnRule{source: s, target: t})
			continue
		}
		rules = append(rules, columnRule{source: s, target: t})
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].source < rules[j].source })
	sort.Slice(reserved, func(i, j int) bool { return reserved[i].source < reserved[j].source })
	return rules, reserved
}

func sortedKeys(m map[string]constants.AllergenStatus) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func filterAllergens(in []string) []string {
	var out []string
	for _, a := range in {
		if a = strings.TrimPrefix(strings.TrimSpace(a), AllergyPrefix); a != "" {
			out = append(out, a)
		}
	}
	return out
}

func lowerAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func matchAllergy(it menu.MenuItem, allergens []string) bool {
	if len(allergens) == 0 {
		return true
	}
	for _, a := range allergens {
		if it.Status(a).Present() {
			return true
		}
	}
	return false
}

func matchName(name string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	lower := strings.ToLower(name)
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// Columns is the union of record keys in first-seen order.
func Columns(records []*Record) []string {
	seen := make(map[string]struct{})
	var cols []string
	for _, r := range records {
		for _, k := range r.keys {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				cols = append(cols, k)
			}
		}
	}
	return cols
}

// EncodeCSV writes records with a header of their columns.
func EncodeCSV(w io.Writer, records []*Record) error {
	cols := Columns(records)
	cw := csv.NewWriter(w)
	if err := cw.Write(cols); err != nil {
		return err
	}
	row := make([]string, len(cols))
	for _, r := range records {
		for i, c := range cols {
			row[i] = r.vals[c]
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
