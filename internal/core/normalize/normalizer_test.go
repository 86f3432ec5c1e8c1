package normalize

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/menu-allergens/constants"
	"github.com/joseph-ayodele/menu-allergens/internal/core/menu"
)

var fixedAt = time.Date(2024, 5, 1, 9, 30, 0, 0, time.FixedZone("JST", 9*3600))

func item(name string, statuses map[string]constants.AllergenStatus) menu.MenuItem {
	it := menu.NewMenuItem(name, "menu.pdf", fixedAt)
	for a, st := range statuses {
		it.Allergens[a] = st
	}
	return it
}

func newTestNormalizer() *Normalizer {
	return New(WithClock(func() time.Time { return fixedAt }))
}

func TestNormalizeRecordLayout(t *testing.T) {
	items := []menu.MenuItem{item("牛丼（並盛）", map[string]constants.AllergenStatus{"牛肉": constants.DirectlyContains})}
	recs := newTestNormalizer().Normalize(items, Options{
		ColumnMapping: map[string]string{"menu_name": "name", "source_file": "origin", "unknown": "ignored"},
		Store:         StoreInfo{StoreName: "すき家", StoreRegion: "関東", SourceURL: "https://example.com/menu.pdf", StoreURL: "https://example.com"},
	})
	require.Len(t, recs, 1)
	r := recs[0]

	keys := r.Keys()
	require.Equal(t, []string{"menu_name", "store_name", "store_region", "source_url", "store_url", "created_at", "name", "origin"}, keys[:8])
	require.Len(t, keys, 8+constants.TaxonomySize())
	require.Equal(t, "allergy_卵", keys[8])
	require.Equal(t, "allergy_マカダミアナッツ", keys[len(keys)-1])

	v, _ := r.Get("created_at")
	require.Equal(t, "2024-05-01T00:30:00Z", v)
	v, _ = r.Get("name")
	require.Equal(t, "牛丼（並盛）", v)
	v, _ = r.Get("origin")
	require.Equal(t, "menu.pdf", v)
	v, _ = r.Get("allergy_牛肉")
	require.Equal(t, "●", v)
	v, _ = r.Get("allergy_卵")
	require.Equal(t, "-", v)
	_, ok := r.Get("ignored")
	require.False(t, ok)
}

func TestNormalizeAllergenOrderOverride(t *testing.T) {
	it := item("パフェ", nil)
	it.Allergens["ココナッツ"] = constants.CrossContamination
	delete(it.Allergens, "乳")

	recs := newTestNormalizer().Normalize([]menu.MenuItem{it}, Options{AllergenOrder: []string{"バナナ", "乳", "バナナ"}})
	keys := recs[0].Keys()
	allergy := keys[6:]
	require.Equal(t, []string{"allergy_バナナ", "allergy_乳", "allergy_卵"}, allergy[:3])
	require.Equal(t, "allergy_ココナッツ", allergy[len(allergy)-1])
	require.Len(t, allergy, constants.TaxonomySize()+1)

	v, _ := recs[0].Get("allergy_乳")
	require.Equal(t, "-", v, "missing map entries default to NotPresent")
	v, _ = recs[0].Get("allergy_ココナッツ")
	require.Equal(t, "○", v)

	// the shared default order is untouched
	require.Equal(t, "卵", constants.Taxonomy()[0])
}

func TestNormalizeMappingCannotTargetAllergenColumns(t *testing.T) {
	items := []menu.MenuItem{item("オムライス", map[string]constants.AllergenStatus{"卵": constants.DirectlyContains})}
	recs := newTestNormalizer().Normalize(items, Options{
		ColumnMapping: map[string]string{"menu_name": "allergy_卵", "source_file": "origin"},
	})
	require.Len(t, recs, 1)

	v, _ := recs[0].Get("allergy_卵")
	require.Equal(t, "●", v)
	v, _ = recs[0].Get("origin")
	require.Equal(t, "menu.pdf", v)
	require.Len(t, recs[0].Keys(), 7+constants.TaxonomySize())
}

func TestNormalizeFilters(t *testing.T) {
	items := []menu.MenuItem{
		item("Beef Curry", map[string]constants.AllergenStatus{"小麦": constants.DirectlyContains}),
		item("Beef Salad", nil),
		item("Pork Curry", map[string]constants.AllergenStatus{"小麦": constants.CrossContamination}),
		item("Tofu Bowl", map[string]constants.AllergenStatus{"大豆": constants.Unused}),
	}
	names := func(recs []*Record) []string {
		var out []string
		for _, r := range recs {
			v, _ := r.Get(FieldMenuName)
			out = append(out, v)
		}
		return out
	}
	n := newTestNormalizer()

	got := n.Normalize(items, Options{Filters: Filters{AllergyContains: []string{"allergy_小麦", "大豆"}}})
	require.Equal(t, []string{"Beef Curry", "Pork Curry", "Tofu Bowl"}, names(got))

	got = n.Normalize(items, Options{Filters: Filters{NameContains: []string{"beef", "TOFU"}}})
	require.Equal(t, []string{"Beef Curry", "Beef Salad", "Tofu Bowl"}, names(got))

	// both kinds configured: each record must satisfy both
	got = n.Normalize(items, Options{Filters: Filters{AllergyContains: []string{"小麦"}, NameContains: []string{"beef"}}})
	require.Equal(t, []string{"Beef Curry"}, names(got))

	require.Len(t, n.Normalize(items, Options{}), 4)
	require.Empty(t, n.Normalize(nil, Options{}))
}

func TestFiltersAcceptListOrWrapped(t *testing.T) {
	var plain, wrapped Filters
	require.NoError(t, json.Unmarshal([]byte(`{"allergy_contains":["卵"],"menu_name_contains":["丼"]}`), &plain))
	require.NoError(t, json.Unmarshal([]byte(`{"allergy_contains":{"items":["卵"]},"menu_name_contains":{"keywords":["丼"]}}`), &wrapped))
	require.Equal(t, Filters{AllergyContains: []string{"卵"}, NameContains: []string{"丼"}}, plain)
	require.Equal(t, plain, wrapped)

	var empty Filters
	require.NoError(t, json.Unmarshal([]byte(`{"allergy_contains":null}`), &empty))
	require.Empty(t, empty.AllergyContains)

	require.Error(t, json.Unmarshal([]byte(`{"allergy_contains":"卵"}`), &empty))
}

func TestRecordsCSVRoundTrip(t *testing.T) {
	items := []menu.MenuItem{
		item("牛丼（並盛）", map[string]constants.AllergenStatus{"牛肉": constants.DirectlyContains, "大豆": constants.CrossContamination}),
		item("サラダ", map[string]constants.AllergenStatus{"ごま": constants.Unused}),
	}
	recs := newTestNormalizer().Normalize(items, Options{Store: StoreInfo{StoreName: "店"}})

	var buf bytes.Buffer
	require.NoError(t, EncodeCSV(&buf, recs))

	back, err := menu.ParseCSV(buf.Bytes(), "records.csv", fixedAt)
	require.NoError(t, err)
	require.Len(t, back, 2)
	for i := range items {
		require.Equal(t, items[i].Name, back[i].Name)
		require.Equal(t, items[i].Allergens, back[i].Allergens)
	}
	require.Equal(t, "店", back[0].Extra["store_name"])
}

func TestRecordJSONKeepsOrder(t *testing.T) {
	r := NewRecord()
	r.Set("z", "1")
	r.Set("a", "\"q\"")
	r.Set("z", "2")
	b, err := json.Marshal(r)
	require.NoError(t, err)
	require.JSONEq(t, `{"z":"2","a":"\"q\""}`, string(b))
	require.Equal(t, `{"z":"2","a":"\"q\""}`, string(b))

	sel := r.Select([]string{"a", "missing"})
	require.Equal(t, []string{"a"}, sel.Keys())
}
