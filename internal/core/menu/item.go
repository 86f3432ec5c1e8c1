package menu

import (
	"time"

	"github.com/joseph-ayodele/menu-allergens/constants"
)

// MenuItem is one segmented menu entry with a status for every taxonomy allergen.
type MenuItem struct {
	Name        string
	Allergens   map[string]constants.AllergenStatus
	SourceFile  string
	ExtractedAt time.Time
	// Extra carries non-allergen columns read from structured CSV input.
	Extra map[string]string
}

// NewMenuItem seeds every taxonomy allergen with NotPresent.
func NewMenuItem(name, source string, at time.Time) MenuItem {
	m := make(map[string]constants.AllergenStatus, constants.TaxonomySize())
	for _, a := range constants.Taxonomy() {
		m[a] = constants.NotPresent
	}
	return MenuItem{Name: name, Allergens: m, SourceFile: source, ExtractedAt: at}
}

// Status returns the allergen status, NotPresent when the map lacks the entry.
func (it MenuItem) Status(allergen string) constants.AllergenStatus {
	if st, ok := it.Allergens[allergen]; ok && st != constants.StatusRaw {
		return st
	}
	return constants.NotPresent
}

// Field exposes item fields by name for column mapping.
func (it MenuItem) Field(name string) (string, bool) {
	switch name {
	case "menu_name", "name", "メニュー名":
		return it.Name, true
	case "source_file":
		return it.SourceFile, true
	case "extracted_at":
		if it.ExtractedAt.IsZero() {
			return "", true
		}
		return it.ExtractedAt.UTC().Format(time.RFC3339), true
	}
	if st, ok := it.Allergens[name]; ok {
		return st.Symbol(), true
	}
	if v, ok := it.Extra[name]; ok {
		return v, true
	}
	return "", false
}
