package constants

import (
	"strings"
)

// AllergenStatus is the canonical declaration state of one allergen on one menu item.
type AllergenStatus int

const (
	// StatusRaw is the pass-through value of a token that has not been classified yet.
	StatusRaw AllergenStatus = iota
	NotPresent
	DirectlyContains
	CrossContamination
	Unused
)

// Display symbols written to CSV/records. Each one resolves back to its own status.
const (
	SymbolNotPresent         = "-"
	SymbolDirectlyContains   = "●"
	SymbolCrossContamination = "○"
	SymbolUnused             = "※"
)

func (s AllergenStatus) String() string {
	switch s {
	case NotPresent:
		return "NotPresent"
	case DirectlyContains:
		return "DirectlyContains"
	case CrossContamination:
		return "CrossContamination"
	case Unused:
		return "Unused"
	default:
		return "Raw"
	}
}

// Symbol returns the display symbol. Raw has none and renders as NotPresent.
func (s AllergenStatus) Symbol() string {
	switch s {
	case DirectlyContains:
		return SymbolDirectlyContains
	case CrossContamination:
		return SymbolCrossContamination
	case Unused:
		return SymbolUnused
	default:
		return SymbolNotPresent
	}
}

// Present reports whether the status signals the allergen in any form.
func (s AllergenStatus) Present() bool {
	return s == DirectlyContains || s == CrossContamination || s == Unused
}

// allergens is the 28-item taxonomy in its default display order.
var allergens = [...]string{
	"卵", "乳", "小麦", "えび", "かに", "そば", "落花生", "クルミ", "アーモンド", "あわび",
	"いか", "いくら", "オレンジ", "カシューナッツ", "キウイフルーツ", "牛肉", "ごま", "さけ", "さば", "大豆",
	"鶏肉", "バナナ", "豚肉", "もも", "やまいも", "りんご", "ゼラチン", "マカダミアナッツ",
}

var allergenSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(allergens))
	for _, a := range allergens {
		m[a] = struct{}{}
	}
	return m
}()

// Taxonomy returns a fresh copy of the default allergen order.
func Taxonomy() []string {
	out := make([]string, len(allergens))
	copy(out, allergens[:])
	return out
}

// TaxonomySize is the number of tracked allergens.
func TaxonomySize() int { return len(allergens) }

// IsAllergen reports whether name is one of the taxonomy entries.
func IsAllergen(name string) bool {
	_, ok := allergenSet[name]
	return ok
}

// ContainsAllergen reports whether s contains any taxonomy name as a substring.
func ContainsAllergen(s string) bool {
	for _, a := range allergens {
		if strings.Contains(s, a) {
			return true
		}
	}
	return false
}

// EffectiveOrder builds a new ordering from a per-request override: the override
// entries first (duplicates and blanks dropped), then any taxonomy entries the
// override left out, in taxonomy order. An empty override yields the taxonomy.
func EffectiveOrder(override []string) []string {
	if len(override) == 0 {
		return Taxonomy()
	}
	seen := make(map[string]struct{}, len(override)+len(allergens))
	out := make([]string, 0, len(override)+len(allergens))
	for _, name := range override {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	for _, a := range allergens {
		if _, ok := seen[a]; !ok {
			out = append(out, a)
		}
	}
	return out
}

type symbolRule struct {
	token  string
	status AllergenStatus
}

// symbolTable is checked in order; the first token found in the text wins.
var symbolTable = []symbolRule{
	{"●", DirectlyContains},
	{"○", CrossContamination},
	{"△", CrossContamination},
	{"※", Unused},
	{"-", NotPresent},
	{"－", NotPresent},
	{"×", NotPresent},
	{"なし", NotPresent},
	{"有", DirectlyContains},
	{"無", NotPresent},
}

var (
	containsKeywords = []string{"含有", "含む", "有", "direct", "contains"}
	traceKeywords    = []string{"微量", "コンタミネーション", "コンタミ", "混入", "trace"}
	unusedKeywords   = []string{"未使用", "unused"}
	absentKeywords   = []string{"none"}
)

// ResolveSymbol maps free-form declaration text onto a status: exact symbols
// first, then keyword fallback. ok is false when nothing matched.
func ResolveSymbol(text string) (AllergenStatus, bool) {
	if text == "" {
		return StatusRaw, false
	}
	for _, r := range symbolTable {
		if strings.Contains(text, r.token) {
			return r.status, true
		}
	}
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, containsKeywords):
		return DirectlyContains, true
	case containsAny(lower, traceKeywords):
		return CrossContamination, true
	case containsAny(lower, unusedKeywords):
		return Unused, true
	case containsAny(lower, absentKeywords):
		return NotPresent, true
	}
	return StatusRaw, false
}

// ParseStatus resolves a stored value (display symbol or keyword), defaulting to NotPresent.
func ParseStatus(value string) AllergenStatus {
	if st, ok := ResolveSymbol(strings.TrimSpace(value)); ok {
		return st
	}
	return NotPresent
}

// DeclarationGlyphs are the leading characters that mark a line as a declaration, never a name.
const DeclarationGlyphs = "●○△※-"

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
