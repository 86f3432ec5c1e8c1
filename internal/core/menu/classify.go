package menu

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/joseph-ayodele/menu-allergens/constants"
)

// LineKind tags the outcome of classifying one line.
type LineKind int

const (
	Ignored LineKind = iota
	NewItem
	AllergenDeclaration
)

func (k LineKind) String() string {
	switch k {
	case NewItem:
		return "NewItem"
	case AllergenDeclaration:
		return "AllergenDeclaration"
	default:
		return "Ignored"
	}
}

// Declaration is one allergen mention inside a declaration line.
type Declaration struct {
	Allergen string
	RawToken string // text between this allergen name and the next one
	Status   constants.AllergenStatus
	Resolved bool // false leaves the item's status unchanged
}

// LineClassification is the decision for a single line.
type LineClassification struct {
	Kind         LineKind
	Name         string        // NewItem
	Declarations []Declaration // AllergenDeclaration
}

// minNameRunes: item names must be longer than this.
const minNameRunes = 2

var (
	currencyMarkers = []string{"円", "¥", "￥"}
	calorieMarkers  = []string{"kcal", "カロリー"}
)

// Classify decides what a single line means. Lines mentioning any taxonomy
// allergen are always declarations, so they can never open an item.
func Classify(line string) LineClassification {
	line = strings.TrimSpace(line)
	if line == "" {
		return LineClassification{Kind: Ignored}
	}
	if decls := declarations(line); len(decls) > 0 {
		return LineClassification{Kind: AllergenDeclaration, Declarations: decls}
	}
	if isItemName(line) {
		return LineClassification{Kind: NewItem, Name: line}
	}
	return LineClassification{Kind: Ignored}
}

type mention struct {
	allergen string
	pos      int
}

// declarations resolves each allergen on its own segment of the line, falling
// back to the whole line when the segment carries no symbol or keyword.
func declarations(line string) []Declaration {
	var ms []mention
	for _, a := range constants.Taxonomy() {
		if i := strings.Index(line, a); i >= 0 {
			ms = append(ms, mention{allergen: a, pos: i})
		}
	}
	if len(ms) == 0 {
		return nil
	}
	sort.SliceStable(ms, func(i, j int) bool { return ms[i].pos < ms[j].pos })

	out := make([]Declaration, 0, len(ms))
	for i, m := range ms {
		start := m.pos + len(m.allergen)
		end := len(line)
		if i+1 < len(ms) && ms[i+1].pos >= start {
			end = ms[i+1].pos
		}
		seg := ""
		if start < end {
			seg = strings.TrimSpace(line[start:end])
		}
		st, ok := constants.ResolveSymbol(seg)
		if !ok {
			st, ok = constants.ResolveSymbol(line)
		}
		out = append(out, Declaration{Allergen: m.allergen, RawToken: seg, Status: st, Resolved: ok})
	}
	return out
}

func isItemName(line string) bool {
	if utf8.RuneCountInString(line) <= minNameRunes {
		return false
	}
	if first, _ := utf8.DecodeRuneInString(line); strings.ContainsRune(constants.DeclarationGlyphs, first) {
		return false
	}
	if isNumeric(line) {
		return false
	}
	lower := strings.ToLower(line)
	for _, m := range currencyMarkers {
		if strings.Contains(line, m) {
			return false
		}
	}
	for _, m := range calorieMarkers {
		if strings.Contains(lower, m) {
			return false
		}
	}
	return !constants.ContainsAllergen(line)
}

// isNumeric reports a line made only of digits and number punctuation.
func isNumeric(s string) bool {
	digits := 0
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digits++
		case unicode.IsSpace(r), r == ',', r == '.', r == '，', r == '．':
		default:
			return false
		}
	}
	return digits > 0
}
