package menu

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/joseph-ayodele/menu-allergens/constants"
)

// MenuNameColumn is the first header cell of exported CSVs.
const MenuNameColumn = "menu_name"

// allergyFieldPrefix prefixes allergen columns of normalized records.
const allergyFieldPrefix = "allergy_"

// Keywords identifying the menu-name column, in priority order.
var menuColumnKeywords = []string{"menu", "メニュー", "商品", "name", "名前"}

// ErrEmptyCSV is returned for input without a header row.
var ErrEmptyCSV = errors.New("csv has no header row")

// Table is a CSV with its menu-name and allergen columns located.
type Table struct {
	Header    []string
	Rows      [][]string
	NameCol   int
	Allergens map[int]string // column index -> taxonomy name
}

// ReadTable parses CSV text and locates the menu-name and allergen columns.
// Allergen headers may be bare taxonomy names or allergy_<name>.
func ReadTable(data []byte) (*Table, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyCSV
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	t := &Table{Header: header, Allergens: make(map[int]string)}
	for i, h := range header {
		name := strings.TrimPrefix(strings.TrimSpace(h), allergyFieldPrefix)
		if constants.IsAllergen(name) {
			t.Allergens[i] = name
		}
	}
	t.NameCol = nameColumn(header, t.Allergens)

	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row %d: %w", len(t.Rows)+2, err)
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func nameColumn(header []string, allergenCols map[int]string) int {
	for i, h := range header {
		h = strings.TrimSpace(h)
		if h == MenuNameColumn || h == "メニュー名" {
			return i
		}
	}
	for _, kw := range menuColumnKeywords {
		for i, h := range header {
			if _, isAllergen := allergenCols[i]; isAllergen {
				continue
			}
			if strings.Contains(strings.ToLower(h), kw) {
				return i
			}
		}
	}
	return 0
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// Name returns the menu-name cell of row.
func (t *Table) Name(row []string) string { return cell(row, t.NameCol) }

// ParseCSV builds items straight from a structured CSV. Rows without a name are
// skipped; blank allergen cells mean NotPresent.
func ParseCSV(data []byte, source string, at time.Time) ([]MenuItem, error) {
	t, err := ReadTable(data)
	if err != nil {
		return nil, err
	}
	items := make([]MenuItem, 0, len(t.Rows))
	for _, row := range t.Rows {
		name := t.Name(row)
		if name == "" {
			continue
		}
		it := NewMenuItem(name, source, at)
		for i, h := range t.Header {
			if i == t.NameCol {
				continue
			}
			if a, ok := t.Allergens[i]; ok {
				it.Allergens[a] = constants.ParseStatus(cell(row, i))
				continue
			}
			if it.Extra == nil {
				it.Extra = make(map[string]string)
			}
			it.Extra[strings.TrimSpace(h)] = cell(row, i)
		}
		items = append(items, it)
	}
	return items, nil
}

// EncodeCSV writes menu_name plus one column per allergen in order, with
// display symbols as values. A nil order uses the taxonomy.
func EncodeCSV(w io.Writer, items []MenuItem, order []string) error {
	if order == nil {
		order = constants.Taxonomy()
	}
	cw := csv.NewWriter(w)
	header := append([]string{MenuNameColumn}, order...)
	if err := cw.Write(header); err != nil {
		return err
	}
	row := make([]string, len(header))
	for _, it := range items {
		row[0] = it.Name
		for i, a := range order {
			row[i+1] = it.Status(a).Symbol()
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
