package menu

import (
	"log/slog"
	"time"
)

// Parser segments a line stream into menu items.
type Parser struct {
	now    func() time.Time
	logger *slog.Logger
}

// ParserOption customizes a Parser.
type ParserOption func(*Parser)

// WithClock fixes the extraction timestamp source.
func WithClock(now func() time.Time) ParserOption {
	return func(p *Parser) { p.now = now }
}

// WithLogger sets the parser logger.
func WithLogger(l *slog.Logger) ParserOption {
	return func(p *Parser) {
		if l != nil {
			p.logger = l
		}
	}
}

func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Stats counts line classifications of one Parse call.
type Stats struct {
	Lines        int
	NewItems     int
	Declarations int
	Orphans      int // declarations seen before any item
	Ignored      int
}

// Parse walks the lines once. It never fails: unusable lines are dropped and a
// stream with no item names yields an empty list.
func (p *Parser) Parse(lines []string, source string) []MenuItem {
	items, _ := p.ParseWithStats(lines, source)
	return items
}

// ParseWithStats is Parse plus per-kind line counts.
func (p *Parser) ParseWithStats(lines []string, source string) ([]MenuItem, Stats) {
	at := p.now()
	st := Stats{Lines: len(lines)}
	items := make([]MenuItem, 0)

	var current *MenuItem
	for _, line := range lines {
		c := Classify(line)
		switch c.Kind {
		case NewItem:
			if current != nil {
				items = append(items, *current)
			}
			it := NewMenuItem(c.Name, source, at)
			current = &it
			st.NewItems++
		case AllergenDeclaration:
			if current == nil {
				st.Orphans++
				continue
			}
			for _, d := range c.Declarations {
				if d.Resolved {
					current.Allergens[d.Allergen] = d.Status
				}
			}
			st.Declarations++
		default:
			st.Ignored++
		}
	}
	if current != nil {
		items = append(items, *current)
	}

	p.logger.Debug("menu.parse.done",
		"source", source,
		"lines", st.Lines,
		"items", len(items),
		"declarations", st.Declarations,
		"orphans", st.Orphans,
		"ignored", st.Ignored,
	)
	return items, st
}
