package ocr

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	reCRLF       = regexp.MustCompile(`\r\n?`)
	reTabs       = regexp.MustCompile(`\t+`)
	reMultiSpace = regexp.MustCompile(`[ \x{3000}]{2,}`)
	reBoxNoise   = regexp.MustCompile(`^[\s_\-=|─━]{3,}$`)
	rePageMarker = regexp.MustCompile(`^-{2,}\s*(ページ|page)\s*\d+\s*-{2,}$`)
)

// Normalize composes the text to NFC and collapses noisy whitespace.
// Line breaks are kept; form feeds become line breaks.
func Normalize(s string) string {
	if s == "" {
		return s
	}
	s = norm.NFC.String(s)
	s = reCRLF.ReplaceAllString(s, "\n")
	s = strings.ReplaceAll(s, "\f", "\n")
	s = reTabs.ReplaceAllString(s, " ")
	s = reMultiSpace.ReplaceAllString(s, " ")
	return s
}

// Lines normalizes s and splits it into trimmed, non-empty lines.
// Page markers and ruler lines are dropped.
func Lines(s string) []string {
	s = Normalize(s)
	if s == "" {
		return nil
	}
	raw := strings.Split(s, "\n")
	out := make([]string, 0, len(raw))
	for _, ln := range raw {
		ln = strings.TrimSpace(ln)
		if ln == "" || reBoxNoise.MatchString(ln) || rePageMarker.MatchString(strings.ToLower(ln)) {
			continue
		}
		out = append(out, ln)
	}
	return out
}
