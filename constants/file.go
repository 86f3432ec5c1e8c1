package constants

import "strings"

// InputKind is the declared kind of a document handed to the extraction adapter.
type InputKind string

const (
	KindImage   InputKind = "image"
	KindPDF     InputKind = "pdf"
	KindCSVText InputKind = "csv_text"
)

// AllowedExtensions holds the file extensions the batch tool and uploads accept.
var AllowedExtensions = map[string]struct{}{
	"pdf":  {},
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"heic": {},
	"heif": {},
	"csv":  {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// IsAllowedExt reports whether ext (with or without dot) is accepted.
func IsAllowedExt(ext string) bool {
	_, ok := AllowedExtensions[NormalizeExt(ext)]
	return ok
}

// IsHEICExt reports whether ext names a HEIC/HEIF image.
func IsHEICExt(ext string) bool {
	e := NormalizeExt(ext)
	return e == "heic" || e == "heif"
}

// MapExtToKind maps an extension onto an input kind; "" when unsupported.
func MapExtToKind(ext string) InputKind {
	switch NormalizeExt(ext) {
	case "pdf":
		return KindPDF
	case "jpg", "jpeg", "png", "heic", "heif":
		return KindImage
	case "csv":
		return KindCSVText
	default:
		return ""
	}
}

// ParseKind accepts a kind tag from a request.
func ParseKind(s string) (InputKind, bool) {
	switch InputKind(strings.ToLower(strings.TrimSpace(s))) {
	case KindImage:
		return KindImage, true
	case KindPDF:
		return KindPDF, true
	case KindCSVText:
		return KindCSVText, true
	}
	return "", false
}
