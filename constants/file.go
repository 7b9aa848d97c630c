package constants

import "strings"

// Upload limits for single and batch submission.
const (
	MaxFileSizeBytes = 10 << 20 // 10 MiB per file
	MaxBatchFiles    = 20
)

// ImageExtensions holds the accepted raster image extensions (lowercase, no dot).
var ImageExtensions = map[string]struct{}{
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"gif":  {},
	"bmp":  {},
	"tiff": {},
	"webp": {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// IsPDF reports whether ext names a PDF file.
func IsPDF(ext string) bool {
	return NormalizeExt(ext) == "pdf"
}

// IsImage reports whether ext names a supported image file.
func IsImage(ext string) bool {
	_, ok := ImageExtensions[NormalizeExt(ext)]
	return ok
}

// AllowedExt reports whether ext is ingestible at all.
func AllowedExt(ext string) bool {
	return IsPDF(ext) || IsImage(ext)
}
