// Package utils holds small file helpers shared by the CLI and the stages.
package utils

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// UploadExtensions are the file extensions accepted for scans.
var UploadExtensions = []string{"jpg", "jpeg", "png"}

// EnsureDir creates dir and its parents when missing.
func EnsureDir(dir string) error {
	if DirExists(dir) {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}

// GetFileExtension returns the lower-cased extension without the dot
func GetFileExtension(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

// HasExtension reports whether filename ends in one of the allowed
// extensions, compared case-insensitively.
func HasExtension(filename string, allowed []string) bool {
	ext := GetFileExtension(filename)
	if ext == "" {
		return false
	}
	for _, a := range allowed {
		if strings.EqualFold(ext, strings.TrimPrefix(a, ".")) {
			return true
		}
	}
	return false
}

// IsUploadFile checks if a file has an accepted upload extension
func IsUploadFile(filename string) bool {
	return HasExtension(filename, UploadExtensions)
}

// ArtifactPath names the file of one scan artifact, e.g.
// out/<scan>_roi.jpg.
func ArtifactPath(outputDir, scanID, artifact, format string) string {
	if format == "" {
		format = "png"
	}
	name := fmt.Sprintf("%s_%s.%s", SanitizeFilename(scanID), artifact, strings.ToLower(format))
	return filepath.Join(outputDir, name)
}

// ScanIDFromPath derives a readable scan ID from an upload path.
func ScanIDFromPath(path string) string {
	base := filepath.Base(path)
	return SanitizeFilename(strings.TrimSuffix(base, filepath.Ext(base)))
}

// ListUploadFiles walks dir and returns every upload candidate, sorted.
func ListUploadFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsUploadFile(path) {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

// FileExists checks if a file exists and is not a directory
func FileExists(filename string) bool {
	info, err := os.Stat(filename)
	return err == nil && !info.IsDir()
}

// DirExists checks if a directory exists
func DirExists(dirname string) bool {
	info, err := os.Stat(dirname)
	return err == nil && info.IsDir()
}

// SanitizeFilename replaces path separators and reserved characters with
// underscores and trims surrounding spaces and dots.
func SanitizeFilename(filename string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "*", "_", "?", "_", "\"", "_", "<", "_", ">", "_", "|", "_")
	return strings.Trim(r.Replace(filename), " .")
}

// Megabytes converts a byte count to binary megabytes.
func Megabytes(size int64) float64 {
	return float64(size) / (1024 * 1024)
}

// FormatFileSize renders a byte count with a binary unit, e.g. "1.5 MB".
func FormatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
