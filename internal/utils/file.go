package utils

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// imageExtensions are the formats the pipeline can decode
var imageExtensions = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "webp": true,
	"gif": true, "bmp": true, "tiff": true,
}

// EnsureDir creates the directory path if it is missing
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// FileExists checks if a file exists and is not a directory
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// Extension returns the lowercased file extension without the dot
func Extension(path string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return ""
	}
	return strings.ToLower(ext[1:])
}

// IsImageFile checks if a path has a decodable image extension
func IsImageFile(path string) bool {
	return imageExtensions[Extension(path)]
}

// ListImageFiles recursively lists all image files in a directory, sorted by
// the walk order
func ListImageFiles(dir string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsImageFile(path) {
			files = append(files, path)
		}
		return nil
	})

	return files, err
}

// OutputFilename derives a composite filename from a body photo name and the
// configured output settings: prefix + base name + suffix + format
func OutputFilename(bodyPath, outputDir, prefix, suffix, format string) string {
	base := filepath.Base(bodyPath)
	name := strings.TrimSuffix(base, filepath.Ext(base))

	if format == "" {
		format = Extension(bodyPath)
		if format == "" {
			format = "jpg"
		}
	}

	return filepath.Join(outputDir, fmt.Sprintf("%s%s%s.%s", prefix, name, suffix, format))
}
