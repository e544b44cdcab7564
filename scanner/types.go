package scanner

import (
	"path/filepath"

	"imgcompare/logging"
)

// ScanOptions defines the options for scanning
type ScanOptions struct {
	FolderPath string
	// AllFiles keeps files without a recognised image extension
	AllFiles bool
	// Echo logs every entry found
	Echo   bool
	Logger *logging.Logger
}

// Entry is one file found by a scan
type Entry struct {
	Dir  string
	Name string
}

// Path joins the directory and the file name
func (e Entry) Path() string {
	return filepath.Join(e.Dir, e.Name)
}

// FileStats tracks information about the scanned files
type FileStats struct {
	TotalFiles int
	Images     int
	Skipped    int
	Errors     int
}

// Paths returns the full paths of the entries in order
func Paths(entries []Entry) []string {
	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = e.Path()
	}
	return paths
}
