// Package scanner enumerates the image files of a dataset directory
package scanner

import (
	"io/fs"
	"path/filepath"

	"imgcompare/imageprocessor"
	"imgcompare/logging"
)

// ScanDirectory walks the folder recursively in lexical order and returns the
// image files found. Unreadable paths are logged and skipped, so the result
// is a best-effort listing.
func ScanDirectory(options ScanOptions) ([]Entry, FileStats) {
	log := options.Logger
	if log == nil {
		log = logging.Discard()
	}

	var entries []Entry
	stats := FileStats{}

	err := filepath.WalkDir(options.FolderPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			stats.Errors++
			log.Printf(logging.TagFail, "Error accessing path %s: %v", path, err)
			if d != nil && d.IsDir() && path != options.FolderPath {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		stats.TotalFiles++
		if !options.AllFiles && !imageprocessor.IsImageFile(path) {
			stats.Skipped++
			log.Debug("skipping non-image file %s", path)
			return nil
		}

		e := Entry{Dir: filepath.Dir(path), Name: d.Name()}
		entries = append(entries, e)
		stats.Images++
		if options.Echo {
			log.Printf(logging.TagLog, "%s - - - %s", e.Dir, e.Name)
		}
		return nil
	})
	if err != nil {
		stats.Errors++
		log.Printf(logging.TagFail, "Directory scan error: %v", err)
	}

	if stats.Images == 0 {
		log.Printf(logging.TagWarning, "No images found in %s", options.FolderPath)
	} else {
		log.Debug("scan of %s: %d images, %d skipped, %d errors",
			options.FolderPath, stats.Images, stats.Skipped, stats.Errors)
	}

	return entries, stats
}
