package scanner

import (
	"fmt"

	"github.com/barasher/go-exiftool"

	"imgcompare/logging"
)

// ImageMeta holds the EXIF fields stored in the image catalog
type ImageMeta struct {
	Path      string
	MIMEType  string
	Width     int64
	Height    int64
	Make      string
	Model     string
	DateTaken string
}

// MetadataReader extracts EXIF metadata with the exiftool binary
type MetadataReader struct {
	et  *exiftool.Exiftool
	log *logging.Logger
}

// NewMetadataReader starts exiftool. It fails when the binary is missing.
func NewMetadataReader(log *logging.Logger) (*MetadataReader, error) {
	if log == nil {
		log = logging.Discard()
	}
	et, err := exiftool.NewExiftool()
	if err != nil {
		return nil, fmt.Errorf("exiftool unavailable: %w", err)
	}
	return &MetadataReader{et: et, log: log}, nil
}

// Read returns the metadata of every path in order. Files exiftool cannot
// read keep only their path.
func (r *MetadataReader) Read(paths []string) []ImageMeta {
	out := make([]ImageMeta, len(paths))
	if len(paths) == 0 {
		return out
	}

	for i, fm := range r.et.ExtractMetadata(paths...) {
		meta := ImageMeta{Path: paths[i]}
		if fm.Err != nil {
			r.log.Debug("exiftool %s: %v", paths[i], fm.Err)
			out[i] = meta
			continue
		}

		meta.MIMEType, _ = fm.GetString("MIMEType")
		meta.Width, _ = fm.GetInt("ImageWidth")
		meta.Height, _ = fm.GetInt("ImageHeight")
		meta.Make, _ = fm.GetString("Make")
		meta.Model, _ = fm.GetString("Model")
		meta.DateTaken, _ = fm.GetString("DateTimeOriginal")
		out[i] = meta
	}
	return out
}

// Close stops the exiftool process
func (r *MetadataReader) Close() error {
	return r.et.Close()
}
