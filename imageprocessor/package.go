// Package imageprocessor decodes image files and canonicalizes them into the
// fixed-shape buffers consumed by the comparison and retrieval engines.
package imageprocessor

import "gocv.io/x/gocv"

// ImageLoader is the interface that all image loaders must implement
type ImageLoader interface {
	// CanLoad checks if the loader can handle the given file
	CanLoad(path string) bool

	// LoadImage decodes the file into a BGR Mat owned by the caller
	LoadImage(path string) (gocv.Mat, error)
}
