package imageprocessor

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"gocv.io/x/gocv"

	"imgcompare/types"
)

// ImageLoaderRegistry keeps, per file extension, an ordered chain of loaders
// tried until one succeeds
type ImageLoaderRegistry struct {
	loaders map[string][]ImageLoader
	mutex   sync.RWMutex
}

// NewImageLoaderRegistry creates a registry with OpenCV as the primary
// decoder and the Go image packages as fallback
func NewImageLoaderRegistry() *ImageLoaderRegistry {
	registry := &ImageLoaderRegistry{
		loaders: make(map[string][]ImageLoader),
	}

	opencv := NewOpenCVLoader()
	goimage := NewGoImageLoader()

	for _, ext := range GetSupportedExtensions() {
		if GetFileFormat(ext) != FormatGIF {
			registry.RegisterLoader(ext, opencv)
		}
		registry.RegisterLoader(ext, goimage)
	}

	return registry
}

// RegisterLoader appends a loader to the chain for a file extension
func (r *ImageLoaderRegistry) RegisterLoader(ext string, loader ImageLoader) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	ext = strings.ToLower(ext)
	r.loaders[ext] = append(r.loaders[ext], loader)
}

// GetLoaders returns the loader chain for the given path
func (r *ImageLoaderRegistry) GetLoaders(path string) []ImageLoader {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.loaders[strings.ToLower(filepath.Ext(path))]
}

// CanLoadFile checks if any registered loader can handle the given file
func (r *ImageLoaderRegistry) CanLoadFile(path string) bool {
	for _, l := range r.GetLoaders(path) {
		if l.CanLoad(path) {
			return true
		}
	}
	return false
}

// LoadImage loads an image using the first loader of the chain that succeeds
func (r *ImageLoaderRegistry) LoadImage(path string) (gocv.Mat, error) {
	chain := r.GetLoaders(path)
	if len(chain) == 0 {
		return gocv.NewMat(), fmt.Errorf("%w: no suitable loader found for: %s", types.ErrImageLoad, path)
	}

	var errs []error
	for _, loader := range chain {
		if !loader.CanLoad(path) {
			continue
		}
		img, err := loader.LoadImage(path)
		if err == nil {
			return img, nil
		}
		img.Close()
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		return gocv.NewMat(), fmt.Errorf("%w: file not readable: %s", types.ErrImageLoad, path)
	}
	return gocv.NewMat(), errors.Join(errs...)
}
