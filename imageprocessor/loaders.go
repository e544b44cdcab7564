package imageprocessor

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"gocv.io/x/gocv"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"imgcompare/types"
)

// BaseImageLoader provides common functionality for all image loaders
type BaseImageLoader struct {
	// Formats this loader can handle
	SupportedFormats []FormatType
}

// CanLoad checks if this loader supports the file's format
func (l *BaseImageLoader) CanLoad(path string) bool {
	format := GetFileFormat(path)

	for _, supported := range l.SupportedFormats {
		if format == supported {
			return fileExists(path)
		}
	}

	return false
}

// OpenCVLoader decodes files with OpenCV
type OpenCVLoader struct {
	BaseImageLoader
}

// NewOpenCVLoader creates a loader for every format OpenCV reads natively
func NewOpenCVLoader() *OpenCVLoader {
	return &OpenCVLoader{
		BaseImageLoader: BaseImageLoader{
			SupportedFormats: []FormatType{
				FormatJPEG,
				FormatPNG,
				FormatTIFF,
				FormatBMP,
				FormatWEBP,
			},
		},
	}
}

// LoadImage reads the file as a 3-channel BGR image
func (l *OpenCVLoader) LoadImage(path string) (gocv.Mat, error) {
	img := gocv.IMRead(path, gocv.IMReadColor)
	if img.Empty() {
		img.Close()
		return gocv.NewMat(), newImageLoadError("opencv could not decode", path)
	}
	return img, nil
}

// GoImageLoader decodes files with the Go image packages. It covers GIF,
// which OpenCV cannot read, and files OpenCV rejects.
type GoImageLoader struct {
	BaseImageLoader
}

// NewGoImageLoader creates a loader backed by image.Decode
func NewGoImageLoader() *GoImageLoader {
	return &GoImageLoader{
		BaseImageLoader: BaseImageLoader{
			SupportedFormats: []FormatType{
				FormatJPEG,
				FormatPNG,
				FormatGIF,
				FormatTIFF,
				FormatBMP,
				FormatWEBP,
			},
		},
	}
}

// LoadImage decodes the first frame of the file into a BGR Mat
func (l *GoImageLoader) LoadImage(path string) (gocv.Mat, error) {
	f, err := os.Open(path)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("%w: %v", types.ErrImageLoad, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return gocv.NewMat(), newImageLoadError(fmt.Sprintf("decode failed (%v)", err), path)
	}

	return gocvMatFromGoImage(img)
}

// gocvMatFromGoImage converts a Go image to a BGR Mat
func gocvMatFromGoImage(img image.Image) (gocv.Mat, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return gocv.NewMat(), fmt.Errorf("%w: empty image", types.ErrImageLoad)
	}

	rgba := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)

	bgr := make([]byte, width*height*3)
	for i, j := 0, 0; i < len(rgba.Pix); i, j = i+4, j+3 {
		bgr[j] = rgba.Pix[i+2]
		bgr[j+1] = rgba.Pix[i+1]
		bgr[j+2] = rgba.Pix[i]
	}

	mat, err := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC3, bgr)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("%w: %v", types.ErrImageLoad, err)
	}
	// NewMatFromBytes shares the Go buffer; clone so the Mat owns its data
	owned := mat.Clone()
	mat.Close()
	return owned, nil
}

// fileExists checks if a file exists and is accessible
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// newImageLoadError creates a standardized error for image loading failures
func newImageLoadError(message, path string) error {
	return fmt.Errorf("%w: %s: %s", types.ErrImageLoad, message, path)
}
