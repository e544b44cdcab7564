// Package features extracts local feature descriptors for the retrieval index
package features

import (
	"fmt"

	"gocv.io/x/gocv"

	"imgcompare/imageprocessor"
	"imgcompare/types"
)

// SIFT extracts 128-dimensional SIFT descriptors from the grayscale version of
// an image. A new detector is created per call so one SIFT value can serve
// several goroutines.
type SIFT struct{}

// NewSIFT creates a SIFT extractor
func NewSIFT() *SIFT {
	return &SIFT{}
}

// Extract returns one descriptor per detected keypoint. An image without
// keypoints yields an empty slice and no error.
func (s *SIFT) Extract(img types.Image) ([][]float32, error) {
	src, err := imageprocessor.ToMat(img)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)

	detector := gocv.NewSIFT()
	defer detector.Close()

	mask := gocv.NewMat()
	defer mask.Close()

	_, desc := detector.DetectAndCompute(gray, mask)
	defer desc.Close()

	if desc.Empty() {
		return nil, nil
	}
	if desc.Type() != gocv.MatTypeCV32F {
		return nil, fmt.Errorf("%w: unexpected descriptor type %v", types.ErrDescriptorExtraction, desc.Type())
	}

	out := make([][]float32, desc.Rows())
	for r := range out {
		row := make([]float32, desc.Cols())
		for c := range row {
			row[c] = desc.GetFloatAt(r, c)
		}
		out[r] = row
	}
	return out, nil
}
