package imageprocessor

import (
	"fmt"

	"gocv.io/x/gocv"

	"imgcompare/types"
)

// ToMat copies a canonical image into a BGR Mat. Grayscale and BGRA images
// are converted to three channels.
func ToMat(img types.Image) (gocv.Mat, error) {
	if err := img.Validate(); err != nil {
		return gocv.Mat{}, err
	}

	var matType gocv.MatType
	switch img.Channels {
	case 1:
		matType = gocv.MatTypeCV8UC1
	case 3:
		matType = gocv.MatTypeCV8UC3
	case 4:
		matType = gocv.MatTypeCV8UC4
	default:
		return gocv.Mat{}, fmt.Errorf("%w: unsupported channel count %d", types.ErrMalformedImage, img.Channels)
	}

	mat, err := gocv.NewMatFromBytes(img.Height, img.Width, matType, img.Pix)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("%w: %v", types.ErrMalformedImage, err)
	}

	if img.Channels == 3 {
		return mat, nil
	}

	bgr := gocv.NewMat()
	code := gocv.ColorGrayToBGR
	if img.Channels == 4 {
		code = gocv.ColorBGRAToBGR
	}
	gocv.CvtColor(mat, &bgr, code)
	mat.Close()
	return bgr, nil
}

// FromMat copies an 8-bit Mat into a canonical image
func FromMat(m gocv.Mat) (types.Image, error) {
	if m.Empty() {
		return types.Image{}, fmt.Errorf("%w: empty mat", types.ErrImageLoad)
	}
	switch m.Type() {
	case gocv.MatTypeCV8UC1, gocv.MatTypeCV8UC3, gocv.MatTypeCV8UC4:
	default:
		return types.Image{}, fmt.Errorf("%w: unsupported mat type %v", types.ErrImageLoad, m.Type())
	}

	src := m
	if !m.IsContinuous() {
		src = m.Clone()
		defer src.Close()
	}

	img := types.Image{
		Width:    src.Cols(),
		Height:   src.Rows(),
		Channels: src.Channels(),
		Pix:      src.ToBytes(),
	}
	return img, img.Validate()
}
