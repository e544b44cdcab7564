package similarity

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imgcompare/types"
)

func randomImage(rng *rand.Rand, w, h, c int) types.Image {
	pix := make([]uint8, w*h*c)
	for i := range pix {
		pix[i] = uint8(rng.Intn(256))
	}
	return types.Image{Width: w, Height: h, Channels: c, Pix: pix}
}

// degrade brightens the first n samples, producing increasingly different copies
func degrade(img types.Image, n int) types.Image {
	out := types.Image{Width: img.Width, Height: img.Height, Channels: img.Channels, Pix: append([]uint8(nil), img.Pix...)}
	for i := 0; i < n && i < len(out.Pix); i++ {
		out.Pix[i] = 255 - out.Pix[i]/2
	}
	return out
}

func TestParse(t *testing.T) {
	for _, name := range []string{"pix2pix", "mae", "mse", "nrmse", "ssim", "psnr", "nmi"} {
		s, err := Parse(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, s.Name)
		assert.NotNil(t, s.Fn)
	}

	_, err := Parse("euclid")
	assert.ErrorIs(t, err, types.ErrInvalidStrategy)
	assert.Len(t, All(), 7)
}

func TestIdenticalImagesHitBestValue(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	img := randomImage(rng, 16, 12, 3)

	for _, s := range All() {
		t.Run(s.Name, func(t *testing.T) {
			v, err := s.Compare(img, img)
			require.NoError(t, err)
			if math.IsInf(s.Best, 1) {
				assert.True(t, math.IsInf(v, 1), "got %v", v)
				return
			}
			assert.InDelta(t, s.Best, v, 1e-12)
		})
	}
}

func TestSymmetricStrategies(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 200; trial++ {
		channels := 1 + 2*(trial%2)
		a := randomImage(rng, 17, 13, channels)
		b := randomImage(rng, 17, 13, channels)
		for _, s := range All() {
			if !s.Symmetric {
				continue
			}
			ab, err := s.Compare(a, b)
			require.NoError(t, err, s.Name)
			ba, err := s.Compare(b, a)
			require.NoError(t, err, s.Name)
			assert.Equal(t, ab, ba, s.Name)
		}
	}
}

func TestMSEOrdersDegradedCopies(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	a := randomImage(rng, 32, 32, 3)
	b := degrade(a, 100)
	c := degrade(a, 1000)
	d := degrade(a, 3000)

	mAA, err := MeanSquaredError(a, a)
	require.NoError(t, err)
	mAB, _ := MeanSquaredError(a, b)
	mAC, _ := MeanSquaredError(a, c)
	mAD, _ := MeanSquaredError(a, d)

	assert.Equal(t, 0.0, mAA)
	assert.LessOrEqual(t, mAB, mAC)
	assert.LessOrEqual(t, mAC, mAD)
}

func TestShapeMismatch(t *testing.T) {
	a := types.Image{Width: 2, Height: 2, Channels: 1, Pix: []uint8{1, 2, 3, 4}}
	b := types.Image{Width: 4, Height: 1, Channels: 1, Pix: []uint8{1, 2, 3, 4}}

	for _, s := range All() {
		v, err := s.Compare(a, b)
		if s.Name == Pix2Pix.Name {
			require.NoError(t, err)
			assert.Equal(t, 0.0, v)
			continue
		}
		assert.ErrorIs(t, err, types.ErrDimensionMismatch, s.Name)
	}
}

func TestDegenerateInputs(t *testing.T) {
	zeros := types.Image{Width: 3, Height: 1, Channels: 1, Pix: []uint8{0, 0, 0}}
	other := types.Image{Width: 3, Height: 1, Channels: 1, Pix: []uint8{1, 2, 3}}

	_, err := NormalizedRootMSE(zeros, other)
	assert.ErrorIs(t, err, types.ErrDegenerateInput)

	_, err = NormalizedMutualInformation(zeros, zeros)
	assert.ErrorIs(t, err, types.ErrDegenerateInput)

	tiny := types.Image{Width: 2, Height: 1, Channels: 1, Pix: []uint8{1, 2}}
	_, err = StructuralSimilarity(tiny, tiny)
	assert.ErrorIs(t, err, types.ErrDegenerateInput)
}

func TestKnownValues(t *testing.T) {
	a := types.Image{Width: 4, Height: 1, Channels: 1, Pix: []uint8{0, 10, 20, 30}}
	b := types.Image{Width: 4, Height: 1, Channels: 1, Pix: []uint8{2, 10, 16, 30}}

	mae, err := MeanAbsoluteError(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, mae, 1e-12)

	m, err := MeanSquaredError(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, m, 1e-12)

	psnr, err := PeakSignalNoiseRatio(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 10*math.Log10(255*255/5.0), psnr, 1e-9)

	nrmse, err := NormalizedRootMSE(a, b)
	require.NoError(t, err)
	assert.InDelta(t, math.Sqrt(5)/math.Sqrt(350), nrmse, 1e-12)

	nmi, err := NormalizedMutualInformation(a, b)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, nmi, 1.0)
	assert.LessOrEqual(t, nmi, 2.0+1e-12)
}
