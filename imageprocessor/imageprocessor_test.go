package imageprocessor

import (
	"context"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imgcompare/types"
)

func writePNG(t *testing.T, dir, name string, w, h int, c color.RGBA) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

func TestFormats(t *testing.T) {
	assert.True(t, IsImageFile("a/b/photo.JPG"))
	assert.True(t, IsImageFile("x.webp"))
	assert.False(t, IsImageFile("notes.txt"))
	assert.False(t, IsImageFile("raw.cr3"))
	assert.Equal(t, FormatTIFF, GetFileFormat("scan.tif"))
	assert.Equal(t, FormatUnknown, GetFileFormat("Makefile"))

	exts := GetSupportedExtensions()
	assert.IsIncreasing(t, exts)
	assert.Contains(t, exts, ".png")
}

func TestPolicies(t *testing.T) {
	tests := []struct {
		policy Policy
		w, h   int
		wantW  int
		wantH  int
	}{
		{PolicySquare{Size: 512}, 1024, 300, 512, 512},
		{PolicyFixedWidth{Width: 512}, 1024, 300, 512, 150},
		{PolicyFixedWidth{Width: 512}, 1000, 333, 512, 170},
		{PolicyFixedWidth{Width: 512}, 4000, 2, 512, 1},
		{PolicyNative{}, 123, 45, 123, 45},
	}

	for _, tt := range tests {
		t.Run(tt.policy.Name(), func(t *testing.T) {
			w, h := tt.policy.Target(tt.w, tt.h)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
		})
	}
}

func TestLoaderAppliesPolicy(t *testing.T) {
	dir := t.TempDir()
	path := writePNG(t, dir, "red.png", 40, 20, color.RGBA{R: 200, G: 10, B: 30, A: 255})

	square, err := NewLoader(PolicySquare{Size: 16}, LoaderOptions{}).Load(path)
	require.NoError(t, err)
	assert.Equal(t, "red.png", square.Name)
	assert.Equal(t, path, square.Path)
	assert.Equal(t, 16, square.Image.Width)
	assert.Equal(t, 16, square.Image.Height)
	assert.Equal(t, 3, square.Image.Channels)
	assert.Equal(t, []uint8{30, 10, 200}, square.Image.Pix[:3])

	wide, err := NewLoader(PolicyFixedWidth{Width: 10}, LoaderOptions{}).Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10, wide.Image.Width)
	assert.Equal(t, 5, wide.Image.Height)

	native, err := NewLoader(PolicyNative{}, LoaderOptions{}).Load(path)
	require.NoError(t, err)
	assert.Equal(t, 40, native.Image.Width)
	assert.Equal(t, 20, native.Image.Height)
}

func TestLoaderFallsBackToGoDecoders(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "anim.gif")

	pal := image.NewPaletted(image.Rect(0, 0, 8, 4), color.Palette{color.Black, color.White})
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, gif.Encode(f, pal, nil))
	require.NoError(t, f.Close())

	rec, err := NewLoader(PolicyNative{}, LoaderOptions{}).Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, rec.Image.Width)
	assert.Equal(t, 4, rec.Image.Height)
	assert.Equal(t, 3, rec.Image.Channels)
}

func TestLoadAllSkipsFailures(t *testing.T) {
	dir := t.TempDir()
	a := writePNG(t, dir, "a.png", 8, 8, color.RGBA{R: 1, A: 255})
	broken := filepath.Join(dir, "broken.png")
	require.NoError(t, os.WriteFile(broken, []byte("not an image"), 0o644))
	b := writePNG(t, dir, "b.png", 12, 6, color.RGBA{G: 1, A: 255})
	missing := filepath.Join(dir, "missing.jpg")

	records, report, err := NewLoader(PolicySquare{Size: 4}, LoaderOptions{Workers: 3}).
		LoadAll(context.Background(), []string{a, broken, b, missing})
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, "a.png", records[0].Name)
	assert.Equal(t, "b.png", records[1].Name)
	assert.Equal(t, 4, report.Requested)
	assert.Equal(t, 2, report.Loaded)
	require.Len(t, report.Failures, 2)
	assert.Equal(t, broken, report.Failures[0].Path)
	assert.ErrorIs(t, report.Failures[0].Err, types.ErrImageLoad)
	assert.Equal(t, missing, report.Failures[1].Path)
}

func TestLoadAllCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	records, _, err := NewLoader(PolicyNative{}, LoaderOptions{}).LoadAll(ctx, []string{"a.png"})
	assert.ErrorIs(t, err, types.ErrIncomplete)
	assert.Empty(t, records)
}

func TestMatRoundTrip(t *testing.T) {
	img := types.Image{Width: 3, Height: 2, Channels: 3, Pix: []uint8{
		1, 2, 3, 4, 5, 6, 7, 8, 9,
		10, 11, 12, 13, 14, 15, 16, 17, 18,
	}}

	mat, err := ToMat(img)
	require.NoError(t, err)
	defer mat.Close()

	back, err := FromMat(mat)
	require.NoError(t, err)
	assert.Equal(t, img, back)

	gray := types.Image{Width: 2, Height: 2, Channels: 1, Pix: []uint8{0, 50, 100, 150}}
	gm, err := ToMat(gray)
	require.NoError(t, err)
	defer gm.Close()
	assert.Equal(t, 3, gm.Channels())

	_, err = ToMat(types.Image{Width: 2, Height: 2, Channels: 3})
	assert.ErrorIs(t, err, types.ErrMalformedImage)
}
