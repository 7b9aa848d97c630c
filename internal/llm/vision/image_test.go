package vision

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x += 7 {
		for y := 0; y < h; y += 7 {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestPrepareJPEGDownscalesLargeImages(t *testing.T) {
	out, err := PrepareJPEG(encodePNG(t, 2048, 512))
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 1024, img.Bounds().Dx())
	assert.Equal(t, 256, img.Bounds().Dy())
}

func TestPrepareJPEGScalesByTallerSide(t *testing.T) {
	out, err := PrepareJPEG(encodePNG(t, 512, 2048))
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 1024, img.Bounds().Dy())
	assert.Equal(t, 256, img.Bounds().Dx())
}

func TestPrepareJPEGKeepsSmallImages(t *testing.T) {
	out, err := PrepareJPEG(encodePNG(t, 640, 480))
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 640, img.Bounds().Dx())
	assert.Equal(t, 480, img.Bounds().Dy())
}

func TestPrepareJPEGRejectsGarbage(t *testing.T) {
	_, err := PrepareJPEG([]byte("definitely not an image"))
	assert.Error(t, err)
}
