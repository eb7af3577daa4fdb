package raster

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/sketchsync/pkg/scene"
)

func TestRenderEmptySceneUsesBackground(t *testing.T) {
	sc := scene.Empty()
	sc.Background = "#ff0000"
	img, err := Render(sc, 1)
	require.NoError(t, err)
	b := img.Bounds()
	assert.Greater(t, b.Dx(), 0)
	assert.Greater(t, b.Dy(), 0)

	r, g, bl, _ := img.At(b.Min.X+1, b.Min.Y+1).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	assert.Equal(t, uint32(0), g)
	assert.Equal(t, uint32(0), bl)
}

func TestRenderDrawsObjects(t *testing.T) {
	sc := scene.Empty()
	rect := scene.NewRectangle(10, 10, 50, 50)
	rect.FillColor = "#000000"
	sc.Objects = append(sc.Objects, rect)
	sc.Objects = append(sc.Objects, scene.NewEllipse(80, 10, 30, 30))
	sc.Objects = append(sc.Objects, scene.NewFreedraw([][2]float64{{0, 0}, {20, 20}, {40, 0}}, 2))

	img, err := Render(sc, 1)
	require.NoError(t, err)

	// At least one pixel is not the white background.
	found := false
	for x := 0; x < img.Bounds().Dx() && !found; x++ {
		for y := 0; y < img.Bounds().Dy() && !found; y++ {
			r, g, b, _ := img.At(x, y).RGBA()
			if r != 0xffff || g != 0xffff || b != 0xffff {
				found = true
			}
		}
	}
	assert.True(t, found)
}

func TestEncodePNGProducesValidImage(t *testing.T) {
	sc := scene.Empty()
	sc.Objects = append(sc.Objects, scene.NewRectangle(0, 0, 40, 40))
	var buff bytes.Buffer
	require.NoError(t, EncodePNG(&buff, sc, 2))
	img, err := png.Decode(&buff)
	require.NoError(t, err)
	assert.Greater(t, img.Bounds().Dx(), 0)
}
