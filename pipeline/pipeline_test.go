package pipeline

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photobooth-app/photobooth/config"
)

func testImage(w, h int) image.Image {
	img := imaging.New(w, h, color.NRGBA{R: 0x20, G: 0x80, B: 0xc0, A: 0xff})
	// a little structure so filters have something to chew on
	for x := 0; x < w/2; x++ {
		for y := 0; y < h/2; y++ {
			img.Set(x, y, color.NRGBA{R: 0xe0, G: 0x40, B: 0x10, A: 0xff})
		}
	}
	return img
}

func TestApplyFilterOriginalIsIdentity(t *testing.T) {
	src := testImage(64, 48)

	out, err := ApplyFilter(src, "original")
	require.NoError(t, err)
	assert.Equal(t, src, out)

	out, err = ApplyFilter(src, "")
	require.NoError(t, err)
	assert.Equal(t, src, out)
}

func TestApplyFilterChangesPixels(t *testing.T) {
	src := imaging.Clone(testImage(64, 48))

	for _, name := range []string{"aden", "clarendon", "inkwell", "lofi", "moon"} {
		out, err := ApplyFilter(src, name)
		require.NoError(t, err, name)

		outN := imaging.Clone(out)
		assert.NotEqual(t, src.Pix, outN.Pix, "filter %s should alter the image", name)
		assert.Equal(t, src.Bounds(), outN.Bounds(), "filter %s must not resize", name)
	}
}

func TestApplyFilterUnknownFails(t *testing.T) {
	_, err := ApplyFilter(testImage(16, 16), "nosuchfilter")
	require.Error(t, err)

	var stageErr *StageError
	assert.ErrorAs(t, err, &stageErr)
	assert.Equal(t, "filter", stageErr.Stage)
}

func TestScalingFactor(t *testing.T) {
	num, den := ScalingFactor(1600, 400)
	assert.Equal(t, 2, num)
	assert.Equal(t, 8, den)

	// upscaling never happens
	num, den = ScalingFactor(300, 400)
	assert.Equal(t, 8, num)
	assert.Equal(t, 8, den)

	// very small targets clamp at 1/8
	num, den = ScalingFactor(8000, 100)
	assert.Equal(t, 1, num)
	assert.Equal(t, 8, den)
}

func TestScaleToWidth(t *testing.T) {
	out := ScaleToWidth(testImage(1600, 800), 400)
	assert.Equal(t, 400, out.Bounds().Dx())
	assert.Equal(t, 200, out.Bounds().Dy())
}

func TestFillBackground(t *testing.T) {
	transparent := imaging.New(10, 10, color.NRGBA{})

	out, err := FillBackground(transparent, "#ff0000")
	require.NoError(t, err)

	outN := imaging.Clone(out)
	c := outN.NRGBAAt(5, 5)
	assert.EqualValues(t, 0xff, c.R)
	assert.EqualValues(t, 0x00, c.G)
	assert.EqualValues(t, 0xff, c.A)
}

func TestParseHexColor(t *testing.T) {
	assert.Equal(t, color.NRGBA{R: 0xff, G: 0x00, B: 0x00, A: 0xff}, parseHexColor("#ff0000"))
	assert.Equal(t, color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}, parseHexColor("#fff"))
	// garbage falls back to white
	assert.Equal(t, color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}, parseHexColor("not-a-color"))
}

func TestRunSkipsFailingStage(t *testing.T) {
	src := testImage(32, 32)

	failing := newStage("boom", func(image.Image) (image.Image, error) {
		return nil, &StageError{Stage: "boom", Err: assert.AnError}
	})
	inverting := newStage("invert", func(img image.Image) (image.Image, error) {
		return imaging.Invert(img), nil
	})

	out := Run(src, failing, inverting)
	outN := imaging.Clone(out)
	srcN := imaging.Clone(src)
	assert.NotEqual(t, srcN.Pix, outN.Pix, "surviving stage must still run")
}

func TestMergeCollage(t *testing.T) {
	proc := config.CollageProcessing{
		CanvasWidth:  400,
		CanvasHeight: 300,
		MergeDefinition: []config.CollageMergeDefinition{
			{PosX: 10, PosY: 10, Width: 180, Height: 130},
			{PosX: 210, PosY: 10, Width: 180, Height: 130},
		},
		CanvasFillBackground:    true,
		CanvasFillBackgroundCol: "#000000",
	}

	images := []image.Image{testImage(640, 480), testImage(640, 480)}
	noUserFiles := func(string) (string, error) { return "", assert.AnError }

	out, err := MergeCollage(proc, images, noUserFiles)
	require.NoError(t, err)
	assert.Equal(t, 400, out.Bounds().Dx())
	assert.Equal(t, 300, out.Bounds().Dy())

	_, err = MergeCollage(proc, images[:1], noUserFiles)
	assert.Error(t, err, "slot count mismatch must fail")
}

func TestEncodeGIF(t *testing.T) {
	frames := AlignSizes([]image.Image{testImage(100, 80), testImage(200, 100)}, 120, 90)
	require.Len(t, frames, 2)
	for _, f := range frames {
		assert.Equal(t, 120, f.Bounds().Dx())
		assert.Equal(t, 90, f.Bounds().Dy())
	}

	var buf bytes.Buffer
	err := EncodeGIF(&buf, frames, []int{600, 1500})
	require.NoError(t, err)
	assert.Greater(t, buf.Len(), 0)
	assert.Equal(t, "GIF8", buf.String()[:4])
}
