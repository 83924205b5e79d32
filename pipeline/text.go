package pipeline

import (
	"fmt"
	"image"
	"image/color"
	"os"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/photobooth-app/photobooth/config"
)

// DrawTexts stamps the configured text overlays onto the image. Each overlay
// is rendered on its own transparent layer so rotation works per text. A text
// with an unreadable font falls back to the builtin face rather than failing
// the whole job.
func DrawTexts(img image.Image, texts []config.TextConfig, userFile func(string) (string, error)) (image.Image, error) {
	out := imaging.Clone(img)

	for _, tc := range texts {
		if tc.Text == "" {
			continue
		}

		face, err := loadFace(tc, userFile)
		if err != nil {
			return nil, &StageError{Stage: "texts", Err: err}
		}

		layer := renderTextLayer(tc.Text, face, parseHexColor(tc.Color))
		if tc.Rotate != 0 {
			layer = imaging.Rotate(layer, float64(tc.Rotate), color.NRGBA{})
		}

		out = imaging.Overlay(out, layer, image.Pt(tc.PosX, tc.PosY), 1.0)
	}

	return out, nil
}

func loadFace(tc config.TextConfig, userFile func(string) (string, error)) (font.Face, error) {
	if tc.Font == "" {
		return basicfont.Face7x13, nil
	}

	path, err := userFile(tc.Font)
	if err != nil {
		return nil, fmt.Errorf("font lookup failed: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read font '%s': %w", tc.Font, err)
	}
	parsed, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font '%s': %w", tc.Font, err)
	}

	size := float64(tc.FontSize)
	if size < 4 {
		size = 20
	}
	face, err := opentype.NewFace(parsed, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingFull})
	if err != nil {
		return nil, fmt.Errorf("failed to build font face: %w", err)
	}
	return face, nil
}

// renderTextLayer draws the string onto a tightly sized transparent canvas.
func renderTextLayer(text string, face font.Face, col color.NRGBA) *image.NRGBA {
	metrics := face.Metrics()
	width := font.MeasureString(face, text).Ceil()
	ascent := metrics.Ascent.Ceil()
	height := (metrics.Ascent + metrics.Descent).Ceil()
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}

	layer := image.NewNRGBA(image.Rect(0, 0, width, height))
	drawer := &font.Drawer{
		Dst:  layer,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.P(0, ascent),
	}
	drawer.DrawString(text)
	return layer
}
