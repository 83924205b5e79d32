package pipeline

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// ScalingFactor picks the largest n/8 fraction so the scaled width does not
// exceed the target. Rational factors keep the JPEG rescale cheap and match
// what common DCT scalers support.
func ScalingFactor(srcWidth, targetWidth int) (num, den int) {
	den = 8
	if srcWidth <= 0 || targetWidth >= srcWidth {
		return 8, 8
	}
	for num = 7; num >= 1; num-- {
		if srcWidth*num/den <= targetWidth {
			return num, den
		}
	}
	return 1, 8
}

// ScaleToWidth resizes with the selected n/8 factor, preserving aspect ratio.
func ScaleToWidth(img image.Image, targetWidth int) image.Image {
	num, den := ScalingFactor(img.Bounds().Dx(), targetWidth)
	if num == den {
		return img
	}
	newWidth := img.Bounds().Dx() * num / den
	if newWidth < 1 {
		newWidth = 1
	}
	return imaging.Resize(img, newWidth, 0, imaging.Lanczos)
}

// SaveJPEG flattens alpha and writes the image with the given quality.
func SaveJPEG(img image.Image, path string, quality int) error {
	// JPEG has no alpha; composite onto white first
	flattened, err := FillBackground(img, "#ffffff")
	if err != nil {
		return err
	}
	if err := imaging.Save(flattened, path, imaging.JPEGQuality(quality)); err != nil {
		return fmt.Errorf("failed to save '%s': %w", path, err)
	}
	return nil
}

// ScaledRepresentation produces one derived still at the given width and
// quality from an in-memory source.
func ScaledRepresentation(img image.Image, path string, targetWidth, quality int) error {
	return SaveJPEG(ScaleToWidth(img, targetWidth), path, quality)
}
