package pipeline

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// FillBackground composites the image over a flat colored canvas. Only useful
// after chromakey removal; a fully opaque capture comes back visually
// unchanged.
func FillBackground(img image.Image, hexColor string) (image.Image, error) {
	canvas := imaging.New(img.Bounds().Dx(), img.Bounds().Dy(), parseHexColor(hexColor))
	return imaging.Overlay(canvas, img, image.Pt(0, 0), 1.0), nil
}

// ImageBackground composites the image over a background picture which is
// resized to fill the capture dimensions.
func ImageBackground(img image.Image, backgroundPath string) (image.Image, error) {
	background, err := imaging.Open(backgroundPath)
	if err != nil {
		return nil, &StageError{Stage: "imgbackground", Err: fmt.Errorf("failed to open background: %w", err)}
	}

	canvas := imaging.Fill(background, img.Bounds().Dx(), img.Bounds().Dy(), imaging.Center, imaging.Lanczos)
	return imaging.Overlay(canvas, img, image.Pt(0, 0), 1.0), nil
}

// ApplyFrame fits the capture into the transparent cutout of a frame overlay.
// The cutout is detected as the bounding box of fully transparent pixels; the
// capture is scaled to fit inside and the frame is drawn on top.
func ApplyFrame(img image.Image, framePath string) (image.Image, error) {
	frame, err := imaging.Open(framePath)
	if err != nil {
		return nil, &StageError{Stage: "imgframe", Err: fmt.Errorf("failed to open frame: %w", err)}
	}

	frameN := imaging.Clone(frame)
	cutout, ok := transparentBounds(frameN)
	if !ok {
		return nil, &StageError{Stage: "imgframe", Err: fmt.Errorf("frame '%s' has no transparent cutout", framePath)}
	}

	fitted := imaging.Fit(img, cutout.Dx(), cutout.Dy(), imaging.Lanczos)
	// center the fitted capture inside the cutout
	offset := image.Pt(
		cutout.Min.X+(cutout.Dx()-fitted.Bounds().Dx())/2,
		cutout.Min.Y+(cutout.Dy()-fitted.Bounds().Dy())/2,
	)

	canvas := imaging.New(frameN.Bounds().Dx(), frameN.Bounds().Dy(), parseHexColor("#ffffff"))
	canvas = imaging.Overlay(canvas, fitted, offset, 1.0)
	return imaging.Overlay(canvas, frameN, image.Pt(0, 0), 1.0), nil
}

// transparentBounds returns the bounding box of pixels with alpha below 10.
func transparentBounds(img *image.NRGBA) (image.Rectangle, bool) {
	const alphaThreshold = 10

	bounds := img.Bounds()
	minX, minY := bounds.Max.X, bounds.Max.Y
	maxX, maxY := bounds.Min.X, bounds.Min.Y
	found := false

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if img.Pix[img.PixOffset(x, y)+3] < alphaThreshold {
				found = true
				if x < minX {
					minX = x
				}
				if y < minY {
					minY = y
				}
				if x > maxX {
					maxX = x
				}
				if y > maxY {
					maxY = y
				}
			}
		}
	}

	if !found {
		return image.Rectangle{}, false
	}
	return image.Rect(minX, minY, maxX+1, maxY+1), true
}
