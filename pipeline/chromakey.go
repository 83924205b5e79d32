package pipeline

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"
)

// RemoveChromakey keys out the configured background hue and returns the
// capture with a transparent background. keycolor is a hue in degrees
// (0..360), tolerance the accepted deviation; both follow the common
// greenscreen convention where OpenCV hue runs 0..179.
func RemoveChromakey(img image.Image, keycolor, tolerance int) (image.Image, error) {
	src := imaging.Clone(img)

	mat, err := gocv.ImageToMatRGB(src)
	if err != nil {
		return nil, &StageError{Stage: "removechromakey", Err: fmt.Errorf("mat conversion failed: %w", err)}
	}
	defer mat.Close()

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(mat, &hsv, gocv.ColorRGBToHSV)

	hue := float64(keycolor) / 2 // OpenCV hue range is 0..179
	tol := float64(tolerance)
	lower := gocv.NewScalar(hue-tol, 50, 50, 0)
	upper := gocv.NewScalar(hue+tol, 255, 255, 0)

	mask := gocv.NewMat()
	defer mask.Close()
	gocv.InRangeWithScalar(hsv, lower, upper, &mask)

	// clean up speckles, then grow and feather the mask to hide the fringe
	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(4, 4))
	defer kernel.Close()
	gocv.MorphologyEx(mask, &mask, gocv.MorphOpen, kernel)
	gocv.Dilate(mask, &mask, kernel)
	gocv.GaussianBlur(mask, &mask, image.Pt(0, 0), 2, 2, gocv.BorderDefault)

	maskImg, err := mask.ToImage()
	if err != nil {
		return nil, &StageError{Stage: "removechromakey", Err: fmt.Errorf("mask conversion failed: %w", err)}
	}
	gray, ok := maskImg.(*image.Gray)
	if !ok {
		return nil, &StageError{Stage: "removechromakey", Err: fmt.Errorf("unexpected mask image type %T", maskImg)}
	}

	bounds := src.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			keyed := gray.GrayAt(x, y).Y
			i := src.PixOffset(x, y)
			src.Pix[i+3] = 255 - keyed
		}
	}

	return src, nil
}
