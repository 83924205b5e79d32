package pipeline

import (
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// FilterOriginal leaves the capture untouched.
const FilterOriginal = "original"

// AvailableFilters lists the selectable filter names in UI order.
var AvailableFilters = []string{
	FilterOriginal,
	"aden",
	"clarendon",
	"crema",
	"earlybird",
	"gotham",
	"inkwell",
	"juno",
	"lark",
	"lofi",
	"moon",
	"reyes",
}

// ApplyFilter renders a named look onto the image. Unknown names fail so the
// caller can surface a config mistake instead of silently shipping originals.
func ApplyFilter(img image.Image, name string) (image.Image, error) {
	switch name {
	case "", FilterOriginal:
		return img, nil
	case "aden":
		out := imaging.AdjustSaturation(img, -15)
		out = imaging.AdjustBrightness(out, 8)
		return tint(out, color.NRGBA{R: 0x42, G: 0x2c, B: 0x61, A: 0xff}, 0.12), nil
	case "clarendon":
		out := imaging.AdjustContrast(img, 20)
		out = imaging.AdjustSaturation(out, 25)
		return tint(out, color.NRGBA{R: 0x7f, G: 0xbb, B: 0xe3, A: 0xff}, 0.08), nil
	case "crema":
		out := imaging.AdjustSaturation(img, -20)
		out = imaging.AdjustGamma(out, 1.1)
		return tint(out, color.NRGBA{R: 0xe3, G: 0xd8, B: 0xc6, A: 0xff}, 0.10), nil
	case "earlybird":
		out := imaging.AdjustContrast(img, 10)
		out = imaging.AdjustSaturation(out, -10)
		return tint(out, color.NRGBA{R: 0xd0, G: 0xba, B: 0x8e, A: 0xff}, 0.18), nil
	case "gotham":
		out := imaging.Grayscale(img)
		out = imaging.AdjustContrast(out, 30)
		return imaging.AdjustGamma(out, 0.9), nil
	case "inkwell":
		out := imaging.Grayscale(img)
		return imaging.AdjustContrast(out, 10), nil
	case "juno":
		out := imaging.AdjustSaturation(img, 20)
		out = imaging.AdjustContrast(out, 8)
		return tint(out, color.NRGBA{R: 0xff, G: 0xdd, B: 0xaa, A: 0xff}, 0.06), nil
	case "lark":
		out := imaging.AdjustBrightness(img, 10)
		out = imaging.AdjustSaturation(out, 10)
		return imaging.AdjustGamma(out, 1.05), nil
	case "lofi":
		out := imaging.AdjustContrast(img, 30)
		return imaging.AdjustSaturation(out, 30), nil
	case "moon":
		out := imaging.Grayscale(img)
		out = imaging.AdjustBrightness(out, 10)
		return imaging.AdjustContrast(out, -10), nil
	case "reyes":
		out := imaging.AdjustBrightness(img, 15)
		out = imaging.AdjustSaturation(out, -25)
		return tint(out, color.NRGBA{R: 0xef, G: 0xe4, B: 0xd4, A: 0xff}, 0.12), nil
	default:
		return nil, &StageError{Stage: "filter", Err: fmt.Errorf("unknown filter '%s'", name)}
	}
}

// tint blends a flat color layer over the image at the given opacity.
func tint(img image.Image, c color.NRGBA, opacity float64) image.Image {
	layer := imaging.New(img.Bounds().Dx(), img.Bounds().Dy(), c)
	return imaging.Overlay(img, layer, image.Pt(0, 0), opacity)
}
