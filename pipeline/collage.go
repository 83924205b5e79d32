package pipeline

import (
	"fmt"
	"image"
	"image/color"
	"log"

	"github.com/disintegration/imaging"

	"github.com/photobooth-app/photobooth/config"
)

// MergeCollage composes captured and predefined images onto one canvas
// following the merge definition. images must hold exactly one entry per
// definition slot; slots backed by a predefined image receive it from the
// caller too, so the ordering is purely positional.
func MergeCollage(proc config.CollageProcessing, images []image.Image, userFile func(string) (string, error)) (image.Image, error) {
	if len(images) != len(proc.MergeDefinition) {
		return nil, fmt.Errorf("collage needs %d images, got %d", len(proc.MergeDefinition), len(images))
	}

	var canvas *image.NRGBA
	switch {
	case proc.CanvasImgBackgroundFile != "":
		path, err := userFile(proc.CanvasImgBackgroundFile)
		if err != nil {
			return nil, fmt.Errorf("collage canvas background: %w", err)
		}
		background, err := imaging.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open canvas background: %w", err)
		}
		canvas = imaging.Fill(background, proc.CanvasWidth, proc.CanvasHeight, imaging.Center, imaging.Lanczos)
	case proc.CanvasFillBackground:
		canvas = imaging.New(proc.CanvasWidth, proc.CanvasHeight, parseHexColor(proc.CanvasFillBackgroundCol))
	default:
		canvas = imaging.New(proc.CanvasWidth, proc.CanvasHeight, color.NRGBA{})
	}

	for i, def := range proc.MergeDefinition {
		tile := image.Image(imaging.Clone(images[i]))

		if def.Filter != "" && def.Filter != FilterOriginal {
			filtered, err := ApplyFilter(tile, def.Filter)
			if err != nil {
				log.Printf("pipeline: collage slot %d filter skipped: %v", i, err)
			} else {
				tile = filtered
			}
		}

		if proc.CaptureFillBackground {
			filled, err := FillBackground(tile, proc.CaptureFillBackgroundCol)
			if err == nil {
				tile = filled
			}
		}

		fitted := imaging.Fit(tile, def.Width, def.Height, imaging.Lanczos)
		pos := image.Pt(def.PosX, def.PosY)
		if def.Rotate != 0 {
			rotated := imaging.Rotate(fitted, float64(def.Rotate), color.NRGBA{})
			// keep the slot center stable while the bounding box grows
			pos = image.Pt(
				def.PosX+(def.Width-rotated.Bounds().Dx())/2,
				def.PosY+(def.Height-rotated.Bounds().Dy())/2,
			)
			fitted = rotated
		} else {
			pos = image.Pt(
				def.PosX+(def.Width-fitted.Bounds().Dx())/2,
				def.PosY+(def.Height-fitted.Bounds().Dy())/2,
			)
		}

		canvas = imaging.Overlay(canvas, fitted, pos, 1.0)
	}

	out := image.Image(canvas)

	if proc.CanvasImgFrontEnable && proc.CanvasImgFrontFile != "" {
		path, err := userFile(proc.CanvasImgFrontFile)
		if err != nil {
			log.Printf("pipeline: collage front layer skipped: %v", err)
		} else if front, err := imaging.Open(path); err != nil {
			log.Printf("pipeline: collage front layer skipped: %v", err)
		} else {
			resized := imaging.Resize(front, proc.CanvasWidth, proc.CanvasHeight, imaging.Lanczos)
			out = imaging.Overlay(out, resized, image.Pt(0, 0), 1.0)
		}
	}

	if proc.CanvasTextsEnable && len(proc.CanvasTexts) > 0 {
		withTexts, err := DrawTexts(out, proc.CanvasTexts, userFile)
		if err != nil {
			log.Printf("pipeline: collage texts skipped: %v", err)
		} else {
			out = withTexts
		}
	}

	return out, nil
}
