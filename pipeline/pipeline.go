// Package pipeline transforms captured media into the final artifacts. All
// stages operate on in-memory images; a failing stage is logged and skipped so
// a capture never gets lost over a broken overlay file.
package pipeline

import (
	"fmt"
	"image"
	"image/color"
	"log"
	"strconv"
	"strings"

	"github.com/photobooth-app/photobooth/config"
)

// StageError wraps a failure of one pipeline stage. Stages are best-effort:
// the caller logs the error and continues with the unmodified image.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Stage mutates an image; returning the input unchanged is valid.
type Stage func(image.Image) (image.Image, error)

// Run applies the stages in order. Stage errors are skipped, never fatal.
func Run(img image.Image, stages ...NamedStage) image.Image {
	for _, s := range stages {
		out, err := s.fn(img)
		if err != nil {
			log.Printf("pipeline: stage %s skipped: %v", s.name, err)
			continue
		}
		img = out
	}
	return img
}

// NamedStage pairs a stage with the name used in skip logs.
type NamedStage struct {
	name string
	fn   Stage
}

func newStage(name string, fn Stage) NamedStage { return NamedStage{name: name, fn: fn} }

// StillStages builds the stage list for a single captured picture from its
// processing definition.
func StillStages(def config.SinglePictureDefinition, media config.GroupMediaprocessing, userFile func(string) (string, error)) []NamedStage {
	var stages []NamedStage

	if def.Filter != "" && def.Filter != FilterOriginal {
		stages = append(stages, newStage("filter", func(img image.Image) (image.Image, error) {
			return ApplyFilter(img, def.Filter)
		}))
	}

	if media.RemoveChromakeyEnable {
		stages = append(stages, newStage("removechromakey", func(img image.Image) (image.Image, error) {
			return RemoveChromakey(img, media.RemoveChromakeyKeycolor, media.RemoveChromakeyTolerance)
		}))
	}

	if def.ImgBackgroundEnable && def.ImgBackgroundFile != "" {
		stages = append(stages, newStage("imgbackground", func(img image.Image) (image.Image, error) {
			path, err := userFile(def.ImgBackgroundFile)
			if err != nil {
				return nil, &StageError{Stage: "imgbackground", Err: err}
			}
			return ImageBackground(img, path)
		}))
	}

	if def.FillBackgroundEnable {
		stages = append(stages, newStage("fillbackground", func(img image.Image) (image.Image, error) {
			return FillBackground(img, def.FillBackgroundColor)
		}))
	}

	if def.ImgFrameEnable && def.ImgFrameFile != "" {
		stages = append(stages, newStage("imgframe", func(img image.Image) (image.Image, error) {
			path, err := userFile(def.ImgFrameFile)
			if err != nil {
				return nil, &StageError{Stage: "imgframe", Err: err}
			}
			return ApplyFrame(img, path)
		}))
	}

	if def.TextsEnable && len(def.Texts) > 0 {
		stages = append(stages, newStage("texts", func(img image.Image) (image.Image, error) {
			return DrawTexts(img, def.Texts, userFile)
		}))
	}

	return stages
}

// parseHexColor accepts "#rgb" and "#rrggbb"; invalid input yields white so a
// bad config never aborts a job.
func parseHexColor(s string) color.NRGBA {
	c := color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")

	parse := func(sub string) (uint8, bool) {
		v, err := strconv.ParseUint(sub, 16, 8)
		if err != nil {
			return 0, false
		}
		return uint8(v), true
	}

	switch len(s) {
	case 3:
		if r, ok := parse(strings.Repeat(string(s[0]), 2)); ok {
			c.R = r
		}
		if g, ok := parse(strings.Repeat(string(s[1]), 2)); ok {
			c.G = g
		}
		if b, ok := parse(strings.Repeat(string(s[2]), 2)); ok {
			c.B = b
		}
	case 6:
		if r, ok := parse(s[0:2]); ok {
			c.R = r
		}
		if g, ok := parse(s[2:4]); ok {
			c.G = g
		}
		if b, ok := parse(s[4:6]); ok {
			c.B = b
		}
	}
	return c
}
