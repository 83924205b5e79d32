package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"io"

	"github.com/disintegration/imaging"
)

// AlignSizes scales all frames to the target canvas so the resulting
// animation has a stable geometry regardless of source dimensions.
func AlignSizes(frames []image.Image, width, height int) []image.Image {
	out := make([]image.Image, len(frames))
	for i, frame := range frames {
		out[i] = imaging.Fill(frame, width, height, imaging.Center, imaging.Lanczos)
	}
	return out
}

// EncodeGIF writes the frames as an endlessly looping animation. Durations
// are per-frame in milliseconds; a short list is padded with the last value.
func EncodeGIF(w io.Writer, frames []image.Image, durationsMs []int) error {
	if len(frames) == 0 {
		return fmt.Errorf("animation needs at least one frame")
	}

	anim := &gif.GIF{LoopCount: 0}
	for i, frame := range frames {
		duration := 100
		if len(durationsMs) > 0 {
			if i < len(durationsMs) {
				duration = durationsMs[i]
			} else {
				duration = durationsMs[len(durationsMs)-1]
			}
		}

		anim.Image = append(anim.Image, toPaletted(frame))
		anim.Delay = append(anim.Delay, duration/10) // gif delay unit is 10ms
	}

	if err := gif.EncodeAll(w, anim); err != nil {
		return fmt.Errorf("gif encoding failed: %w", err)
	}
	return nil
}

// toPaletted quantizes one frame via the stdlib encoder so we get its
// median-cut palette; a fresh Plan9-paletted draw is the fallback.
func toPaletted(frame image.Image) *image.Paletted {
	var buf bytes.Buffer
	if err := gif.Encode(&buf, frame, &gif.Options{NumColors: 256}); err == nil {
		if decoded, err := gif.Decode(&buf); err == nil {
			if p, ok := decoded.(*image.Paletted); ok {
				return p
			}
		}
	}

	p := image.NewPaletted(frame.Bounds(), palette.Plan9)
	draw.FloydSteinberg.Draw(p, frame.Bounds(), frame, frame.Bounds().Min)
	return p
}
