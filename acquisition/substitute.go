package acquisition

import (
	"bytes"
	"image"
	"image/color"
	"log"
	"sync"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// substituteFrame renders a self-describing error frame so the MJPEG stream
// stays valid while a backend recovers. Rendered frames are cached; the set
// of distinct captions is tiny.
var substituteCache = struct {
	sync.Mutex
	frames map[string][]byte
}{frames: make(map[string][]byte)}

func substituteFrame(caption, message string, mirror bool) []byte {
	key := caption + "|" + message
	if mirror {
		key += "|m"
	}

	substituteCache.Lock()
	defer substituteCache.Unlock()
	if frame, ok := substituteCache.frames[key]; ok {
		return frame
	}

	canvas := imaging.New(400, 300, color.NRGBA{R: 0xdd, G: 0xdd, B: 0xdd, A: 0xff})

	textColor := image.NewUniform(color.NRGBA{R: 0x88, G: 0x88, B: 0x88, A: 0xff})
	drawer := &font.Drawer{
		Dst:  canvas,
		Src:  textColor,
		Face: basicfont.Face7x13,
	}

	lines := []string{caption, message, "please check camera and logs"}
	y := 110
	for _, line := range lines {
		drawer.Dot = fixed.P(25, y)
		drawer.DrawString(line)
		y += 20
	}

	out := image.Image(canvas)
	if mirror {
		// messages shall stay readable on mirrored screens
		out = imaging.FlipH(canvas)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.JPEG, imaging.JPEGQuality(95)); err != nil {
		log.Printf("acquisition: failed to encode substitute frame: %v", err)
		return nil
	}

	frame := buf.Bytes()
	substituteCache.frames[key] = frame
	return frame
}
