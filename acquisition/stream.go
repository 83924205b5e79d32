package acquisition

import (
	"context"
	"fmt"
	"log"
	"time"
)

// StreamBoundary is the multipart boundary used by the MJPEG endpoint.
const StreamBoundary = "frame"

// GenStream produces MJPEG part-frames for one subscriber. Frames arrive at
// the configured live-preview framerate; the supervisor drops frames to meet
// the cadence instead of queueing. When the backend cannot deliver, a
// pre-rendered substitute frame keeps the stream valid and self-describing.
// The channel closes when ctx is done or streaming is disabled mid-flight.
func (s *Supervisor) GenStream(ctx context.Context) <-chan []byte {
	out := make(chan []byte)

	go func() {
		defer close(out)

		if !s.commonCfg.LivestreamEnable {
			log.Printf("acquisition: livestream disabled, refusing stream")
			return
		}

		fps := s.commonCfg.LivestreamFramerate
		if fps <= 0 {
			fps = 15
		}
		ticker := time.NewTicker(time.Second / time.Duration(fps))
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			frame, err := s.WaitForLoresImage()
			if err != nil {
				frame = substituteFrame(
					"Oh no - stream error :(",
					fmt.Sprintf("%v, no preview from cam. retrying.", err),
					s.uiCfg.LivestreamMirrorEffect,
				)
				if frame == nil {
					continue
				}
			}

			part := make([]byte, 0, len(frame)+64)
			part = append(part, []byte("--"+StreamBoundary+"\r\nContent-Type: image/jpeg\r\n\r\n")...)
			part = append(part, frame...)
			part = append(part, []byte("\r\n\r\n")...)

			select {
			case out <- part:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
