package pipeline

import (
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

const ffmpegTimeout = 60 * time.Second

// ffmpegRun executes ffmpeg with a fixed argv and a hard timeout. No user
// input ever reaches a shell.
func ffmpegRun(args ...string) error {
	cmd := exec.Command("ffmpeg", append([]string{"-y", "-hide_banner", "-loglevel", "error"}, args...)...)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg start failed: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("ffmpeg failed: %w", err)
		}
		return nil
	case <-time.After(ffmpegTimeout):
		cmd.Process.Kill()
		<-done
		return fmt.Errorf("ffmpeg timed out after %s", ffmpegTimeout)
	}
}

// ExtractPoster grabs the first frame of a video as a JPEG still, used for
// the gallery representations of video items.
func ExtractPoster(videoPath, posterPath string) error {
	return ffmpegRun("-i", videoPath, "-vframes", "1", "-q:v", "2", posterPath)
}

// Boomerang renders the clip forward then reversed into one seamless loop.
// speed scales playback; 1.0 keeps the original pace.
func Boomerang(inPath, outPath string, speed float64) error {
	filter := "[0:v]split[fwd][tmp];[tmp]reverse[rev];[fwd][rev]concat=n=2:v=1:a=0[looped]"
	out := "[looped]"
	if speed > 0 && speed != 1.0 {
		filter += fmt.Sprintf(";[looped]setpts=PTS/%s[spd]", strconv.FormatFloat(speed, 'f', -1, 64))
		out = "[spd]"
	}

	return ffmpegRun(
		"-i", inPath,
		"-filter_complex", filter,
		"-map", out,
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		outPath,
	)
}

// TrimToDuration cuts the clip to the configured maximum length.
func TrimToDuration(inPath, outPath string, seconds int) error {
	return ffmpegRun(
		"-i", inPath,
		"-t", strconv.Itoa(seconds),
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		outPath,
	)
}
