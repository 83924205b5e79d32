package acquisition

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photobooth-app/photobooth/backends"
	"github.com/photobooth-app/photobooth/config"
)

func testSupervisor(t *testing.T) (*Supervisor, *backends.VirtualBackend) {
	t.Helper()

	cfg := config.Default()
	cfg.Backends.Virtual.Framerate = 30
	cfg.Backends.Virtual.Width = 160
	cfg.Backends.Virtual.Height = 120

	main := backends.NewVirtualBackend(cfg.Backends.Virtual)
	s := NewSupervisorWithBackends(main, nil, cfg.Backends, cfg.Common, cfg.UISettings)
	return s, main
}

func TestSupervisorStillCapture(t *testing.T) {
	s, _ := testSupervisor(t)
	s.Start()
	defer s.Stop()

	path, err := s.WaitForStillFile()
	require.NoError(t, err)
	assert.NotEmpty(t, path)
}

func TestSupervisorLoresImage(t *testing.T) {
	s, _ := testSupervisor(t)
	s.Start()
	defer s.Stop()

	frame, err := s.WaitForLoresImage()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8}, frame[:2])
}

func TestSupervisorRestartsFaultyBackend(t *testing.T) {
	s, main := testSupervisor(t)
	s.Start()
	defer s.Stop()

	_, err := s.WaitForLoresImage()
	require.NoError(t, err)

	main.ForceFault()

	// health worker must stop and restart the backend
	require.Eventually(t, func() bool {
		return main.DeviceAlive()
	}, 15*time.Second, 200*time.Millisecond, "backend must come back after restart")

	_, err = s.WaitForLoresImage()
	assert.NoError(t, err)
}

func TestGenStreamDeliversParts(t *testing.T) {
	s, _ := testSupervisor(t)
	s.Start()
	defer s.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frames := s.GenStream(ctx)

	part, ok := <-frames
	require.True(t, ok)
	assert.True(t, bytes.HasPrefix(part, []byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")))
	assert.True(t, bytes.HasSuffix(part, []byte("\r\n\r\n")))
	assert.Contains(t, string(part[:64]), "image/jpeg")

	cancel()
	for range frames {
		// drain until the producer notices the cancellation
	}
}

func TestGenStreamSubstituteFrameOnFault(t *testing.T) {
	s, main := testSupervisor(t)
	s.Start()
	defer s.Stop()

	// device loss: no frames flow, the stream must stay alive with
	// substitute frames instead of ending
	main.Freeze()
	main.ForceFault()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frames := s.GenStream(ctx)
	part, ok := <-frames
	require.True(t, ok, "stream must not end on backend fault")
	assert.True(t, bytes.HasPrefix(part, []byte("--frame")))
}

func TestGenStreamDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Common.LivestreamEnable = false
	main := backends.NewVirtualBackend(cfg.Backends.Virtual)
	s := NewSupervisorWithBackends(main, nil, cfg.Backends, cfg.Common, cfg.UISettings)
	s.Start()
	defer s.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, ok := <-s.GenStream(ctx)
	assert.False(t, ok, "disabled livestream must yield a closed channel")
}

func TestSubstituteFrameIsValidJPEG(t *testing.T) {
	frame := substituteFrame("Oh no - stream error :(", "something broke", false)
	require.NotNil(t, frame)
	assert.Equal(t, []byte{0xff, 0xd8}, frame[:2])

	// cached on second call
	again := substituteFrame("Oh no - stream error :(", "something broke", false)
	assert.Equal(t, &frame[0], &again[0], "substitute frames are cached")

	mirrored := substituteFrame("Oh no - stream error :(", "something broke", true)
	assert.NotEqual(t, frame, mirrored)
}

func TestSupervisorStats(t *testing.T) {
	s, _ := testSupervisor(t)
	s.Start()
	defer s.Stop()

	stats := s.Stats()
	assert.Contains(t, stats, "primary")
	assert.NotContains(t, stats, "secondary")
}
