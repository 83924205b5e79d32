package backends

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photobooth-app/photobooth/config"
)

func testVirtualConfig() config.GroupBackendVirtual {
	return config.GroupBackendVirtual{Framerate: 30, Width: 160, Height: 120}
}

func TestVirtualBackendDeliversFrames(t *testing.T) {
	b := NewVirtualBackend(testVirtualConfig())
	require.NoError(t, b.Start())
	defer b.Stop()

	frame, err := b.WaitForLoresImage(2 * time.Second)
	require.NoError(t, err)
	require.NotEmpty(t, frame)
	// JPEG SOI marker
	assert.Equal(t, []byte{0xff, 0xd8}, frame[:2])
}

func TestVirtualBackendStillFile(t *testing.T) {
	b := NewVirtualBackend(testVirtualConfig())
	require.NoError(t, b.Start())
	defer b.Stop()

	path, err := b.WaitForStillFile(2 * time.Second)
	require.NoError(t, err)
	defer os.Remove(path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestVirtualBackendMulticam(t *testing.T) {
	b := NewVirtualBackend(testVirtualConfig())
	require.NoError(t, b.Start())
	defer b.Stop()

	paths, err := b.WaitForMulticamFiles(5 * time.Second)
	require.NoError(t, err)
	assert.Len(t, paths, 3)
	for _, p := range paths {
		assert.FileExists(t, p)
		os.Remove(p)
	}
}

func TestVirtualBackendUnavailableWhenStopped(t *testing.T) {
	b := NewVirtualBackend(testVirtualConfig())

	_, err := b.WaitForLoresImage(100 * time.Millisecond)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.False(t, b.DeviceAlive())
}

func TestVirtualBackendRestartAfterStop(t *testing.T) {
	b := NewVirtualBackend(testVirtualConfig())
	require.NoError(t, b.Start())
	b.Stop()

	require.NoError(t, b.Start())
	defer b.Stop()

	_, err := b.WaitForLoresImage(2 * time.Second)
	assert.NoError(t, err)
}

func TestWatchdogMarksFaultyOnStall(t *testing.T) {
	buf := NewFrameBuffer()
	wd := newWatchdog("test", buf, 2*time.Second)

	buf.Publish([]byte("one"))
	wd.start()
	defer wd.halt()

	assert.False(t, wd.markedFaulty())

	// no further frames: the cadence stalls past the period
	require.Eventually(t, wd.markedFaulty, 5*time.Second, 100*time.Millisecond)
}

func TestWatchdogStaysQuietWhileFramesFlow(t *testing.T) {
	buf := NewFrameBuffer()
	wd := newWatchdog("test", buf, 2*time.Second)
	wd.start()
	defer wd.halt()

	for i := 0; i < 6; i++ {
		buf.Publish([]byte("frame"))
		time.Sleep(500 * time.Millisecond)
	}
	assert.False(t, wd.markedFaulty())
}

func TestVirtualBackendFreezeTripsWatchdog(t *testing.T) {
	b := NewVirtualBackend(testVirtualConfig())
	require.NoError(t, b.Start())
	defer b.Stop()

	_, err := b.WaitForLoresImage(2 * time.Second)
	require.NoError(t, err)

	b.Freeze()
	require.Eventually(t, b.MarkedFaulty, 10*time.Second, 200*time.Millisecond)
	assert.False(t, b.DeviceAlive())
}
