package share

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photobooth-app/photobooth/config"
	"github.com/photobooth-app/photobooth/sse"
)

type memCounters struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newMemCounters() *memCounters { return &memCounters{counts: make(map[string]int64)} }

func (c *memCounters) Increment(action string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[action]++
	return c.counts[action], nil
}

func (c *memCounters) Get(action string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[action], nil
}

func (c *memCounters) Reset(action string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counts, action)
	return nil
}

func (c *memCounters) ResetAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts = make(map[string]int64)
	return nil
}

func (c *memCounters) All() (map[string]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out, nil
}

func testDispatcher(actions ...config.ShareAction) (*Dispatcher, *memCounters) {
	counters := newMemCounters()
	cfg := config.GroupShare{SharingEnabled: true, Actions: actions}
	return NewDispatcher(cfg, counters, sse.NewBus()), counters
}

// trueAction runs /usr/bin/true equivalent without depending on the path
func trueAction(name string) config.ShareAction {
	return config.ShareAction{
		Name:            name,
		CommandTemplate: []string{"true", filenamePlaceholder},
		TimeoutS:        5,
	}
}

func TestShareRunsCommand(t *testing.T) {
	d, counters := testDispatcher(trueAction("print"))

	require.NoError(t, d.Share(0, "/tmp/whatever.jpg"))

	used, _ := counters.Get(counterPrefix + "print")
	assert.EqualValues(t, 1, used)
}

func TestShareDisabled(t *testing.T) {
	d, _ := testDispatcher(trueAction("print"))
	d.cfg.SharingEnabled = false

	assert.Error(t, d.Share(0, "x.jpg"))
}

func TestShareUnknownIndex(t *testing.T) {
	d, _ := testDispatcher(trueAction("print"))
	assert.Error(t, d.Share(3, "x.jpg"))
}

func TestShareCooldownBlocks(t *testing.T) {
	action := trueAction("print")
	action.BlockedTimeS = 60
	d, _ := testDispatcher(action)

	require.NoError(t, d.Share(0, "x.jpg"))

	err := d.Share(0, "x.jpg")
	assert.ErrorIs(t, err, ErrBlocked)

	// resetting limits lifts the cooldown
	require.NoError(t, d.ResetLimits("print"))
	assert.NoError(t, d.Share(0, "x.jpg"))
}

func TestShareQuotaExceeded(t *testing.T) {
	action := trueAction("print")
	action.MaxShares = 2
	d, _ := testDispatcher(action)

	require.NoError(t, d.Share(0, "x.jpg"))
	require.NoError(t, d.Share(0, "x.jpg"))

	err := d.Share(0, "x.jpg")
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	require.NoError(t, d.ResetLimits(""))
	assert.NoError(t, d.Share(0, "x.jpg"))
}

func TestShareFailingCommand(t *testing.T) {
	d, counters := testDispatcher(config.ShareAction{
		Name:            "broken",
		CommandTemplate: []string{"false"},
		TimeoutS:        5,
	})

	assert.Error(t, d.Share(0, "x.jpg"))

	used, _ := counters.Get(counterPrefix + "broken")
	assert.EqualValues(t, 0, used, "failed shares must not count against the quota")
}

func TestLimitsCounter(t *testing.T) {
	d, _ := testDispatcher(trueAction("print"), trueAction("mail"))

	require.NoError(t, d.Share(0, "x.jpg"))

	limits := d.LimitsCounter()
	assert.EqualValues(t, 1, limits["print"])
	assert.EqualValues(t, 0, limits["mail"])
}
