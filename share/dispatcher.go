// Package share runs the configured share/print actions against media files.
// Commands are argv templates; the media filename is substituted as a literal
// argument and never passes through a shell.
package share

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/photobooth-app/photobooth/config"
	"github.com/photobooth-app/photobooth/repository"
	"github.com/photobooth-app/photobooth/sse"
)

var (
	// ErrBlocked rejects a share during an action's cooldown window.
	ErrBlocked = errors.New("share action is blocked, try again later")
	// ErrQuotaExceeded rejects a share once the action's quota is used up.
	ErrQuotaExceeded = errors.New("share quota exceeded")
)

const filenamePlaceholder = "{filename}"

// counterPrefix separates share-limit counters from the job usage counters in
// the shared table.
const counterPrefix = "share_"

type Dispatcher struct {
	cfg      config.GroupShare
	counters repository.UsageCounterRepository
	bus      *sse.Bus

	runMu sync.Mutex // one share command at a time

	mu           sync.Mutex
	blockedUntil map[string]time.Time
}

func NewDispatcher(cfg config.GroupShare, counters repository.UsageCounterRepository, bus *sse.Bus) *Dispatcher {
	return &Dispatcher{
		cfg:          cfg,
		counters:     counters,
		bus:          bus,
		blockedUntil: make(map[string]time.Time),
	}
}

// Actions lists the configured action names in order.
func (d *Dispatcher) Actions() []string {
	names := make([]string, 0, len(d.cfg.Actions))
	for _, a := range d.cfg.Actions {
		names = append(names, a.Name)
	}
	return names
}

// Share runs the indexed action for the given file. It enforces the
// per-action cooldown and quota and serializes command execution.
func (d *Dispatcher) Share(index int, filename string) error {
	if !d.cfg.SharingEnabled {
		return fmt.Errorf("sharing is disabled")
	}
	if index < 0 || index >= len(d.cfg.Actions) {
		return fmt.Errorf("no share action at index %d", index)
	}
	action := d.cfg.Actions[index]

	if err := d.checkBlocked(action); err != nil {
		return err
	}
	if err := d.checkQuota(action); err != nil {
		return err
	}

	d.runMu.Lock()
	defer d.runMu.Unlock()

	if err := d.run(action, filename); err != nil {
		return err
	}

	if _, err := d.counters.Increment(counterPrefix + action.Name); err != nil {
		log.Printf("share: limit counter increment failed: %v", err)
	}
	d.block(action)

	d.bus.Dispatch(sse.EventFrontendNotification{
		Caption: "Sharing",
		Message: fmt.Sprintf("'%s' started", action.Name),
		Icon:    "share",
		Spinner: true,
	})
	return nil
}

func (d *Dispatcher) checkBlocked(action config.ShareAction) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if until, ok := d.blockedUntil[action.Name]; ok && time.Now().Before(until) {
		remaining := time.Until(until).Round(time.Second)
		return fmt.Errorf("%w: '%s' available again in %s", ErrBlocked, action.Name, remaining)
	}
	return nil
}

func (d *Dispatcher) block(action config.ShareAction) {
	if action.BlockedTimeS <= 0 {
		return
	}
	d.mu.Lock()
	d.blockedUntil[action.Name] = time.Now().Add(time.Duration(action.BlockedTimeS) * time.Second)
	d.mu.Unlock()
}

func (d *Dispatcher) checkQuota(action config.ShareAction) error {
	if action.MaxShares <= 0 {
		return nil
	}
	used, err := d.counters.Get(counterPrefix + action.Name)
	if err != nil {
		return fmt.Errorf("failed to read share counter: %w", err)
	}
	if used >= int64(action.MaxShares) {
		return fmt.Errorf("%w: '%s' used %d of %d", ErrQuotaExceeded, action.Name, used, action.MaxShares)
	}
	return nil
}

func (d *Dispatcher) run(action config.ShareAction, filename string) error {
	argv := make([]string, len(action.CommandTemplate))
	for i, arg := range action.CommandTemplate {
		argv[i] = strings.ReplaceAll(arg, filenamePlaceholder, filename)
	}

	timeout := time.Duration(action.TimeoutS) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	out, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("share command '%s' timed out after %s", action.Name, timeout)
	}
	if err != nil {
		return fmt.Errorf("share command '%s' failed: %w (output: %s)", action.Name, err, strings.TrimSpace(string(out)))
	}

	log.Printf("share: '%s' completed for %s", action.Name, filename)
	return nil
}

// LimitsCounter reports the used share counts per action for the interval
// information record.
func (d *Dispatcher) LimitsCounter() map[string]int64 {
	out := make(map[string]int64, len(d.cfg.Actions))
	for _, a := range d.cfg.Actions {
		used, err := d.counters.Get(counterPrefix + a.Name)
		if err != nil {
			continue
		}
		out[a.Name] = used
	}
	return out
}

// ResetLimits clears the quota counter and cooldown of one action, or of all
// actions when name is empty.
func (d *Dispatcher) ResetLimits(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if name == "" {
		for _, a := range d.cfg.Actions {
			if err := d.counters.Reset(counterPrefix + a.Name); err != nil {
				return err
			}
		}
		d.blockedUntil = make(map[string]time.Time)
		return nil
	}

	delete(d.blockedUntil, name)
	return d.counters.Reset(counterPrefix + name)
}
