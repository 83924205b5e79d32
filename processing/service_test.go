package processing

import (
	"encoding/json"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photobooth-app/photobooth/collection"
	"github.com/photobooth-app/photobooth/config"
	"github.com/photobooth-app/photobooth/models"
	"github.com/photobooth-app/photobooth/repository"
	"github.com/photobooth-app/photobooth/sse"
)

type memRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]models.MediaItem
}

func newMemRepo() *memRepo { return &memRepo{items: make(map[uuid.UUID]models.MediaItem)} }

func (r *memRepo) Insert(item *models.MediaItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	r.items[item.ID] = *item
	return nil
}

func (r *memRepo) Update(item *models.MediaItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[item.ID] = *item
	return nil
}

func (r *memRepo) GetByID(id uuid.UUID) (*models.MediaItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &item, nil
}

func (r *memRepo) GetLatest() (*models.MediaItem, error) {
	items, _ := r.List(0, 0)
	if len(items) == 0 {
		return nil, repository.ErrNotFound
	}
	return &items[0], nil
}

func (r *memRepo) List(offset, limit int) ([]models.MediaItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.MediaItem, 0, len(r.items))
	for _, item := range r.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memRepo) DeleteByID(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.items, id)
	return nil
}

func (r *memRepo) DeleteAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = make(map[uuid.UUID]models.MediaItem)
	return nil
}

func (r *memRepo) Count() (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.items)), nil
}

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

// fakeCamera writes synthesized stills instead of talking to hardware.
type fakeCamera struct {
	dir string

	mu             sync.Mutex
	recording      bool
	recordsStarted int
	recordsStopped int
	stillGate      chan struct{} // when set, still captures block until closed
}

func (c *fakeCamera) gateStills() chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stillGate = make(chan struct{})
	return c.stillGate
}

func (c *fakeCamera) still() (string, error) {
	img := imaging.New(320, 240, color.NRGBA{R: 0x50, G: 0x70, B: 0x90, A: 0xff})
	f, err := os.CreateTemp(c.dir, "fake_*.jpg")
	if err != nil {
		return "", err
	}
	f.Close()
	if err := imaging.Save(img, f.Name(), imaging.JPEGQuality(85)); err != nil {
		return "", err
	}
	return f.Name(), nil
}

func (c *fakeCamera) WaitForStillFile() (string, error) {
	c.mu.Lock()
	gate := c.stillGate
	c.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return c.still()
}

func (c *fakeCamera) WaitForMulticamFiles() ([]string, error) {
	files := make([]string, 3)
	for i := range files {
		f, err := c.still()
		if err != nil {
			return nil, err
		}
		files[i] = f
	}
	return files, nil
}

func (c *fakeCamera) StartRecording(int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recording = true
	c.recordsStarted++
	return nil
}

func (c *fakeCamera) StopRecording() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recording = false
	c.recordsStopped++
	return nil
}

func (c *fakeCamera) recordCounts() (started, stopped int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recordsStarted, c.recordsStopped
}

func (c *fakeCamera) GetRecordedVideo() (string, error) {
	f, err := os.CreateTemp(c.dir, "fake_*.mjpeg")
	if err != nil {
		return "", err
	}
	f.WriteString("not a real clip")
	f.Close()
	return f.Name(), nil
}

func (c *fakeCamera) SignalConfigureOptimizedForHQPreview() {}
func (c *fakeCamera) SignalConfigureOptimizedForHQCapture() {}
func (c *fakeCamera) SignalConfigureOptimizedForVideo()     {}
func (c *fakeCamera) SignalConfigureOptimizedForIdle()      {}

func testSetup(t *testing.T, mutate func(*config.AppConfig)) (*Service, *memRepo, *sse.Bus) {
	t.Helper()

	dir := t.TempDir()
	paths := config.Paths{
		WorkingDir:  dir,
		MediaDir:    filepath.Join(dir, "media"),
		UserdataDir: filepath.Join(dir, "userdata"),
	}
	require.NoError(t, os.MkdirAll(paths.UserdataDir, 0o755))

	cfg := config.Default()
	// no waiting in tests unless a test opts in
	cfg.Actions.Image[0].JobControl.CountdownCapture = 0
	cfg.Actions.Collage[0].JobControl.CountdownCapture = 0
	cfg.Actions.Collage[0].JobControl.CountdownCaptureSecondFollowing = 0
	cfg.Actions.Animation[0].JobControl.CountdownCapture = 0
	cfg.Actions.Animation[0].JobControl.CountdownCaptureSecondFollowing = 0
	cfg.Actions.Multicamera[0].JobControl.CountdownCapture = 0
	cfg.Backends.CountdownCameraCaptureOffset = 0
	if mutate != nil {
		mutate(&cfg)
	}

	repo := newMemRepo()
	bus := sse.NewBus()
	coll, err := collection.NewService(paths, cfg.Mediaprocessing, cfg.Collection, repo, bus)
	require.NoError(t, err)

	cam := &fakeCamera{dir: t.TempDir()}
	svc := NewService(&cfg, paths, cam, coll, newMemCounters(), bus)
	return svc, repo, bus
}

// waitForState consumes stateinfo events until the wanted state shows up.
func waitForState(t *testing.T, sub *sse.Subscriber, want string) {
	t.Helper()

	deadline := time.After(10 * time.Second)
	cancel := make(chan struct{})
	go func() {
		<-deadline
		close(cancel)
	}()

	for {
		ev, ok := sub.Next(cancel)
		require.True(t, ok, "timed out waiting for state %s", want)
		if ev.Event != "ProcessStateinfo" {
			continue
		}
		var info JobInfo
		if err := json.Unmarshal(ev.Data, &info); err != nil {
			continue
		}
		if info.State == want {
			return
		}
	}
}

func TestImageJobAddsOneItem(t *testing.T) {
	svc, repo, _ := testSetup(t, nil)

	require.NoError(t, svc.TriggerAction(ActionImage, 0))
	require.NoError(t, svc.WaitUntilJobFinished(10*time.Second))

	count, _ := repo.Count()
	assert.EqualValues(t, 1, count)
	assert.False(t, svc.Busy())
}

func TestTriggerWhileBusyIsRejected(t *testing.T) {
	svc, _, _ := testSetup(t, func(cfg *config.AppConfig) {
		cfg.Actions.Image[0].JobControl.CountdownCapture = 2
	})

	require.NoError(t, svc.TriggerAction(ActionImage, 0))
	err := svc.TriggerAction(ActionImage, 0)
	assert.ErrorIs(t, err, ErrMachineOccupied)

	require.NoError(t, svc.AbortProcess())
	require.NoError(t, svc.WaitUntilJobFinished(10*time.Second))
}

func TestTriggerUnknownIndexFails(t *testing.T) {
	svc, _, _ := testSetup(t, nil)

	assert.Error(t, svc.TriggerAction(ActionImage, 7))
	assert.Error(t, svc.TriggerAction(ActionKind("bogus"), 0))
	assert.False(t, svc.Busy())
}

func TestCollageProducesCompositeAndCaptures(t *testing.T) {
	svc, repo, _ := testSetup(t, nil)

	require.NoError(t, svc.TriggerAction(ActionCollage, 0))
	require.NoError(t, svc.WaitUntilJobFinished(30*time.Second))

	items, err := repo.List(0, 0)
	require.NoError(t, err)
	// default collage has 3 capture slots plus the composite
	require.Len(t, items, 4)

	var composites, captures int
	for _, item := range items {
		switch item.Type {
		case models.MediaTypeCollage:
			composites++
		case models.MediaTypeCollageImage:
			captures++
		}
	}
	assert.Equal(t, 1, composites)
	assert.Equal(t, 3, captures)
}

func TestCollageRejectRetakes(t *testing.T) {
	svc, repo, bus := testSetup(t, func(cfg *config.AppConfig) {
		cfg.Actions.Collage[0].JobControl.AskApprovalEachCapture = true
		cfg.Actions.Collage[0].JobControl.ApproveAutoconfirmTimeout = 60
		cfg.Actions.Collage[0].Processing.MergeDefinition = cfg.Actions.Collage[0].Processing.MergeDefinition[:2]
	})

	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	require.NoError(t, svc.TriggerAction(ActionCollage, 0))

	waitForState(t, sub, string(stateApproval))
	require.NoError(t, svc.RejectCapture())

	// the retake needs approval again
	waitForState(t, sub, string(stateApproval))
	require.NoError(t, svc.ContinueProcess())

	waitForState(t, sub, string(stateApproval))
	require.NoError(t, svc.ContinueProcess())

	require.NoError(t, svc.WaitUntilJobFinished(30*time.Second))

	items, err := repo.List(0, 0)
	require.NoError(t, err)
	// rejected capture is gone: 2 kept captures + composite
	assert.Len(t, items, 3)
}

func TestApprovalAutoconfirms(t *testing.T) {
	svc, repo, _ := testSetup(t, func(cfg *config.AppConfig) {
		cfg.Actions.Collage[0].JobControl.AskApprovalEachCapture = true
		cfg.Actions.Collage[0].JobControl.ApproveAutoconfirmTimeout = 1
		cfg.Actions.Collage[0].Processing.MergeDefinition = cfg.Actions.Collage[0].Processing.MergeDefinition[:1]
	})

	require.NoError(t, svc.TriggerAction(ActionCollage, 0))
	require.NoError(t, svc.WaitUntilJobFinished(30*time.Second))

	count, _ := repo.Count()
	assert.EqualValues(t, 2, count, "capture plus composite after silent approval")
}

func TestAbortDiscardsCaptures(t *testing.T) {
	svc, repo, bus := testSetup(t, func(cfg *config.AppConfig) {
		cfg.Actions.Collage[0].JobControl.AskApprovalEachCapture = true
		cfg.Actions.Collage[0].JobControl.ApproveAutoconfirmTimeout = 60
	})

	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	require.NoError(t, svc.TriggerAction(ActionCollage, 0))
	waitForState(t, sub, string(stateApproval))

	require.NoError(t, svc.AbortProcess())
	require.NoError(t, svc.WaitUntilJobFinished(10*time.Second))

	count, _ := repo.Count()
	assert.EqualValues(t, 0, count, "aborted job must leave no items behind")
	assert.False(t, svc.Busy())
}

func TestCountdownZeroSkipsCounting(t *testing.T) {
	svc, _, bus := testSetup(t, nil)

	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	require.NoError(t, svc.TriggerAction(ActionImage, 0))
	require.NoError(t, svc.WaitUntilJobFinished(10*time.Second))

	cancel := make(chan struct{})
	close(cancel)
	for {
		ev, ok := sub.Next(cancel)
		if !ok {
			break
		}
		if ev.Event != "ProcessStateinfo" {
			continue
		}
		var info JobInfo
		if err := json.Unmarshal(ev.Data, &info); err != nil {
			continue
		}
		assert.NotEqual(t, string(stateCounting), info.State, "countdown 0 must never enter counting")
	}
}

func TestCollageCountdownZeroSkipsCounting(t *testing.T) {
	svc, _, bus := testSetup(t, nil)

	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	require.NoError(t, svc.TriggerAction(ActionCollage, 0))
	require.NoError(t, svc.WaitUntilJobFinished(30*time.Second))

	cancel := make(chan struct{})
	close(cancel)
	for {
		ev, ok := sub.Next(cancel)
		if !ok {
			break
		}
		if ev.Event != "ProcessStateinfo" {
			continue
		}
		var info JobInfo
		if err := json.Unmarshal(ev.Data, &info); err != nil {
			continue
		}
		assert.NotEqual(t, string(stateCounting), info.State, "countdown 0 must never enter counting between captures")
	}
}

func TestAbortDuringCaptureDiscardsCapture(t *testing.T) {
	svc, repo, bus := testSetup(t, nil)
	cam := svc.camera.(*fakeCamera)
	gate := cam.gateStills()

	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	require.NoError(t, svc.TriggerAction(ActionImage, 0))
	waitForState(t, sub, string(stateCapture))

	// abort lands while the shutter is still open
	require.NoError(t, svc.AbortProcess())
	close(gate)

	require.NoError(t, svc.WaitUntilJobFinished(10*time.Second))

	count, _ := repo.Count()
	assert.EqualValues(t, 0, count, "aborted job must not retain the capture")
	assert.False(t, svc.Busy())
}

func TestVideoTriggerWhileRecordingStops(t *testing.T) {
	svc, _, bus := testSetup(t, func(cfg *config.AppConfig) {
		cfg.Actions.Video[0].JobControl.CountdownCapture = 0
		cfg.Actions.Video[0].Processing.VideoDurationS = 30
	})

	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	require.NoError(t, svc.TriggerAction(ActionVideo, 0))
	waitForState(t, sub, string(stateRecord))

	// second video trigger stops the recording instead of failing
	require.NoError(t, svc.TriggerAction(ActionVideo, 0))
	require.NoError(t, svc.WaitUntilJobFinished(15*time.Second))

	started, stopped := svc.camera.(*fakeCamera).recordCounts()
	assert.Equal(t, 1, started)
	assert.Equal(t, 1, stopped)
	assert.False(t, svc.Busy())
}

func TestStopRecordingEndsVideoJobEarly(t *testing.T) {
	svc, _, bus := testSetup(t, func(cfg *config.AppConfig) {
		cfg.Actions.Video[0].JobControl.CountdownCapture = 0
		cfg.Actions.Video[0].Processing.VideoDurationS = 30
	})

	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	require.NoError(t, svc.TriggerAction(ActionVideo, 0))
	waitForState(t, sub, string(stateRecord))

	require.NoError(t, svc.StopRecording())
	require.NoError(t, svc.WaitUntilJobFinished(15*time.Second))

	_, stopped := svc.camera.(*fakeCamera).recordCounts()
	assert.Equal(t, 1, stopped)
	assert.False(t, svc.Busy())
}

func TestAbortDuringRecordingDiscards(t *testing.T) {
	svc, repo, bus := testSetup(t, func(cfg *config.AppConfig) {
		cfg.Actions.Video[0].JobControl.CountdownCapture = 0
		cfg.Actions.Video[0].Processing.VideoDurationS = 30
	})

	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	require.NoError(t, svc.TriggerAction(ActionVideo, 0))
	waitForState(t, sub, string(stateRecord))

	require.NoError(t, svc.AbortProcess())
	require.NoError(t, svc.WaitUntilJobFinished(10*time.Second))

	count, _ := repo.Count()
	assert.EqualValues(t, 0, count)
	_, stopped := svc.camera.(*fakeCamera).recordCounts()
	assert.Equal(t, 1, stopped, "abort must stop the running recording")
}

func TestCurrentJobInfoConcurrentWithJob(t *testing.T) {
	svc, _, _ := testSetup(t, nil)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				svc.CurrentJobInfo()
			}
		}
	}()

	require.NoError(t, svc.TriggerAction(ActionCollage, 0))
	require.NoError(t, svc.WaitUntilJobFinished(30*time.Second))
	close(stop)
	wg.Wait()

	assert.Nil(t, svc.CurrentJobInfo(), "idle machine has no snapshot")
}

func TestMulticameraProducesWigglegram(t *testing.T) {
	svc, repo, _ := testSetup(t, nil)

	require.NoError(t, svc.TriggerAction(ActionMulticamera, 0))
	require.NoError(t, svc.WaitUntilJobFinished(30*time.Second))

	items, err := repo.List(0, 0)
	require.NoError(t, err)

	var gifs, stills, hidden int
	for _, item := range items {
		switch item.Type {
		case models.MediaTypeMulticamera:
			gifs++
		case models.MediaTypeImage:
			stills++
			if item.Hide {
				hidden++
			}
		}
	}
	assert.Equal(t, 1, gifs)
	assert.Equal(t, 3, stills, "one still per node")
	assert.Equal(t, 3, hidden, "default wigglegram hides individual stills")
}

func TestPredefinedSlotsReduceCaptures(t *testing.T) {
	svc, _, _ := testSetup(t, func(cfg *config.AppConfig) {
		cfg.Actions.Collage[0].Processing.MergeDefinition[1].PredefinedImage = "logo.png"
	})

	j, err := svc.buildJob(ActionCollage, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, j.capturesTotal, "predefined slot needs no capture")
}

func TestStateTable(t *testing.T) {
	for _, tc := range []struct {
		from state
		ev   event
		job  job
		want state
	}{
		{stateStart, evStarted, job{kind: ActionImage, countdownFirst: 3}, stateCounting},
		{stateStart, evStarted, job{kind: ActionImage}, stateCapture},
		{stateStart, evStarted, job{kind: ActionVideo}, stateRecord},
		{stateStart, evStarted, job{kind: ActionCollage}, stateMulticapture},
		{stateCounting, evCountdownDone, job{kind: ActionVideo}, stateRecord},
		{stateMulticapture, evCaptureDone, job{kind: ActionCollage, askApproval: true}, stateApproval},
		{stateMulticapture, evCaptureDone, job{kind: ActionCollage, countdownFirst: 3, capturesTotal: 2, capturesTaken: 1}, stateCounting},
		{stateMulticapture, evCaptureDone, job{kind: ActionCollage, capturesTotal: 2, capturesTaken: 1}, stateMulticapture},
		{stateMulticapture, evCaptureDone, job{kind: ActionCollage, capturesTotal: 2, capturesTaken: 2}, stateCompleted},
		{stateApproval, evReject, job{kind: ActionCollage, countdownFirst: 3}, stateCounting},
		{stateApproval, evReject, job{kind: ActionCollage}, stateMulticapture},
		{stateApproval, evConfirm, job{kind: ActionCollage, countdownFirst: 3, capturesTotal: 2, capturesTaken: 1}, stateCounting},
		{stateApproval, evConfirm, job{kind: ActionCollage, capturesTotal: 2, capturesTaken: 1}, stateMulticapture},
		{stateApproval, evConfirm, job{kind: ActionCollage, capturesTotal: 1, capturesTaken: 1}, stateCompleted},
		{stateRecord, evCaptureDone, job{kind: ActionVideo}, stateCompleted},
		{stateCompleted, evProcessed, job{}, statePresent},
		{statePresent, evPresented, job{}, stateFinished},
		{stateCounting, evAbort, job{}, stateFinished},
	} {
		j := tc.job
		j.state = tc.from
		got, ok := nextState(&j, tc.ev)
		require.True(t, ok, fmt.Sprintf("(%s, %s)", tc.from, tc.ev))
		assert.Equal(t, tc.want, got, fmt.Sprintf("(%s, %s)", tc.from, tc.ev))
	}
}
