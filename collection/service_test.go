package collection

import (
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photobooth-app/photobooth/config"
	"github.com/photobooth-app/photobooth/models"
	"github.com/photobooth-app/photobooth/repository"
	"github.com/photobooth-app/photobooth/sse"
)

// fakeRepo keeps the catalog in memory; the gorm implementation has its own
// tests in the repository package.
type fakeRepo struct {
	items map[uuid.UUID]models.MediaItem
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{items: make(map[uuid.UUID]models.MediaItem)}
}

func (r *fakeRepo) Insert(item *models.MediaItem) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	r.items[item.ID] = *item
	return nil
}

func (r *fakeRepo) Update(item *models.MediaItem) error {
	r.items[item.ID] = *item
	return nil
}

func (r *fakeRepo) GetByID(id uuid.UUID) (*models.MediaItem, error) {
	item, ok := r.items[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &item, nil
}

func (r *fakeRepo) GetLatest() (*models.MediaItem, error) {
	items, _ := r.List(0, 0)
	if len(items) == 0 {
		return nil, repository.ErrNotFound
	}
	return &items[0], nil
}

func (r *fakeRepo) List(offset, limit int) ([]models.MediaItem, error) {
	out := make([]models.MediaItem, 0, len(r.items))
	for _, item := range r.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeRepo) DeleteByID(id uuid.UUID) error {
	if _, ok := r.items[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.items, id)
	return nil
}

func (r *fakeRepo) DeleteAll() error {
	r.items = make(map[uuid.UUID]models.MediaItem)
	return nil
}

func (r *fakeRepo) Count() (int64, error) { return int64(len(r.items)), nil }

func testService(t *testing.T) (*Service, *fakeRepo, *sse.Bus) {
	t.Helper()

	dir := t.TempDir()
	paths := config.Paths{
		WorkingDir:  dir,
		MediaDir:    filepath.Join(dir, "media"),
		UserdataDir: filepath.Join(dir, "userdata"),
	}
	require.NoError(t, os.MkdirAll(paths.UserdataDir, 0o755))

	repo := newFakeRepo()
	bus := sse.NewBus()

	cfg := config.Default()
	svc, err := NewService(paths, cfg.Mediaprocessing, cfg.Collection, repo, bus)
	require.NoError(t, err)
	return svc, repo, bus
}

func captureFile(t *testing.T, w, h int) string {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 0x30, G: 0x90, B: 0x60, A: 0xff})
	path := filepath.Join(t.TempDir(), "capture.jpg")
	require.NoError(t, imaging.Save(img, path, imaging.JPEGQuality(90)))
	return path
}

func TestCreateStillItem(t *testing.T) {
	svc, repo, bus := testService(t)
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	item, err := svc.CreateStillItem(captureFile(t, 1600, 1200), models.MediaTypeImage, config.SinglePictureDefinition{Filter: "original"}, false)
	require.NoError(t, err)

	fileset := NewFileset(svc.paths.MediaDir, item)
	assert.True(t, fileset.Valid(), "all representations must exist")
	assert.FileExists(t, fileset.SidecarPath())

	count, _ := repo.Count()
	assert.EqualValues(t, 1, count)

	cancel := make(chan struct{})
	close(cancel)
	ev, ok := sub.Next(cancel)
	require.True(t, ok, "DbInsert must be queued")
	assert.Equal(t, "DbInsert", ev.Event)
	assert.Contains(t, string(ev.Data), item.ID.String())
}

func TestCreateStillItemHideFlag(t *testing.T) {
	svc, _, _ := testService(t)

	item, err := svc.CreateStillItem(captureFile(t, 800, 600), models.MediaTypeCollageImage, config.SinglePictureDefinition{}, true)
	require.NoError(t, err)
	assert.True(t, item.Hide)
	assert.Equal(t, models.MediaTypeCollageImage, item.Type)
}

func TestApplyFilterRegeneratesFromUnprocessed(t *testing.T) {
	svc, _, _ := testService(t)

	item, err := svc.CreateStillItem(captureFile(t, 800, 600), models.MediaTypeImage, config.SinglePictureDefinition{Filter: "original"}, false)
	require.NoError(t, err)

	fileset := NewFileset(svc.paths.MediaDir, item)
	before, err := os.ReadFile(fileset.Path(VariantOriginal))
	require.NoError(t, err)

	updated, err := svc.ApplyFilter(item.ID, "inkwell")
	require.NoError(t, err)
	assert.Contains(t, updated.JobConfig, "inkwell")

	after, err := os.ReadFile(fileset.Path(VariantOriginal))
	require.NoError(t, err)
	assert.NotEqual(t, before, after, "processed original must change with the filter")

	// video items carry no picture definition
	_, err = svc.ApplyFilter(uuid.New(), "inkwell")
	assert.Error(t, err)
}

func TestDeleteRecycles(t *testing.T) {
	svc, repo, _ := testService(t)

	item, err := svc.CreateStillItem(captureFile(t, 800, 600), models.MediaTypeImage, config.SinglePictureDefinition{}, false)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(item.ID, true))

	_, err = repo.GetByID(item.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	fileset := NewFileset(svc.paths.MediaDir, item)
	assert.NoFileExists(t, fileset.Path(VariantOriginal))
	assert.FileExists(t, filepath.Join(svc.paths.MediaDir, recycleSubDir, item.Filename))
}

func TestDeleteAllClearsCatalog(t *testing.T) {
	svc, repo, _ := testService(t)

	for i := 0; i < 3; i++ {
		_, err := svc.CreateStillItem(captureFile(t, 400, 300), models.MediaTypeImage, config.SinglePictureDefinition{}, false)
		require.NoError(t, err)
	}

	require.NoError(t, svc.DeleteAll())
	count, _ := repo.Count()
	assert.EqualValues(t, 0, count)
}

func TestReconcileAdoptsOrphanFromSidecar(t *testing.T) {
	svc, repo, _ := testService(t)

	item, err := svc.CreateStillItem(captureFile(t, 800, 600), models.MediaTypeImage, config.SinglePictureDefinition{Filter: "original"}, false)
	require.NoError(t, err)

	// simulate a lost database
	require.NoError(t, repo.DeleteByID(item.ID))

	require.NoError(t, svc.Reconcile())

	recovered, err := repo.GetByID(item.ID)
	require.NoError(t, err, "identity must come back from the sidecar")
	assert.Equal(t, item.Filename, recovered.Filename)
	assert.Equal(t, item.Type, recovered.Type)
}

func TestReconcileDropsRecordWithoutFile(t *testing.T) {
	svc, repo, _ := testService(t)

	item, err := svc.CreateStillItem(captureFile(t, 400, 300), models.MediaTypeImage, config.SinglePictureDefinition{}, false)
	require.NoError(t, err)

	fileset := NewFileset(svc.paths.MediaDir, item)
	require.NoError(t, os.Remove(fileset.Path(VariantOriginal)))

	require.NoError(t, svc.Reconcile())

	_, err = repo.GetByID(item.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestReconcileRegeneratesMissingScaled(t *testing.T) {
	svc, _, _ := testService(t)

	item, err := svc.CreateStillItem(captureFile(t, 800, 600), models.MediaTypeImage, config.SinglePictureDefinition{}, false)
	require.NoError(t, err)

	fileset := NewFileset(svc.paths.MediaDir, item)
	require.NoError(t, os.Remove(fileset.Path(VariantThumbnail)))

	require.NoError(t, svc.Reconcile())
	assert.FileExists(t, fileset.Path(VariantThumbnail))
}
