// Package collection owns the media catalog: the on-disk filesets with their
// derived representations and the database records pointing at them. All
// catalog mutations emit DbInsert/DbRemove events so connected frontends stay
// in sync without polling.
package collection

import (
	"encoding/json"
	"fmt"
	"image"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/photobooth-app/photobooth/config"
	"github.com/photobooth-app/photobooth/models"
	"github.com/photobooth-app/photobooth/pipeline"
	"github.com/photobooth-app/photobooth/repository"
	"github.com/photobooth-app/photobooth/sse"
)

type Service struct {
	paths    config.Paths
	mediaCfg config.GroupMediaprocessing
	collCfg  config.GroupCollection

	repo repository.MediaItemRepository
	bus  *sse.Bus
}

func NewService(paths config.Paths, mediaCfg config.GroupMediaprocessing, collCfg config.GroupCollection, repo repository.MediaItemRepository, bus *sse.Bus) (*Service, error) {
	if err := ensureDirs(paths.MediaDir); err != nil {
		return nil, err
	}
	return &Service{
		paths:    paths,
		mediaCfg: mediaCfg,
		collCfg:  collCfg,
		repo:     repo,
		bus:      bus,
	}, nil
}

// newItem allocates the database record and filename for a fresh capture.
func newItem(t models.MediaType, hide bool, jobConfig interface{}) (*models.MediaItem, error) {
	id := uuid.New()
	now := time.Now()

	snapshot := "{}"
	if jobConfig != nil {
		b, err := json.Marshal(jobConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to snapshot job config: %w", err)
		}
		snapshot = string(b)
	}

	return &models.MediaItem{
		ID:        id,
		Type:      t,
		CreatedAt: now,
		Filename:  fmt.Sprintf("%s_%s.%s", now.Format("20060102-150405"), id.String()[:8], t.FileEnding()),
		Hide:      hide,
		JobConfig: snapshot,
	}, nil
}

// CreateStillItem processes one captured still through its pipeline
// definition and registers the resulting fileset. srcFile is consumed.
func (s *Service) CreateStillItem(srcFile string, t models.MediaType, def config.SinglePictureDefinition, hide bool) (*models.MediaItem, error) {
	item, err := newItem(t, hide, def)
	if err != nil {
		return nil, err
	}
	fileset := NewFileset(s.paths.MediaDir, item)

	if err := moveFile(srcFile, fileset.Path(VariantUnprocessed)); err != nil {
		return nil, fmt.Errorf("failed to store unprocessed capture: %w", err)
	}

	img, err := imaging.Open(fileset.Path(VariantUnprocessed), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode capture: %w", err)
	}

	processed := pipeline.Run(img, pipeline.StillStages(def, s.mediaCfg, s.paths.UserFile)...)

	if err := pipeline.SaveJPEG(processed, fileset.Path(VariantOriginal), s.mediaCfg.HiresStillQuality); err != nil {
		return nil, err
	}
	if err := s.generateScaled(fileset, processed); err != nil {
		return nil, err
	}

	return s.register(item, fileset)
}

// CreateCompositeItem registers an already rendered canvas (collage phase 2).
func (s *Service) CreateCompositeItem(img image.Image, t models.MediaType, jobConfig interface{}, hide bool) (*models.MediaItem, error) {
	item, err := newItem(t, hide, jobConfig)
	if err != nil {
		return nil, err
	}
	fileset := NewFileset(s.paths.MediaDir, item)

	if err := pipeline.SaveJPEG(img, fileset.Path(VariantOriginal), s.mediaCfg.HiresStillQuality); err != nil {
		return nil, err
	}
	if err := copyFile(fileset.Path(VariantOriginal), fileset.Path(VariantUnprocessed)); err != nil {
		return nil, fmt.Errorf("failed to store unprocessed composite: %w", err)
	}
	if err := s.generateScaled(fileset, img); err != nil {
		return nil, err
	}

	return s.register(item, fileset)
}

// CreateGifItem encodes frames into a looping animation (animation and
// multicamera phase 2). The first frame becomes the poster for the scaled
// representations.
func (s *Service) CreateGifItem(frames []image.Image, durationsMs []int, t models.MediaType, jobConfig interface{}, hide bool) (*models.MediaItem, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("animation needs at least one frame")
	}

	item, err := newItem(t, hide, jobConfig)
	if err != nil {
		return nil, err
	}
	fileset := NewFileset(s.paths.MediaDir, item)

	out, err := os.Create(fileset.Path(VariantOriginal))
	if err != nil {
		return nil, fmt.Errorf("failed to create animation file: %w", err)
	}
	if err := pipeline.EncodeGIF(out, frames, durationsMs); err != nil {
		out.Close()
		return nil, err
	}
	out.Close()

	if err := copyFile(fileset.Path(VariantOriginal), fileset.Path(VariantUnprocessed)); err != nil {
		return nil, fmt.Errorf("failed to store unprocessed animation: %w", err)
	}
	if err := s.generateScaled(fileset, frames[0]); err != nil {
		return nil, err
	}

	return s.register(item, fileset)
}

// CreateVideoItem finalizes a recorded clip: boomerang or duration trim per
// the processing definition, poster extraction for the scaled
// representations. videoFile is consumed.
func (s *Service) CreateVideoItem(videoFile string, proc config.VideoProcessing) (*models.MediaItem, error) {
	item, err := newItem(models.MediaTypeVideo, false, proc)
	if err != nil {
		return nil, err
	}
	fileset := NewFileset(s.paths.MediaDir, item)

	if err := moveFile(videoFile, fileset.Path(VariantUnprocessed)); err != nil {
		return nil, fmt.Errorf("failed to store recorded clip: %w", err)
	}

	if proc.Boomerang {
		err = pipeline.Boomerang(fileset.Path(VariantUnprocessed), fileset.Path(VariantOriginal), proc.BoomerangSpeed)
	} else {
		err = pipeline.TrimToDuration(fileset.Path(VariantUnprocessed), fileset.Path(VariantOriginal), proc.VideoDurationS)
	}
	if err != nil {
		return nil, err
	}

	posterPath := fileset.Path(VariantFull)
	if err := pipeline.ExtractPoster(fileset.Path(VariantOriginal), posterPath); err != nil {
		return nil, err
	}
	poster, err := imaging.Open(posterPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open poster frame: %w", err)
	}
	if err := pipeline.ScaledRepresentation(poster, fileset.Path(VariantPreview), s.mediaCfg.PreviewStillWidth, s.mediaCfg.PreviewStillQuality); err != nil {
		return nil, err
	}
	if err := pipeline.ScaledRepresentation(poster, fileset.Path(VariantThumbnail), s.mediaCfg.ThumbnailStillWidth, s.mediaCfg.ThumbnailStillQuality); err != nil {
		return nil, err
	}

	return s.register(item, fileset)
}

func (s *Service) generateScaled(fileset Fileset, processed image.Image) error {
	if err := pipeline.ScaledRepresentation(processed, fileset.Path(VariantFull), s.mediaCfg.FullStillWidth, s.mediaCfg.FullStillQuality); err != nil {
		return err
	}
	if err := pipeline.ScaledRepresentation(processed, fileset.Path(VariantPreview), s.mediaCfg.PreviewStillWidth, s.mediaCfg.PreviewStillQuality); err != nil {
		return err
	}
	return pipeline.ScaledRepresentation(processed, fileset.Path(VariantThumbnail), s.mediaCfg.ThumbnailStillWidth, s.mediaCfg.ThumbnailStillQuality)
}

func (s *Service) register(item *models.MediaItem, fileset Fileset) (*models.MediaItem, error) {
	if err := s.writeSidecar(item, fileset); err != nil {
		log.Printf("collection: sidecar write failed for %s: %v", item.ID, err)
	}

	if err := s.repo.Insert(item); err != nil {
		return nil, err
	}

	s.bus.Dispatch(sse.EventDbInsert{MediaItem: s.Public(item)})
	log.Printf("collection: registered %s item %s (%s)", item.Type, item.ID, item.Filename)
	return item, nil
}

// ApplyFilter reprocesses a still item from its unprocessed capture with a
// different filter. Only still types carry a picture definition snapshot.
func (s *Service) ApplyFilter(id uuid.UUID, filter string) (*models.MediaItem, error) {
	item, err := s.repo.GetByID(id)
	if err != nil {
		return nil, err
	}
	switch item.Type {
	case models.MediaTypeImage, models.MediaTypeCollageImage, models.MediaTypeAnimationImage:
	default:
		return nil, fmt.Errorf("filter cannot be applied to %s items", item.Type)
	}

	var def config.SinglePictureDefinition
	if err := json.Unmarshal([]byte(item.JobConfig), &def); err != nil {
		return nil, fmt.Errorf("processing snapshot of %s unreadable: %w", id, err)
	}
	def.Filter = filter

	fileset := NewFileset(s.paths.MediaDir, item)
	img, err := imaging.Open(fileset.Path(VariantUnprocessed), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("unprocessed capture of %s unreadable: %w", id, err)
	}

	processed := pipeline.Run(img, pipeline.StillStages(def, s.mediaCfg, s.paths.UserFile)...)
	if err := pipeline.SaveJPEG(processed, fileset.Path(VariantOriginal), s.mediaCfg.HiresStillQuality); err != nil {
		return nil, err
	}
	if err := s.generateScaled(fileset, processed); err != nil {
		return nil, err
	}

	snapshot, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot job config: %w", err)
	}
	item.JobConfig = string(snapshot)
	if err := s.repo.Update(item); err != nil {
		return nil, err
	}
	if err := s.writeSidecar(item, fileset); err != nil {
		log.Printf("collection: sidecar write failed for %s: %v", item.ID, err)
	}

	s.bus.Dispatch(sse.EventDbInsert{MediaItem: s.Public(item)})
	log.Printf("collection: reapplied filter '%s' on item %s", filter, item.ID)
	return item, nil
}

// Delete removes one item. User-initiated deletes move the original into the
// recycle directory when enabled; internal cleanup always unlinks.
func (s *Service) Delete(id uuid.UUID, userInitiated bool) error {
	item, err := s.repo.GetByID(id)
	if err != nil {
		return err
	}
	fileset := NewFileset(s.paths.MediaDir, item)

	if userInitiated && s.collCfg.RecycleEnabled {
		dst := filepath.Join(s.paths.MediaDir, recycleSubDir, item.Filename)
		if err := moveFile(fileset.Path(VariantOriginal), dst); err != nil {
			log.Printf("collection: recycle of %s failed, unlinking: %v", item.ID, err)
		}
	}

	for _, v := range Variants {
		os.Remove(fileset.Path(v))
	}
	os.Remove(fileset.SidecarPath())

	if err := s.repo.DeleteByID(id); err != nil {
		return err
	}

	s.bus.Dispatch(sse.EventDbRemove{MediaItem: s.Public(item)})
	log.Printf("collection: deleted item %s", item.ID)
	return nil
}

// DeleteAll clears the whole catalog. The recycle directory is untouched.
func (s *Service) DeleteAll() error {
	items, err := s.repo.List(0, 0)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := s.Delete(item.ID, true); err != nil {
			log.Printf("collection: delete of %s during clear failed: %v", item.ID, err)
		}
	}
	return nil
}

func (s *Service) Get(id uuid.UUID) (*models.MediaItem, error) { return s.repo.GetByID(id) }
func (s *Service) GetLatest() (*models.MediaItem, error)       { return s.repo.GetLatest() }
func (s *Service) Count() (int64, error)                       { return s.repo.Count() }

func (s *Service) List(offset, limit int) ([]models.MediaItemPublic, error) {
	items, err := s.repo.List(offset, limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.MediaItemPublic, 0, len(items))
	for i := range items {
		out = append(out, s.Public(&items[i]))
	}
	return out, nil
}

// OriginalPath resolves the processed original of an item already in hand.
func (s *Service) OriginalPath(item *models.MediaItem) string {
	return NewFileset(s.paths.MediaDir, item).Path(VariantOriginal)
}

// FilePath resolves the on-disk file for serving one representation.
func (s *Service) FilePath(id uuid.UUID, v Variant) (string, error) {
	item, err := s.repo.GetByID(id)
	if err != nil {
		return "", err
	}
	path := NewFileset(s.paths.MediaDir, item).Path(v)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("representation %s of %s missing: %w", v, id, err)
	}
	return path, nil
}

// Public builds the wire representation with download URLs per variant.
func (s *Service) Public(item *models.MediaItem) models.MediaItemPublic {
	urlFor := func(v Variant) string {
		return fmt.Sprintf("/media/%s/%s", v, item.ID)
	}
	return models.MediaItemPublic{
		ID:        item.ID,
		Type:      item.Type,
		CreatedAt: item.CreatedAt,
		Filename:  item.Filename,
		Hide:      item.Hide,
		Original:  urlFor(VariantOriginal),
		Full:      urlFor(VariantFull),
		Preview:   urlFor(VariantPreview),
		Thumbnail: urlFor(VariantThumbnail),
	}
}

func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	// rename fails across filesystems (tmp on tmpfs), fall back to copy
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open '%s': %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create '%s': %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy to '%s': %w", dst, err)
	}
	return nil
}
