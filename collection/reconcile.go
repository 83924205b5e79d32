package collection

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"github.com/facette/natsort"
	"github.com/google/uuid"
	"github.com/rwcarlsen/goexif/exif"

	"github.com/photobooth-app/photobooth/models"
	"github.com/photobooth-app/photobooth/pipeline"
)

// sidecar is the JSON metadata written next to each original so the catalog
// can be rebuilt after a database loss.
type sidecar struct {
	ID        uuid.UUID        `json:"id"`
	Type      models.MediaType `json:"media_type"`
	CreatedAt time.Time        `json:"created_at"`
	Hide      bool             `json:"hide"`
	JobConfig string           `json:"job_config"`
}

func (s *Service) writeSidecar(item *models.MediaItem, fileset Fileset) error {
	b, err := json.MarshalIndent(sidecar{
		ID:        item.ID,
		Type:      item.Type,
		CreatedAt: item.CreatedAt,
		Hide:      item.Hide,
		JobConfig: item.JobConfig,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sidecar: %w", err)
	}
	if err := os.WriteFile(fileset.SidecarPath(), b, 0o644); err != nil {
		return fmt.Errorf("failed to write sidecar: %w", err)
	}
	return nil
}

// Reconcile aligns database and disk at startup: records without an original
// file are dropped, orphan originals are adopted back into the catalog, and
// missing scaled representations are regenerated.
func (s *Service) Reconcile() error {
	items, err := s.repo.List(0, 1<<30)
	if err != nil {
		return err
	}

	known := make(map[string]*models.MediaItem, len(items))
	for i := range items {
		item := &items[i]
		fileset := NewFileset(s.paths.MediaDir, item)

		if _, err := os.Stat(fileset.Path(VariantOriginal)); err != nil {
			log.Printf("collection: original of %s gone, dropping record", item.ID)
			if err := s.repo.DeleteByID(item.ID); err != nil {
				log.Printf("collection: failed to drop record %s: %v", item.ID, err)
			}
			continue
		}
		known[item.Filename] = item
	}

	types := []models.MediaType{
		models.MediaTypeImage,
		models.MediaTypeCollage,
		models.MediaTypeCollageImage,
		models.MediaTypeAnimation,
		models.MediaTypeAnimationImage,
		models.MediaTypeVideo,
		models.MediaTypeMulticamera,
	}

	for _, t := range types {
		dir := filepath.Join(s.paths.MediaDir, string(t), string(VariantOriginal))
		entries, err := os.ReadDir(dir)
		if err != nil {
			log.Printf("collection: cannot scan %s: %v", dir, err)
			continue
		}

		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.IsDir() || filepath.Ext(e.Name()) == ".json" {
				continue
			}
			names = append(names, e.Name())
		}
		natsort.Sort(names)

		for _, name := range names {
			item, ok := known[name]
			if !ok {
				adopted, err := s.adoptOrphan(t, name)
				if err != nil {
					log.Printf("collection: skipping orphan %s/%s: %v", t, name, err)
					continue
				}
				item = adopted
			}

			s.regenerateMissing(item)
		}
	}

	log.Printf("collection: reconciliation done, %d items cataloged", len(known))
	return nil
}

// adoptOrphan re-registers a file found on disk without a catalog record.
// Identity and processing snapshot come from the sidecar; without one the
// item gets a fresh identity and the capture time falls back to EXIF, then
// file modification time.
func (s *Service) adoptOrphan(t models.MediaType, filename string) (*models.MediaItem, error) {
	originalPath := filepath.Join(s.paths.MediaDir, string(t), string(VariantOriginal), filename)

	item := &models.MediaItem{
		ID:        uuid.New(),
		Type:      t,
		Filename:  filename,
		JobConfig: "{}",
	}

	if b, err := os.ReadFile(originalPath + ".json"); err == nil {
		var sc sidecar
		if err := json.Unmarshal(b, &sc); err == nil && sc.ID != uuid.Nil {
			item.ID = sc.ID
			item.CreatedAt = sc.CreatedAt
			item.Hide = sc.Hide
			item.JobConfig = sc.JobConfig
		} else {
			log.Printf("collection: sidecar of %s unreadable, assigning new identity", filename)
		}
	}

	if item.CreatedAt.IsZero() {
		item.CreatedAt = captureTime(originalPath)
	}

	if err := s.repo.Insert(item); err != nil {
		return nil, err
	}
	log.Printf("collection: adopted orphan %s as %s", filename, item.ID)
	return item, nil
}

// captureTime prefers the EXIF timestamp; file mtime is the last resort.
func captureTime(path string) time.Time {
	if f, err := os.Open(path); err == nil {
		defer f.Close()
		if x, err := exif.Decode(f); err == nil {
			if dt, err := x.DateTime(); err == nil {
				return dt
			}
		}
	}

	if info, err := os.Stat(path); err == nil {
		return info.ModTime()
	}
	return time.Now()
}

func (s *Service) regenerateMissing(item *models.MediaItem) {
	fileset := NewFileset(s.paths.MediaDir, item)
	missing := fileset.MissingScaled()
	if len(missing) == 0 {
		return
	}

	var source string
	if item.Type.IsVideo() {
		// poster regeneration for videos needs ffmpeg; use the existing full
		// representation when available, otherwise skip
		source = fileset.Path(VariantFull)
	} else {
		source = fileset.Path(VariantOriginal)
	}

	img, err := imaging.Open(source)
	if err != nil {
		log.Printf("collection: cannot regenerate representations of %s: %v", item.ID, err)
		return
	}

	for _, v := range missing {
		var width, quality int
		switch v {
		case VariantFull:
			width, quality = s.mediaCfg.FullStillWidth, s.mediaCfg.FullStillQuality
		case VariantPreview:
			width, quality = s.mediaCfg.PreviewStillWidth, s.mediaCfg.PreviewStillQuality
		case VariantThumbnail:
			width, quality = s.mediaCfg.ThumbnailStillWidth, s.mediaCfg.ThumbnailStillQuality
		}
		if err := pipeline.ScaledRepresentation(img, fileset.Path(v), width, quality); err != nil {
			log.Printf("collection: regeneration of %s %s failed: %v", item.ID, v, err)
			continue
		}
		log.Printf("collection: regenerated %s representation of %s", v, item.ID)
	}
}
