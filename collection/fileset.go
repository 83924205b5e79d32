package collection

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/photobooth-app/photobooth/models"
)

// Variant names the derived representations of one catalog item. The
// unprocessed variant is the raw capture before any pipeline stage ran; it is
// what filter re-application starts from.
type Variant string

const (
	VariantUnprocessed Variant = "unprocessed"
	VariantOriginal    Variant = "original"
	VariantFull        Variant = "full"
	VariantPreview     Variant = "preview"
	VariantThumbnail   Variant = "thumbnail"
)

// Variants in generation order; unprocessed first so a crash mid-create never
// leaves a processed file without its source.
var Variants = []Variant{VariantUnprocessed, VariantOriginal, VariantFull, VariantPreview, VariantThumbnail}

// scaledVariants are always jpg regardless of the original file type.
var scaledVariants = []Variant{VariantFull, VariantPreview, VariantThumbnail}

const recycleSubDir = "recycle"

// Fileset resolves the on-disk paths of one item. Layout below the media
// directory is media/<type>/<variant>/<filename>.
type Fileset struct {
	mediaDir string
	item     *models.MediaItem
}

func NewFileset(mediaDir string, item *models.MediaItem) Fileset {
	return Fileset{mediaDir: mediaDir, item: item}
}

func (f Fileset) Path(v Variant) string {
	name := f.item.Filename
	if v == VariantFull || v == VariantPreview || v == VariantThumbnail {
		// scaled representations of gif/mp4 originals are poster stills
		name = scaledName(f.item.Filename)
	}
	return filepath.Join(f.mediaDir, string(f.item.Type), string(v), name)
}

// SidecarPath is the JSON metadata file next to the original, used to
// repopulate the catalog when the database is lost.
func (f Fileset) SidecarPath() string {
	return f.Path(VariantOriginal) + ".json"
}

// Valid reports whether every representation exists on disk.
func (f Fileset) Valid() bool {
	for _, v := range Variants {
		if _, err := os.Stat(f.Path(v)); err != nil {
			return false
		}
	}
	return true
}

// MissingScaled lists the scaled representations that need regeneration.
func (f Fileset) MissingScaled() []Variant {
	var missing []Variant
	for _, v := range scaledVariants {
		if _, err := os.Stat(f.Path(v)); err != nil {
			missing = append(missing, v)
		}
	}
	return missing
}

func scaledName(filename string) string {
	ext := filepath.Ext(filename)
	return filename[:len(filename)-len(ext)] + ".jpg"
}

// ensureDirs creates the variant directories for every media type plus the
// recycle bin.
func ensureDirs(mediaDir string) error {
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
		for _, v := range Variants {
			dir := filepath.Join(mediaDir, string(t), string(v))
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create media directory '%s': %w", dir, err)
			}
		}
	}
	if err := os.MkdirAll(filepath.Join(mediaDir, recycleSubDir), 0o755); err != nil {
		return fmt.Errorf("failed to create recycle directory: %w", err)
	}
	return nil
}
