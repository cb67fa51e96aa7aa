package source

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
)

// exifExtensions are the photo formats whose capture time is read from
// embedded metadata.
var exifExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".heic": true,
	".heif": true,
	".tif":  true,
	".tiff": true,
}

// captureTime returns when the photo at path was taken, falling back
// through DateTimeOriginal, CreateDate and ModifyDate. ok is false for
// non-photos and files without readable metadata.
func captureTime(path string) (time.Time, bool) {
	if !exifExtensions[strings.ToLower(filepath.Ext(path))] {
		return time.Time{}, false
	}
	f, err := os.Open(path)
	if err != nil {
		return time.Time{}, false
	}
	defer f.Close()

	exifData, err := imagemeta.Decode(f)
	if err != nil {
		log.Debug().Err(err).Str("path", path).Msg("No EXIF metadata, using modification time")
		return time.Time{}, false
	}
	for _, t := range []time.Time{exifData.DateTimeOriginal(), exifData.CreateDate(), exifData.ModifyDate()} {
		if !t.IsZero() {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
