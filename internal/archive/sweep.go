package archive

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// BatchDirPrefix prefixes per-batch working directories.
const BatchDirPrefix = "batch-"

// SweepStale removes batch working directories and archives under root
// that are older than maxAge. These are left behind by runs that crashed
// before their own cleanup. It returns the number of entries removed.
func SweepStale(root string, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		name := e.Name()
		stale := (e.IsDir() && strings.HasPrefix(name, BatchDirPrefix)) ||
			(!e.IsDir() && strings.HasPrefix(name, "bundle-") && strings.HasSuffix(name, ".zip"))
		if !stale {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(root, name)
		if err := os.RemoveAll(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Failed to remove stale batch artifact")
			continue
		}
		removed++
		log.Debug().Str("path", path).Time("modified", info.ModTime()).Msg("Removed stale batch artifact")
	}

	if removed > 0 {
		log.Info().Str("root", root).Int("removed", removed).Msg("Swept stale batch artifacts")
	}
	return removed, nil
}
