package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/media-bundler/internal/media"
)

// DirSource serves attachments from a local directory, typically an export
// made by a desktop messaging client. Each first-level subdirectory is
// treated as a topic.
type DirSource struct {
	// Root is joined with relative refs. Absolute refs are used as-is.
	Root string
}

// NewDirSource creates a DirSource rooted at root ("" for the working directory).
func NewDirSource(root string) *DirSource {
	return &DirSource{Root: root}
}

func (d *DirSource) resolve(ref string) string {
	if filepath.IsAbs(ref) || d.Root == "" {
		return filepath.Clean(ref)
	}
	return filepath.Join(d.Root, ref)
}

// List walks ref and returns regular files, newest first. Photos are dated
// by their EXIF capture time when they carry one.
func (d *DirSource) List(ctx context.Context, ref string, limit int) ([]media.RawMetadata, error) {
	dir := d.resolve(ref)
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, Permanent(fmt.Errorf("directory %s: %w", dir, ErrNotFound))
		}
		return nil, Permanent(fmt.Errorf("stat %s: %w", dir, err))
	}
	if !info.IsDir() {
		return nil, Permanent(fmt.Errorf("%s is not a directory", dir))
	}

	var items []media.RawMetadata
	err = filepath.WalkDir(dir, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			log.Warn().Err(walkErr).Str("path", path).Msg("Skipping unreadable path")
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if strings.HasPrefix(entry.Name(), ".") && path != dir {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !entry.Type().IsRegular() {
			return nil
		}

		fi, err := entry.Info()
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(dir, path)
		rel = filepath.ToSlash(rel)

		topic := ""
		if i := strings.IndexByte(rel, '/'); i > 0 {
			topic = rel[:i]
		}

		date := fi.ModTime().UTC()
		if taken, ok := captureTime(path); ok {
			date = taken
		}
		items = append(items, media.RawMetadata{
			ID:       rel,
			Filename: entry.Name(),
			Size:     fi.Size(),
			Date:     date,
			Topic:    topic,
			Ref:      path,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].Date.Equal(items[j].Date) {
			return items[i].Date.After(items[j].Date)
		}
		return items[i].ID < items[j].ID
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	log.Debug().Str("dir", dir).Int("count", len(items)).Msg("Listed directory source")
	return items, nil
}

// Fetch opens the file behind raw.Ref (or ID relative to Root).
func (d *DirSource) Fetch(ctx context.Context, raw media.RawMetadata) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := raw.Ref
	if path == "" {
		path = d.resolve(raw.ID)
	}

	f, err := os.Open(path)
	switch {
	case err == nil:
		return f, nil
	case errors.Is(err, fs.ErrNotExist):
		return nil, Permanent(fmt.Errorf("open %s: %w", path, ErrNotFound))
	case errors.Is(err, fs.ErrPermission):
		return nil, Permanent(fmt.Errorf("open %s: %w", path, err))
	default:
		return nil, Transient(fmt.Errorf("open %s: %w", path, err), 0)
	}
}
