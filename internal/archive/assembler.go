// Package archive bundles finished batch files into a single ZIP, keeps the
// produced archives until they are retrieved or expire, and publishes them
// to S3 when running in Lambda.
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"

	"github.com/fpang/media-bundler/internal/mediaprobe"
	"github.com/fpang/media-bundler/internal/metrics"
)

// ErrAssemblyFailed is returned when any file cannot be added. No partial
// archive is left behind.
var ErrAssemblyFailed = errors.New("archive assembly failed")

// Compression selects the ZIP method for archive entries.
type Compression string

const (
	CompressDeflate Compression = "deflate"
	CompressZstd    Compression = "zstd"
	CompressStore   Compression = "store"
)

// ParseCompression validates a configured compression name.
func ParseCompression(s string) (Compression, error) {
	switch c := Compression(s); c {
	case CompressDeflate, CompressZstd, CompressStore:
		return c, nil
	case "":
		return CompressDeflate, nil
	}
	return "", fmt.Errorf("unknown archive compression %q (want deflate, zstd or store)", s)
}

func (c Compression) method() uint16 {
	switch c {
	case CompressZstd:
		return zstd.ZipMethodWinZip
	case CompressStore:
		return zip.Store
	}
	return zip.Deflate
}

// Entry is one file to bundle. Name is the archive name chosen by the
// caller; duplicates are still disambiguated with " (n)".
type Entry struct {
	Index int
	Name  string
	Path  string
}

// ArchivedFile records where an entry ended up.
type ArchivedFile struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Size  int64  `json:"size"`
}

// Handle references a finished archive on local disk.
type Handle struct {
	ID        string         `json:"id"`
	BatchID   string         `json:"batchId"`
	Path      string         `json:"-"`
	Size      int64          `json:"size"`
	Files     []ArchivedFile `json:"files"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Filename is the download name offered to clients.
func (h *Handle) Filename() string {
	return "media-" + h.BatchID + ".zip"
}

// NameOf returns the archive name of the entry with the given index.
func (h *Handle) NameOf(index int) (string, bool) {
	for _, f := range h.Files {
		if f.Index == index {
			return f.Name, true
		}
	}
	return "", false
}

// Assembler writes archives into Dir.
type Assembler struct {
	dir         string
	compression Compression
}

// NewAssembler creates an Assembler writing into dir ("" for the OS temp dir).
func NewAssembler(dir string, compression Compression) *Assembler {
	if dir == "" {
		dir = os.TempDir()
	}
	if compression == "" {
		compression = CompressDeflate
	}
	return &Assembler{dir: dir, compression: compression}
}

// Dir returns the directory archives are written to.
func (a *Assembler) Dir() string {
	return a.dir
}

// Assemble writes entries, in order, into a new ZIP. It returns (nil, nil)
// when there is nothing to bundle. Any I/O error removes the partial file
// and returns an error wrapping ErrAssemblyFailed.
func (a *Assembler) Assemble(ctx context.Context, batchID string, entries []Entry) (handle *Handle, err error) {
	if len(entries) == 0 {
		return nil, nil
	}
	start := time.Now()

	if err := os.MkdirAll(a.dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: create archive dir: %w", ErrAssemblyFailed, err)
	}
	f, err := os.CreateTemp(a.dir, "bundle-"+batchID+"-*.zip")
	if err != nil {
		return nil, fmt.Errorf("%w: create archive: %w", ErrAssemblyFailed, err)
	}
	path := f.Name()
	defer func() {
		if err != nil {
			f.Close()
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				log.Warn().Err(rmErr).Str("path", path).Msg("Failed to remove partial archive")
			}
		}
	}()

	zw := zip.NewWriter(f)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.DefaultCompression)
	})
	zw.RegisterCompressor(zstd.ZipMethodWinZip, zstd.ZipCompressor(zstd.WithEncoderLevel(zstd.SpeedBetterCompression)))

	namer := mediaprobe.NewNamer()
	files := make([]ArchivedFile, 0, len(entries))
	for _, e := range entries {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrAssemblyFailed, ctxErr)
		}
		name := namer.Assign(e.Name)
		n, addErr := a.addFile(zw, name, e.Path)
		if addErr != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrAssemblyFailed, name, addErr)
		}
		files = append(files, ArchivedFile{Index: e.Index, Name: name, Size: n})
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("%w: close ZIP writer: %w", ErrAssemblyFailed, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("%w: close archive: %w", ErrAssemblyFailed, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: stat archive: %w", ErrAssemblyFailed, err)
	}

	handle = &Handle{
		ID:        uuid.NewString(),
		BatchID:   batchID,
		Path:      path,
		Size:      info.Size(),
		Files:     files,
		CreatedAt: time.Now().UTC(),
	}

	elapsed := time.Since(start)
	metrics.New(metrics.Namespace).
		Metric("ArchiveMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
		Metric("ArchiveBytes", float64(handle.Size), metrics.UnitBytes).
		Property("compression", string(a.compression)).
		Flush()

	log.Info().
		Str("batch", batchID).
		Str("archive", path).
		Int("files", len(files)).
		Int64("size", handle.Size).
		Str("compression", string(a.compression)).
		Dur("elapsed", elapsed).
		Msg("Archive assembled")

	return handle, nil
}

func (a *Assembler) addFile(zw *zip.Writer, name, path string) (int64, error) {
	src, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return 0, err
	}

	header := &zip.FileHeader{
		Name:   filepath.ToSlash(name),
		Method: a.compression.method(),
	}
	header.Modified = info.ModTime()
	header.SetMode(0o644)

	w, err := zw.CreateHeader(header)
	if err != nil {
		return 0, err
	}
	return io.Copy(w, src)
}
