// Package fetch downloads a finished batch's archive and unpacks it.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/spherical/pdf-converter/internal/domain"
	"github.com/spherical/pdf-converter/internal/observability"
)

// ProgressFunc reports downloaded bytes. total is -1 when unknown.
type ProgressFunc func(written, total int64)

// Downloader streams a remote archive into w.
type Downloader interface {
	Download(ctx context.Context, url string, w io.Writer, progress func(written, total int64)) (int64, error)
}

// Fetcher turns a result descriptor into files on disk.
type Fetcher struct {
	downloader Downloader
	logger     *observability.Logger
}

// NewFetcher creates a fetcher using downloader for archive transfers.
func NewFetcher(downloader Downloader, logger *observability.Logger) *Fetcher {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Fetcher{
		downloader: downloader,
		logger:     logger.WithOperation("fetch"),
	}
}

// FetchAndUnpack downloads desc's archive into outputDir, extracts it there
// and locates the primary document and image directory. The transient
// archive is removed whatever the outcome.
func (f *Fetcher) FetchAndUnpack(ctx context.Context, desc domain.ResultDescriptor, outputDir string, progress ProgressFunc) (domain.ConversionArtifact, error) {
	if desc.ArchiveURL == "" {
		return domain.ConversionArtifact{}, domain.NoResultURL(desc.BatchID.String())
	}

	dir, err := filepath.Abs(outputDir)
	if err != nil {
		return domain.ConversionArtifact{}, domain.ExtractionFailed("resolve output directory", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.ConversionArtifact{}, domain.ExtractionFailed("create output directory", err)
	}

	archivePath := filepath.Join(dir, transientName(desc.BatchID))
	defer func() {
		if err := os.Remove(archivePath); err != nil && !os.IsNotExist(err) {
			f.logger.Warn().Err(err).Str("path", archivePath).Msg("failed to remove transient archive")
		}
	}()

	logger := f.logger.WithContext(ctx).WithBatch(desc.BatchID.String())

	size, err := f.download(ctx, desc.ArchiveURL, archivePath, progress)
	if err != nil {
		return domain.ConversionArtifact{}, err
	}
	logger.Debug().Int64("bytes", size).Msg("archive downloaded")

	entries, err := unzip(ctx, archivePath, dir)
	if err != nil {
		return domain.ConversionArtifact{}, err
	}
	logger.Debug().Int("entries", entries).Msg("archive extracted")

	artifact, err := Locate(dir)
	if err != nil {
		return domain.ConversionArtifact{}, err
	}

	logger.Info().
		Str("markdown", artifact.MarkdownPath).
		Str("images_dir", artifact.ImagesDir).
		Int("images", artifact.ImageCount).
		Msg("result unpacked")

	return artifact, nil
}

func (f *Fetcher) download(ctx context.Context, url, path string, progress ProgressFunc) (int64, error) {
	out, err := os.Create(path)
	if err != nil {
		return 0, domain.DownloadFailed("create transient archive", err)
	}

	n, err := f.downloader.Download(ctx, url, out, progress)
	closeErr := out.Close()

	if err != nil {
		var de *domain.Error
		if errors.As(err, &de) {
			return n, err
		}
		return n, domain.DownloadFailed("download archive", err)
	}
	if closeErr != nil {
		return n, domain.DownloadFailed("write transient archive", closeErr)
	}
	return n, nil
}

// unzip extracts every entry of the archive at path under dir. Entries that
// would land outside dir fail the whole extraction before anything is
// written.
func unzip(ctx context.Context, path, dir string) (int, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return 0, domain.ExtractionFailed("open archive", err)
	}
	defer r.Close()

	targets := make([]string, len(r.File))
	for i, file := range r.File {
		target, err := safeJoin(dir, file.Name)
		if err != nil {
			return 0, err
		}
		targets[i] = target
	}

	for i, file := range r.File {
		if err := ctx.Err(); err != nil {
			return i, domain.Cancelled(err)
		}
		if err := extractEntry(file, targets[i]); err != nil {
			return i, domain.ExtractionFailed(fmt.Sprintf("extract %s", file.Name), err)
		}
	}

	return len(r.File), nil
}

func extractEntry(file *zip.File, target string) error {
	if file.FileInfo().IsDir() || strings.HasSuffix(file.Name, "/") {
		return os.MkdirAll(target, 0o755)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	src, err := file.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// safeJoin resolves an archive entry name under dir, rejecting absolute
// names and any that climb out with "..".
func safeJoin(dir, name string) (string, error) {
	clean := filepath.FromSlash(strings.ReplaceAll(name, "\\", "/"))
	if filepath.IsAbs(clean) || filepath.VolumeName(clean) != "" {
		return "", domain.ExtractionFailed(fmt.Sprintf("archive entry %q has an absolute path", name), nil)
	}

	target := filepath.Join(dir, clean)
	rel, err := filepath.Rel(dir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", domain.ExtractionFailed(fmt.Sprintf("archive entry %q escapes the output directory", name), err)
	}
	return target, nil
}

func transientName(batch domain.BatchHandle) string {
	id := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '.':
			return '_'
		}
		return r
	}, batch.String())
	if id == "" {
		id = "result"
	}
	return ".download-" + id + ".zip"
}
