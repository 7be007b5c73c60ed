package fetch

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spherical/pdf-converter/internal/domain"
)

const (
	documentExt = ".md"
	imagesDir   = "images"
)

// Locate finds the converted document and image directory under dir.
// Candidates are ordered by their slash-separated path relative to dir so
// the choice does not depend on filesystem iteration order. A top-level
// images directory wins over nested ones.
func Locate(dir string) (domain.ConversionArtifact, error) {
	var docs, imageDirs []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		switch {
		case d.IsDir() && d.Name() == imagesDir:
			imageDirs = append(imageDirs, rel)
		case d.Type().IsRegular() && strings.EqualFold(filepath.Ext(d.Name()), documentExt):
			docs = append(docs, rel)
		}
		return nil
	})
	if err != nil {
		return domain.ConversionArtifact{}, domain.ExtractionFailed("scan output directory", err)
	}

	if len(docs) == 0 {
		return domain.ConversionArtifact{}, domain.ExtractionFailed("no markdown document in archive", nil)
	}
	sort.Strings(docs)

	artifact := domain.ConversionArtifact{
		MarkdownPath: filepath.Join(dir, filepath.FromSlash(docs[0])),
	}

	if len(imageDirs) > 0 {
		sort.Slice(imageDirs, func(i, j int) bool {
			// top-level first
			if (imageDirs[i] == imagesDir) != (imageDirs[j] == imagesDir) {
				return imageDirs[i] == imagesDir
			}
			return imageDirs[i] < imageDirs[j]
		})
		artifact.ImagesDir = filepath.Join(dir, filepath.FromSlash(imageDirs[0]))

		count, err := countFiles(artifact.ImagesDir)
		if err != nil {
			return domain.ConversionArtifact{}, domain.ExtractionFailed("count images", err)
		}
		artifact.ImageCount = count
	}

	return artifact, nil
}

// countFiles counts regular files under dir, recursively.
func countFiles(dir string) (int, error) {
	count := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			count++
		}
		return nil
	})
	return count, err
}
