// Package pdf validates local input documents before they are submitted.
package pdf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spherical/pdf-converter/internal/domain"
)

// largeFileBytes is the size above which a warning is raised.
const largeFileBytes = 200 * 1024 * 1024

// Document describes a validated input file.
type Document struct {
	Path  string // absolute
	Name  string // base name sent to the service
	Size  int64
	Pages int // 0 when the page count could not be read
}

// PageCounter returns the number of pages in a document.
type PageCounter func(path string) (int, error)

// Validator checks input files.
type Validator struct {
	countPages PageCounter
}

// NewValidator creates a validator that inspects pages with go-fitz.
func NewValidator() *Validator {
	return &Validator{countPages: CountPages}
}

// NewValidatorWithCounter creates a validator using a custom page counter.
// A nil counter skips page inspection.
func NewValidatorWithCounter(counter PageCounter) *Validator {
	return &Validator{countPages: counter}
}

// Validate confirms path names a readable regular file. Problems that do
// not prevent submission come back as warnings.
func (v *Validator) Validate(path string) (*Document, []string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil, domain.InputNotFound(path, errors.New("file path cannot be empty"))
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, domain.InputNotFound(path, err)
	}

	if info.IsDir() {
		return nil, nil, domain.InputNotFound(path, fmt.Errorf("path is a directory, not a file"))
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, nil, domain.InputNotFound(path, err)
	}
	file.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	doc := &Document{
		Path: abs,
		Name: filepath.Base(abs),
		Size: info.Size(),
	}

	var warnings []string

	if ext := strings.ToLower(filepath.Ext(path)); ext != ".pdf" {
		warnings = append(warnings, fmt.Sprintf("file does not have a .pdf extension (%q); the service may reject it", ext))
	}

	if info.Size() == 0 {
		warnings = append(warnings, "file is empty")
	} else if info.Size() > largeFileBytes {
		warnings = append(warnings, fmt.Sprintf("file is very large (%d MB), processing may take a while", info.Size()/(1024*1024)))
	}

	if v.countPages != nil && info.Size() > 0 {
		pages, err := v.countPages(abs)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("could not read page count: %v", err))
		} else {
			doc.Pages = pages
		}
	}

	return doc, warnings, nil
}
