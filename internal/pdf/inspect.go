package pdf

import (
	"fmt"

	"github.com/gen2brain/go-fitz"
)

// CountPages opens the document with go-fitz and returns its page count.
func CountPages(path string) (int, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return 0, fmt.Errorf("open document: %w", err)
	}
	defer doc.Close()

	pages := doc.NumPage()
	if pages == 0 {
		return 0, fmt.Errorf("document has no pages")
	}
	return pages, nil
}
