package fakeservice

import (
	"bytes"
	"sort"

	"github.com/klauspost/compress/zip"
)

// BuildArchive returns a zip holding files keyed by slash-separated path.
// Keys ending in "/" become directory entries.
func BuildArchive(files map[string]string) ([]byte, error) {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(files[name])); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SampleArchive is a typical result bundle: one markdown document, a
// layout file and two images.
func SampleArchive() []byte {
	data, err := BuildArchive(map[string]string{
		"out.md":            "# Sample\n\n![a](images/a.png)\n![b](images/b.png)\n",
		"layout.json":       `{"pdf_info":[]}`,
		"images/a.png":      "\x89PNG-a",
		"images/b.png":      "\x89PNG-b",
		"out_origin.pdf":    "%PDF-1.7",
		"content_list.json": "[]",
	})
	if err != nil {
		panic(err)
	}
	return data
}
