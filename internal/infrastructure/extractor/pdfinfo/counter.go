// Package pdfinfo reads structural facts from uploaded PDFs.
package pdfinfo

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
)

type Counter struct{}

func NewCounter() *Counter {
	return &Counter{}
}

// CountPages returns the page count from the document's page tree.
// The parser panics on some malformed inputs, which is reported as an error.
func (c *Counter) CountPages(data []byte) (pages int, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages, err = 0, fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("open pdf: %w", err)
	}
	pages = reader.NumPage()
	if pages <= 0 {
		return 0, fmt.Errorf("pdf has no pages")
	}
	return pages, nil
}
