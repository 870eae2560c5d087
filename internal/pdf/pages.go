package pdfutil

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	pdf "github.com/ledongthuc/pdf"
)

// ErrNoPages is returned for documents that declare zero pages.
var ErrNoPages = errors.New("pdf has no pages")

// PageCount reads PDF bytes and returns the number of pages using
// ledongthuc/pdf.
func PageCount(data []byte) (n int, err error) {
	// The reader panics on some malformed trailers.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read pdf: %v", r)
		}
	}()
	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("new pdf reader: %w", err)
	}
	n = doc.NumPage()
	if n == 0 {
		return 0, ErrNoPages
	}
	return n, nil
}

// PageCountFromReader drains the reader before passing along to PageCount.
func PageCountFromReader(r io.Reader) (int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("read pdf: %w", err)
	}
	return PageCount(data)
}
