package pdf

import (
	"context"
	"fmt"

	"github.com/gen2brain/go-fitz"

	"github.com/spherical/sweetspot/internal/domain"
)

// Decomposer splits PDF documents into page text using go-fitz
type Decomposer struct {
	validator *Validator
}

// NewDecomposer creates a new PDF decomposer
func NewDecomposer() *Decomposer {
	return &Decomposer{validator: NewValidator()}
}

// Pages returns the text of every page. A PDF without pages yields an empty
// slice so callers can report "no pages" rather than fail.
func (d *Decomposer) Pages(ctx context.Context, path string) ([]domain.PageText, error) {
	if err := d.validator.ValidatePDFPath(path); err != nil {
		return nil, err
	}

	doc, err := fitz.New(path)
	if err != nil {
		return nil, domain.ConversionError("Failed to open PDF", err)
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	pages := make([]domain.PageText, 0, pageCount)

	for pageNum := 0; pageNum < pageCount; pageNum++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		text, err := doc.Text(pageNum)
		if err != nil {
			return nil, domain.ConversionError(fmt.Sprintf("Failed to read text of page %d", pageNum+1), err)
		}

		pages = append(pages, domain.PageText{PageNumber: pageNum + 1, Text: text})
	}

	return pages, nil
}
