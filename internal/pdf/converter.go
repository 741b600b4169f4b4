package pdf

import (
	"context"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"

	"github.com/gen2brain/go-fitz"

	"github.com/spherical/sweetspot/internal/domain"
)

// Converter renders single PDF pages to JPEG files for vision extraction of
// scanned pages. Rendered files live in one temp directory until Cleanup.
type Converter struct {
	mu      sync.Mutex
	quality int
	tempDir string
}

// NewConverter creates a new page renderer with the given JPEG quality
func NewConverter(quality int) *Converter {
	return &Converter{quality: quality}
}

// RenderPage renders the 1-based pageNumber of the PDF at path
func (c *Converter) RenderPage(ctx context.Context, path string, pageNumber int) (domain.PageImage, error) {
	validator := NewValidator()
	if err := validator.ValidateQuality(c.quality); err != nil {
		return domain.PageImage{}, err
	}

	select {
	case <-ctx.Done():
		return domain.PageImage{}, ctx.Err()
	default:
	}

	doc, err := fitz.New(path)
	if err != nil {
		return domain.PageImage{}, domain.ConversionError("Failed to open PDF", err)
	}
	defer doc.Close()

	if pageNumber < 1 || pageNumber > doc.NumPage() {
		return domain.PageImage{}, domain.ValidationError(fmt.Sprintf("page %d out of range", pageNumber), nil)
	}

	img, err := doc.Image(pageNumber - 1)
	if err != nil {
		return domain.PageImage{}, domain.ConversionError(fmt.Sprintf("Failed to render page %d", pageNumber), err)
	}

	dir, err := c.dir()
	if err != nil {
		return domain.PageImage{}, err
	}

	outputPath := filepath.Join(dir, fmt.Sprintf("%s_page_%03d.jpg", filepath.Base(path), pageNumber))
	outputFile, err := os.Create(outputPath)
	if err != nil {
		return domain.PageImage{}, domain.IOError(fmt.Sprintf("Failed to create output file for page %d", pageNumber), err)
	}

	err = jpeg.Encode(outputFile, img, &jpeg.Options{Quality: c.quality})
	outputFile.Close()
	if err != nil {
		return domain.PageImage{}, domain.ConversionError(fmt.Sprintf("Failed to encode page %d as JPG", pageNumber), err)
	}

	bounds := img.Bounds()
	return domain.PageImage{
		PageNumber: pageNumber,
		ImagePath:  outputPath,
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
	}, nil
}

func (c *Converter) dir() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tempDir != "" {
		return c.tempDir, nil
	}
	dir, err := os.MkdirTemp("", "sweetspot-pages-*")
	if err != nil {
		return "", domain.IOError("Failed to create temp directory", err)
	}
	c.tempDir = dir
	return dir, nil
}

// Cleanup removes rendered page images
func (c *Converter) Cleanup() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tempDir == "" {
		return nil
	}
	err := os.RemoveAll(c.tempDir)
	c.tempDir = ""
	if err != nil {
		return fmt.Errorf("cleanup errors: %w", err)
	}
	return nil
}
