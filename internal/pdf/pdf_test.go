package pdf

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-pdf/fpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/sweetspot/internal/domain"
)

// writeSlip generates a PDF with one page per entry of pages.
func writeSlip(t *testing.T, pages ...string) string {
	t.Helper()
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetFont("Helvetica", "", 12)
	for _, text := range pages {
		doc.AddPage()
		doc.Cell(0, 10, text)
	}
	path := filepath.Join(t.TempDir(), "slip.pdf")
	require.NoError(t, doc.OutputFileAndClose(path))
	return path
}

func TestDetectKind(t *testing.T) {
	tests := []struct {
		path string
		want domain.InputKind
	}{
		{"a.pdf", domain.KindDocument},
		{"a.PDF", domain.KindDocument},
		{"a.png", domain.KindImage},
		{"a.jpg", domain.KindImage},
		{"a.JPEG", domain.KindImage},
		{"a.txt", domain.KindUnsupported},
		{"noext", domain.KindUnsupported},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectKind(tt.path), tt.path)
	}
}

func TestValidator(t *testing.T) {
	v := NewValidator()
	dir := t.TempDir()

	assert.Error(t, v.ValidatePDFPath(""))
	assert.Error(t, v.ValidatePDFPath(filepath.Join(dir, "missing.pdf")))
	assert.Error(t, v.ValidatePDFPath(dir))

	txt := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("x"), 0o644))
	err := v.ValidatePDFPath(txt)
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))

	img := filepath.Join(dir, "list.png")
	require.NoError(t, os.WriteFile(img, make([]byte, 100), 0o644))
	assert.NoError(t, v.ValidateImagePath(img, 1000))
	assert.Error(t, v.ValidateImagePath(img, 10))

	assert.NoError(t, v.ValidateQuality(85))
	assert.Error(t, v.ValidateQuality(0))
	assert.Error(t, v.ValidateQuality(101))
}

func TestDecomposer_Pages(t *testing.T) {
	path := writeSlip(t, "SKU 12345 Fresh Milk", "SKU 67890 Butter")

	pages, err := NewDecomposer().Pages(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, 1, pages[0].PageNumber)
	assert.Contains(t, pages[0].Text, "Fresh Milk")
	assert.Equal(t, 2, pages[1].PageNumber)
	assert.Contains(t, pages[1].Text, "Butter")
}

func TestDecomposer_Cancelled(t *testing.T) {
	path := writeSlip(t, "one")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewDecomposer().Pages(ctx, path)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConverter_RenderPageAndCleanup(t *testing.T) {
	path := writeSlip(t, "scanned", "second")
	c := NewConverter(85)

	img, err := c.RenderPage(context.Background(), path, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, img.PageNumber)
	assert.Greater(t, img.Width, 0)
	assert.Greater(t, img.Height, 0)
	assert.FileExists(t, img.ImagePath)

	_, err = c.RenderPage(context.Background(), path, 3)
	assert.Error(t, err)

	require.NoError(t, c.Cleanup())
	assert.NoFileExists(t, img.ImagePath)
	assert.NoError(t, c.Cleanup())
}

func TestConverter_BadQuality(t *testing.T) {
	_, err := NewConverter(0).RenderPage(context.Background(), "x.pdf", 1)
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))
}
