package pdf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spherical/sweetspot/internal/domain"
)

// Validator provides input validation for ingestible files
type Validator struct{}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	return &Validator{}
}

// Extensions accepted per input kind.
var (
	documentExtensions = map[string]bool{".pdf": true}
	imageExtensions    = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}
)

// DetectKind classifies a file by its extension
func DetectKind(path string) domain.InputKind {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case documentExtensions[ext]:
		return domain.KindDocument
	case imageExtensions[ext]:
		return domain.KindImage
	default:
		return domain.KindUnsupported
	}
}

// ValidatePDFPath validates that a file path is valid and points to a PDF
func (v *Validator) ValidatePDFPath(path string) error {
	if err := v.validateFile(path); err != nil {
		return err
	}
	if DetectKind(path) != domain.KindDocument {
		return domain.ValidationError(fmt.Sprintf("file is not a PDF (has extension %s)", filepath.Ext(path)), nil)
	}
	return nil
}

// ValidateImagePath validates that a file path points to a supported image
func (v *Validator) ValidateImagePath(path string, maxBytes int64) error {
	if err := v.validateFile(path); err != nil {
		return err
	}
	if DetectKind(path) != domain.KindImage {
		return domain.ValidationError(fmt.Sprintf("file is not a supported image (has extension %s)", filepath.Ext(path)), nil)
	}
	if maxBytes > 0 {
		info, err := os.Stat(path)
		if err == nil && info.Size() > maxBytes {
			return domain.ValidationError(fmt.Sprintf("image is too large (%d MB, limit %d MB)",
				info.Size()/(1024*1024), maxBytes/(1024*1024)), nil)
		}
	}
	return nil
}

func (v *Validator) validateFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return domain.ValidationError("file path cannot be empty", nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.ValidationError(fmt.Sprintf("file does not exist: %s", path), err)
		}
		return domain.ValidationError(fmt.Sprintf("cannot access file: %s", path), err)
	}

	if info.IsDir() {
		return domain.ValidationError(fmt.Sprintf("path is a directory, not a file: %s", path), nil)
	}

	file, err := os.Open(path)
	if err != nil {
		return domain.ValidationError(fmt.Sprintf("cannot open file: %s", path), err)
	}
	file.Close()

	return nil
}

// ValidateQuality validates image quality parameter
func (v *Validator) ValidateQuality(quality int) error {
	if quality < 1 || quality > 100 {
		return domain.ValidationError(fmt.Sprintf("quality must be between 1 and 100, got %d", quality), nil)
	}
	return nil
}
