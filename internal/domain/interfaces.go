package domain

import "context"

// Decomposer splits a document into page-level text units
type Decomposer interface {
	// Pages returns the text of every page in order. A document without
	// pages yields an empty slice and no error.
	Pages(ctx context.Context, path string) ([]PageText, error)
}

// PageRenderer renders a single document page to an image for vision extraction
type PageRenderer interface {
	RenderPage(ctx context.Context, path string, pageNumber int) (PageImage, error)

	// Cleanup removes temporary files created during rendering
	Cleanup() error
}

// Extractor calls the inference service for one unit
type Extractor interface {
	// ExtractText returns candidate records found in cleaned page text
	ExtractText(ctx context.Context, text string) ([]Candidate, error)

	// ExtractImage returns product/expiry pairs found in a photographed list
	ExtractImage(ctx context.Context, imagePath string) ([]VisionCandidate, error)
}

// RecordSink persists validated records in one pass and returns the
// UniqueIDs it assigned, in input order
type RecordSink interface {
	BulkInsert(ctx context.Context, records []ProductRecord) ([]int64, error)
}
