package domain

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Canonical column names of the products table.
const (
	ColUniqueID    = "UniqueID"
	ColProductID   = "ProductID"
	ColSKU         = "SKU"
	ColDescription = "Article Description Batch"
	ColExpiryDate  = "Expiry Date"
	ColEAN         = "EAN Serial No"
	ColRemark      = "Remark"
	ColOrderQTY    = "Order QTY"
	ColShipQTY     = "Ship QTY"
	ColUOM         = "UOM"
	ColSource      = "PDF Source"
)

// BusinessColumns are the ten required columns after UniqueID, in table order.
var BusinessColumns = []string{
	ColProductID,
	ColSKU,
	ColDescription,
	ColExpiryDate,
	ColEAN,
	ColRemark,
	ColOrderQTY,
	ColShipQTY,
	ColUOM,
	ColSource,
}

// ExpiryDateLayout is the day.month.year layout used for Expiry Date.
const ExpiryDateLayout = "02.01.2006"

// Defaults applied to records extracted from photographed lists.
const (
	ImageDefaultQTY = "1"
	ImageDefaultUOM = "EACH"
)

// ProductRecord is one row of the products table.
type ProductRecord struct {
	UniqueID                int64             `json:"UniqueID,omitempty"`
	ProductID               string            `json:"ProductID"`
	SKU                     string            `json:"SKU"`
	ArticleDescriptionBatch string            `json:"Article Description Batch"`
	ExpiryDate              string            `json:"Expiry Date"`
	EANSerialNo             string            `json:"EAN Serial No"`
	Remark                  string            `json:"Remark"`
	OrderQTY                string            `json:"Order QTY"`
	ShipQTY                 string            `json:"Ship QTY"`
	UOM                     string            `json:"UOM"`
	PDFSource               string            `json:"PDF Source"`
	Extra                   map[string]string `json:"extra,omitempty"`
}

// Fields returns the business columns as a column-name keyed map, including Extra.
func (r ProductRecord) Fields() map[string]string {
	m := map[string]string{
		ColProductID:   r.ProductID,
		ColSKU:         r.SKU,
		ColDescription: r.ArticleDescriptionBatch,
		ColExpiryDate:  r.ExpiryDate,
		ColEAN:         r.EANSerialNo,
		ColRemark:      r.Remark,
		ColOrderQTY:    r.OrderQTY,
		ColShipQTY:     r.ShipQTY,
		ColUOM:         r.UOM,
		ColSource:      r.PDFSource,
	}
	for k, v := range r.Extra {
		m[k] = v
	}
	return m
}

// Get returns the value of a column by its canonical name.
func (r ProductRecord) Get(column string) string {
	if column == ColUniqueID {
		if r.UniqueID == 0 {
			return ""
		}
		return strconv.FormatInt(r.UniqueID, 10)
	}
	if v, ok := r.Fields()[column]; ok {
		return v
	}
	return ""
}

// Set assigns a column by canonical name; unknown columns go to Extra.
func (r *ProductRecord) Set(column, value string) {
	switch column {
	case ColUniqueID:
		id, _ := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		r.UniqueID = id
	case ColProductID:
		r.ProductID = value
	case ColSKU:
		r.SKU = value
	case ColDescription:
		r.ArticleDescriptionBatch = value
	case ColExpiryDate:
		r.ExpiryDate = value
	case ColEAN:
		r.EANSerialNo = value
	case ColRemark:
		r.Remark = value
	case ColOrderQTY:
		r.OrderQTY = value
	case ColShipQTY:
		r.ShipQTY = value
	case ColUOM:
		r.UOM = value
	case ColSource:
		r.PDFSource = value
	default:
		if r.Extra == nil {
			r.Extra = make(map[string]string)
		}
		r.Extra[column] = value
	}
}

// RecordFromFields builds a record from a column-name keyed map.
func RecordFromFields(fields map[string]string) ProductRecord {
	var r ProductRecord
	for k, v := range fields {
		r.Set(k, v)
	}
	return r
}

// ParseExpiry parses a day.month.year date.
func ParseExpiry(s string) (time.Time, error) {
	return time.ParseInLocation(ExpiryDateLayout, strings.TrimSpace(s), time.Local)
}

// DocumentSource is the provenance tag for one page of a document.
func DocumentSource(fileName string, page int) string {
	return fileName + " (Page " + strconv.Itoa(page) + ")"
}

// ImageSource is the provenance tag for a photographed list.
func ImageSource(fileName string) string {
	return "Image: " + fileName
}

// InputKind distinguishes the two supported input types.
type InputKind string

const (
	KindDocument    InputKind = "document"
	KindImage       InputKind = "image"
	KindUnsupported InputKind = "unsupported"
)

// PageText is one decomposed page of a document.
type PageText struct {
	PageNumber int
	Text       string
}

// PageImage represents a single rendered PDF page
type PageImage struct {
	PageNumber int
	ImagePath  string // Path to temporary JPG file
	Width      int
	Height     int
}

// Candidate is one record suggestion returned by the inference service,
// keyed by whatever field names the service used.
type Candidate map[string]any

// VisionCandidate is one item of a vision-mode response.
type VisionCandidate struct {
	ProductName string `json:"product_name"`
	ExpiryDate  string `json:"expiry_date"`
}

// PipelineState is the state of a single-file extraction pipeline.
type PipelineState string

const (
	StateIdle        PipelineState = "idle"
	StateDecomposing PipelineState = "decomposing"
	StateExtracting  PipelineState = "extracting"
	StateValidating  PipelineState = "validating"
	StatePersisting  PipelineState = "persisting"
	StateCompleted   PipelineState = "completed"
	StateFailed      PipelineState = "failed"
	StateCancelled   PipelineState = "cancelled"
)

// Terminal reports whether no further transitions can happen.
func (s PipelineState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// EventType represents the type of stream event
type EventType string

const (
	EventProgress       EventType = "progress"
	EventStatus         EventType = "status"
	EventPageProcessing EventType = "page_processing"
	EventPageComplete   EventType = "page_complete"
	EventNotice         EventType = "notice"
	EventError          EventType = "error"
	EventFileStarted    EventType = "file_started"
	EventFileFinished   EventType = "file_finished"
	EventComplete       EventType = "complete"
	EventFailed         EventType = "failed"
	EventCancelled      EventType = "cancelled"
	EventBatchCompleted EventType = "batch_completed"
)

// Terminal reports whether the event closes a stream.
func (t EventType) Terminal() bool {
	return t == EventComplete || t == EventFailed || t == EventCancelled || t == EventBatchCompleted
}

// StreamEvent represents an event emitted during processing
type StreamEvent struct {
	Type       EventType `json:"type"`
	Source     string    `json:"source,omitempty"`
	PageNumber int       `json:"page_number,omitempty"`
	Progress   int       `json:"progress,omitempty"`
	Payload    any       `json:"payload,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Result summarizes one pipeline run.
type Result struct {
	Source      string
	Kind        InputKind
	State       PipelineState
	Pages       int
	FailedUnits int
	Inserted    int
	InsertedIDs []int64
	Rejected    int
	Notice      string
	Duration    time.Duration
	Errors      []error
}

// ExpiryStatus classifies a record by days until expiry.
type ExpiryStatus string

const (
	ExpiryOK       ExpiryStatus = "ok"
	ExpiryUpcoming ExpiryStatus = "upcoming" // within 30 days
	ExpirySoon     ExpiryStatus = "soon"     // within 14 days
	ExpiryExpired  ExpiryStatus = "expired"
	ExpiryInvalid  ExpiryStatus = "invalid"
)

// ClassifyExpiry returns the expiry status of a day.month.year date relative to now.
func ClassifyExpiry(expiry string, now time.Time) ExpiryStatus {
	t, err := ParseExpiry(expiry)
	if err != nil {
		return ExpiryInvalid
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local)
	days := int(math.Round(t.Sub(today).Hours() / 24))
	switch {
	case days <= 0:
		return ExpiryExpired
	case days <= 14:
		return ExpirySoon
	case days <= 30:
		return ExpiryUpcoming
	default:
		return ExpiryOK
	}
}
