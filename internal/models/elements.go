package models

// ElementType classifies an extracted document element.
type ElementType string

const (
	ElementTypeText       ElementType = "text"
	ElementTypeStructured ElementType = "structured"
	ElementTypeImage      ElementType = "image"
)

// SourceMetadata identifies where an element came from.
type SourceMetadata struct {
	SourceID   string `json:"source_id"`
	SourceName string `json:"source_name,omitempty"`
	PageNumber int    `json:"page_number"`
	PageCount  int    `json:"page_count,omitempty"`
}

// Location is a bounding box in page pixel coordinates.
type Location struct {
	X0 int `json:"x0"`
	Y0 int `json:"y0"`
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
}

// TextMetadata carries the content of a text element.
type TextMetadata struct {
	Content   string `json:"content"`
	TextDepth string `json:"text_depth,omitempty"`
}

// TableMetadata carries a structured element: the table content as emitted
// by the model plus where on the page it sat.
type TableMetadata struct {
	Content  string    `json:"content"`
	Location *Location `json:"location,omitempty"`
}

// ImageMetadata carries a figure element: the cropped region re-encoded as
// base64 PNG plus its page location. StorageKey is set once the crop has
// been persisted to the asset store.
type ImageMetadata struct {
	Content    string    `json:"content"`
	Location   *Location `json:"location,omitempty"`
	StorageKey string    `json:"storage_key,omitempty"`
}

// Element is one extracted item. Exactly one of the typed metadata fields is
// set, matching Type.
type Element struct {
	Type   ElementType    `json:"type"`
	Source SourceMetadata `json:"source"`
	Text   *TextMetadata  `json:"text_metadata,omitempty"`
	Table  *TableMetadata `json:"table_metadata,omitempty"`
	Image  *ImageMetadata `json:"image_metadata,omitempty"`
}
