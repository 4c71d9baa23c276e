package documents

import "time"

// Source records how a document reached the case.
type Source string

const (
	SourceProvider Source = "provider"
	SourceUpload   Source = "upload"
)

// Document is a file attached to a case, either delivered by the provider
// or uploaded by a user.
type Document struct {
	ID            string
	CaseID        string
	Source        Source
	ExternalID    string
	FileName      string
	MimeType      string
	SizeBytes     int64
	StorageKey    string
	ExtractedText string
	CreatedAt     time.Time
}

// Attachment describes a provider file to import.
type Attachment struct {
	ExternalID string
	FileName   string
	MimeType   string
	// Date is the provider's filing date, used when the text has none.
	Date time.Time
}
