package documents

import "time"

// DocumentResponse is the outward-facing representation of a document.
type DocumentResponse struct {
	DocumentID string    `json:"documentId"`
	CaseID     string    `json:"caseId"`
	Source     Source    `json:"source"`
	FileName   string    `json:"fileName"`
	MimeType   string    `json:"mimeType"`
	SizeBytes  int64     `json:"sizeBytes"`
	HasText    bool      `json:"hasText"`
	UploadedAt time.Time `json:"uploadedAt"`
}

func toResponse(doc Document) DocumentResponse {
	return DocumentResponse{
		DocumentID: doc.ID,
		CaseID:     doc.CaseID,
		Source:     doc.Source,
		FileName:   doc.FileName,
		MimeType:   doc.MimeType,
		SizeBytes:  doc.SizeBytes,
		HasText:    doc.ExtractedText != "",
		UploadedAt: doc.CreatedAt,
	}
}
