package model

// IngestJob is the payload published to the document-ingest queue when a
// document upload is accepted.
type IngestJob struct {
	DocumentID uint `json:"document_id"`
}
