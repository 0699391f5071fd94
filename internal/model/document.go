package model

import "time"

// Document processing lifecycle. Uploads start pending; the ingest worker
// moves them to processed or failed.
const (
	DocumentStatusPending   = "pending"
	DocumentStatusProcessed = "processed"
	DocumentStatusFailed    = "failed"
)

type Document struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	Title     string    `gorm:"size:255;not null" json:"title"`
	FileName  string    `gorm:"size:255;not null" json:"file_name"`
	FilePath  string    `gorm:"size:512;not null" json:"-"`
	FileType  string    `gorm:"size:16;not null" json:"file_type"`
	Size      int64     `json:"size"`
	Status    string    `gorm:"size:16;not null;default:pending;index" json:"status"`
	NumChunks int       `json:"num_chunks"`
	Error     string    `gorm:"type:text" json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Processed reports whether the document has been chunked and indexed.
func (d *Document) Processed() bool {
	return d.Status == DocumentStatusProcessed
}
