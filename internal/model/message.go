package model

import (
	"encoding/json"
	"time"
)

// Message roles. The history window pairs human/ai turns; system messages
// are rebuilt on every completion call and normally not persisted.
const (
	RoleHuman  = "human"
	RoleAI     = "ai"
	RoleSystem = "system"
)

type Message struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SessionID uint      `gorm:"not null;index" json:"session_id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	Role      string    `gorm:"size:16;not null;index" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	Metadata  string    `gorm:"type:text" json:"-"` // JSON blob, e.g. source documents
	CreatedAt time.Time `json:"created_at"`
}

// SourceDocument is the per-answer provenance stored in ai message metadata.
type SourceDocument struct {
	DocumentID uint    `json:"document_id"`
	Title      string  `json:"title"`
	Content    string  `json:"content"`
	Score      float32 `json:"score"`
}

type messageMetadata struct {
	SourceDocuments []SourceDocument `json:"source_documents,omitempty"`
}

// SetSourceDocuments stores the retrieved sources as metadata JSON.
func (m *Message) SetSourceDocuments(sources []SourceDocument) {
	if len(sources) == 0 {
		m.Metadata = ""
		return
	}
	b, _ := json.Marshal(messageMetadata{SourceDocuments: sources})
	m.Metadata = string(b)
}

// SourceDocuments returns the parsed sources; nil when absent or malformed.
func (m *Message) SourceDocuments() []SourceDocument {
	if m.Metadata == "" {
		return nil
	}
	var meta messageMetadata
	if err := json.Unmarshal([]byte(m.Metadata), &meta); err != nil {
		return nil
	}
	return meta.SourceDocuments
}
