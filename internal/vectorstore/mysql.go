package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gorm.io/gorm"

	"classcare-chatbot/internal/model"
)

// MySQLStore keeps chunks and embeddings in a relational table and scores
// them with a cosine-similarity scan in Go. Fine for small corpora; use the
// Milvus driver when the chunk count grows past what a full scan tolerates.
type MySQLStore struct {
	db *gorm.DB
}

func NewMySQLStore(db *gorm.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

func (s *MySQLStore) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid dimension %d", dimension)
	}
	if err := s.db.WithContext(ctx).AutoMigrate(&model.Chunk{}); err != nil {
		return fmt.Errorf("migrate chunks table failed: %w", err)
	}
	return nil
}

func (s *MySQLStore) Upsert(ctx context.Context, records []ChunkRecord) error {
	if len(records) == 0 {
		return nil
	}
	chunks := make([]model.Chunk, len(records))
	for i, rec := range records {
		chunks[i] = model.Chunk{
			DocumentID: rec.DocumentID,
			ChunkIndex: rec.ChunkIndex,
			Title:      rec.Title,
			Content:    rec.Content,
		}
		chunks[i].SetEmbedding(rec.Embedding)
	}
	if err := s.db.WithContext(ctx).Create(&chunks).Error; err != nil {
		return fmt.Errorf("create chunks batch failed: %w", err)
	}
	return nil
}

func (s *MySQLStore) Search(ctx context.Context, vector []float32, topK int) ([]ScoredChunk, error) {
	if len(vector) == 0 {
		return nil, ErrEmptyQueryVector
	}
	if topK <= 0 {
		topK = 4
	}

	var chunks []model.Chunk
	if err := s.db.WithContext(ctx).Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("list chunks failed: %w", err)
	}

	scored := make([]ScoredChunk, 0, len(chunks))
	for i := range chunks {
		scored = append(scored, ScoredChunk{
			DocumentID: chunks[i].DocumentID,
			Title:      chunks[i].Title,
			Content:    chunks[i].Content,
			Score:      CosineSimilarity(vector, chunks[i].EmbeddingVector()),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if topK < len(scored) {
		scored = scored[:topK]
	}
	return scored, nil
}

func (s *MySQLStore) DeleteByDocumentID(ctx context.Context, documentID uint) error {
	if err := s.db.WithContext(ctx).Where("document_id = ?", documentID).Delete(&model.Chunk{}).Error; err != nil {
		return fmt.Errorf("delete chunks by document failed: %w", err)
	}
	return nil
}

func (s *MySQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql db failed: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// CosineSimilarity returns 0 for empty or mismatched vectors.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA <= 0 || normB <= 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
