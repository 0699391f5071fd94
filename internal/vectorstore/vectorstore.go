// Package vectorstore indexes chunk embeddings and serves nearest-neighbor
// search. Two drivers exist: a Milvus HTTP client (default) and a MySQL table
// scan for deployments without a vector database.
package vectorstore

import (
	"context"
	"errors"
)

var ErrEmptyQueryVector = errors.New("query vector is empty")

// ChunkRecord is one indexed chunk with its embedding and payload.
type ChunkRecord struct {
	DocumentID uint
	ChunkIndex int
	Title      string
	Content    string
	Embedding  []float32
}

// ScoredChunk is a search hit; Score is cosine similarity in [-1, 1].
type ScoredChunk struct {
	DocumentID uint
	Title      string
	Content    string
	Score      float32
}

type VectorStore interface {
	// Init prepares the backing collection/table for the given dimension.
	Init(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, records []ChunkRecord) error
	Search(ctx context.Context, vector []float32, topK int) ([]ScoredChunk, error)
	DeleteByDocumentID(ctx context.Context, documentID uint) error
	Ping(ctx context.Context) error
}
