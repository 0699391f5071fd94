package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// MilvusStore is a minimal client for the Milvus v2 REST API. It uses the
// quick-setup collection shape (auto primary key, dynamic payload fields)
// with cosine distance, and creates the collection on Init if missing.
type MilvusStore struct {
	addr       string
	collection string
	dimension  int
	client     *http.Client
}

type MilvusConfig struct {
	Addr       string
	Collection string
	Timeout    time.Duration
}

func NewMilvusStore(cfg MilvusConfig) *MilvusStore {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &MilvusStore{
		addr:       strings.TrimRight(cfg.Addr, "/"),
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}
}

func (s *MilvusStore) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid dimension %d", dimension)
	}
	s.dimension = dimension

	var has struct {
		Has bool `json:"has"`
	}
	if err := s.post(ctx, "/v2/vectordb/collections/has", map[string]any{
		"collectionName": s.collection,
	}, &has); err != nil {
		return err
	}
	if has.Has {
		return nil
	}

	return s.post(ctx, "/v2/vectordb/collections/create", map[string]any{
		"collectionName": s.collection,
		"dimension":      dimension,
		"metricType":     "COSINE",
	}, nil)
}

func (s *MilvusStore) Upsert(ctx context.Context, records []ChunkRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]map[string]any, len(records))
	for i, rec := range records {
		rows[i] = map[string]any{
			"vector":      rec.Embedding,
			"document_id": rec.DocumentID,
			"chunk_index": rec.ChunkIndex,
			"title":       rec.Title,
			"text":        rec.Content,
		}
	}
	return s.post(ctx, "/v2/vectordb/entities/insert", map[string]any{
		"collectionName": s.collection,
		"data":           rows,
	}, nil)
}

func (s *MilvusStore) Search(ctx context.Context, vector []float32, topK int) ([]ScoredChunk, error) {
	if len(vector) == 0 {
		return nil, ErrEmptyQueryVector
	}
	if topK <= 0 {
		topK = 4
	}
	var hits []struct {
		Distance   float32 `json:"distance"`
		DocumentID uint    `json:"document_id"`
		Title      string  `json:"title"`
		Text       string  `json:"text"`
	}
	if err := s.post(ctx, "/v2/vectordb/entities/search", map[string]any{
		"collectionName": s.collection,
		"data":           [][]float32{vector},
		"limit":          topK,
		"outputFields":   []string{"document_id", "title", "text"},
	}, &hits); err != nil {
		return nil, err
	}

	results := make([]ScoredChunk, 0, len(hits))
	for _, h := range hits {
		results = append(results, ScoredChunk{
			DocumentID: h.DocumentID,
			Title:      h.Title,
			Content:    h.Text,
			// With COSINE metric Milvus reports similarity as distance.
			Score: h.Distance,
		})
	}
	return results, nil
}

func (s *MilvusStore) DeleteByDocumentID(ctx context.Context, documentID uint) error {
	return s.post(ctx, "/v2/vectordb/entities/delete", map[string]any{
		"collectionName": s.collection,
		"filter":         fmt.Sprintf("document_id == %d", documentID),
	}, nil)
}

func (s *MilvusStore) Ping(ctx context.Context) error {
	return s.post(ctx, "/v2/vectordb/collections/has", map[string]any{
		"collectionName": s.collection,
	}, nil)
}

// post sends a request and decodes the {code, message, data} envelope every
// Milvus v2 endpoint returns; a non-zero code is an error.
func (s *MilvusStore) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal milvus request failed: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.addr+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build milvus request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("milvus request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read milvus response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("milvus status %d: %s", resp.StatusCode, string(raw))
	}

	var envelope struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("parse milvus response failed: %w", err)
	}
	if envelope.Code != 0 {
		return fmt.Errorf("milvus error %d: %s", envelope.Code, envelope.Message)
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("parse milvus data failed: %w", err)
		}
	}
	return nil
}
