package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"

	"classcare-chatbot/internal/ai"
	"classcare-chatbot/internal/chunk"
	"classcare-chatbot/internal/extract"
	"classcare-chatbot/internal/model"
	"classcare-chatbot/internal/vectorstore"
)

type DocumentStore interface {
	GetByID(id uint) (*model.Document, error)
	MarkProcessed(id uint, numChunks int) error
	MarkFailed(id uint, reason string) error
}

type ChunkEmbedder interface {
	EmbedBatch(ctx context.Context, cfg ai.EmbeddingConfig, texts []string) ([][]float32, error)
}

type ChunkIndex interface {
	Upsert(ctx context.Context, records []vectorstore.ChunkRecord) error
	DeleteByDocumentID(ctx context.Context, documentID uint) error
}

// DocumentIngestWorker turns an uploaded file into searchable vectors:
// extract text, split into overlapping chunks, embed in batches, upsert.
// Any failure marks the document failed with the reason, so the owner can
// see it and re-upload.
type DocumentIngestWorker struct {
	conn      *amqp.Connection
	docs      DocumentStore
	embedder  ChunkEmbedder
	index     ChunkIndex
	splitter  *chunk.Splitter
	embConfig ai.EmbeddingConfig
	batchSize int
	queueName string
}

func NewDocumentIngestWorker(
	conn *amqp.Connection,
	docs DocumentStore,
	embedder ChunkEmbedder,
	index ChunkIndex,
	splitter *chunk.Splitter,
	embConfig ai.EmbeddingConfig,
	batchSize int,
	queueName string,
) *DocumentIngestWorker {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &DocumentIngestWorker{
		conn:      conn,
		docs:      docs,
		embedder:  embedder,
		index:     index,
		splitter:  splitter,
		embConfig: embConfig,
		batchSize: batchSize,
		queueName: queueName,
	}
}

func (w *DocumentIngestWorker) Start(ctx context.Context) error {
	ch, err := w.conn.Channel()
	if err != nil {
		return err
	}

	if _, err := ch.QueueDeclare(w.queueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return err
	}
	// Embedding a large document is slow; take one job at a time.
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		return err
	}

	deliveries, err := ch.Consume(w.queueName, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return err
	}

	go func() {
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				w.handle(ctx, d)
			}
		}
	}()
	return nil
}

func (w *DocumentIngestWorker) handle(ctx context.Context, d amqp.Delivery) {
	var job model.IngestJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		log.Printf("ingest worker: drop malformed job: %v", err)
		_ = d.Nack(false, false)
		return
	}

	if err := w.processJob(ctx, job.DocumentID); err != nil {
		log.Printf("ingest worker: document %d failed: %v", job.DocumentID, err)
		if markErr := w.docs.MarkFailed(job.DocumentID, err.Error()); markErr != nil {
			log.Printf("ingest worker: mark document %d failed: %v", job.DocumentID, markErr)
		}
	}
	// Failures are recorded on the document row, not retried blindly.
	_ = d.Ack(false)
}

func (w *DocumentIngestWorker) processJob(ctx context.Context, documentID uint) error {
	doc, err := w.docs.GetByID(documentID)
	if err != nil {
		return fmt.Errorf("load document failed: %w", err)
	}
	if doc == nil {
		return fmt.Errorf("document %d no longer exists", documentID)
	}

	text, err := extract.Text(doc.FilePath, doc.FileType)
	if err != nil {
		return fmt.Errorf("extract text failed: %w", err)
	}

	chunks := w.splitter.Split(text)
	if len(chunks) == 0 {
		return fmt.Errorf("document contains no extractable text")
	}

	// Re-ingesting the same document replaces its previous vectors.
	if err := w.index.DeleteByDocumentID(ctx, doc.ID); err != nil {
		return fmt.Errorf("clear previous vectors failed: %w", err)
	}

	records := make([]vectorstore.ChunkRecord, 0, len(chunks))
	for start := 0; start < len(chunks); start += w.batchSize {
		end := start + w.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		embeddings, err := w.embedder.EmbedBatch(ctx, w.embConfig, batch)
		if err != nil {
			return fmt.Errorf("embed chunks %d-%d failed: %w", start, end-1, err)
		}
		if len(embeddings) != len(batch) {
			return fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors", len(batch), len(embeddings))
		}

		for i, emb := range embeddings {
			records = append(records, vectorstore.ChunkRecord{
				DocumentID: doc.ID,
				ChunkIndex: start + i,
				Title:      doc.Title,
				Content:    batch[i],
				Embedding:  emb,
			})
		}
	}

	if err := w.index.Upsert(ctx, records); err != nil {
		return fmt.Errorf("index chunks failed: %w", err)
	}

	if err := w.docs.MarkProcessed(doc.ID, len(records)); err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}
