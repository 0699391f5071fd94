package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"classcare-chatbot/internal/extract"
	"classcare-chatbot/internal/model"
	"classcare-chatbot/internal/repository"
	"classcare-chatbot/internal/vectorstore"
)

var (
	ErrDocumentNotFound    = errors.New("document not found")
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrFileTooLarge        = errors.New("file exceeds the upload size limit")
	ErrEmptyFile           = errors.New("uploaded file is empty")
)

type DocumentService struct {
	docRepo   *repository.DocumentRepository
	publisher IngestPublisher
	store     vectorstore.VectorStore
	uploadDir string
	maxSize   int64
}

type IngestPublisher interface {
	Publish(ctx context.Context, job model.IngestJob) error
}

type UploadDocumentInput struct {
	UserID   uint
	Title    string
	FileName string
	Size     int64
	Reader   io.Reader
}

func NewDocumentService(
	docRepo *repository.DocumentRepository,
	publisher IngestPublisher,
	store vectorstore.VectorStore,
	uploadDir string,
	maxSize int64,
) *DocumentService {
	return &DocumentService{
		docRepo:   docRepo,
		publisher: publisher,
		store:     store,
		uploadDir: uploadDir,
		maxSize:   maxSize,
	}
}

// Upload validates and stores the file, records the document as pending and
// enqueues an ingest job. Extraction and indexing happen in the worker.
func (s *DocumentService) Upload(ctx context.Context, input UploadDocumentInput) (*model.Document, error) {
	if input.UserID == 0 || input.Reader == nil {
		return nil, ErrInvalidInput
	}
	fileName := filepath.Base(strings.TrimSpace(input.FileName))
	if fileName == "" || fileName == "." {
		return nil, ErrInvalidInput
	}
	if input.Size <= 0 {
		return nil, ErrEmptyFile
	}
	if s.maxSize > 0 && input.Size > s.maxSize {
		return nil, ErrFileTooLarge
	}

	fileType := strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), "."))
	if !extract.Supported(fileType) {
		return nil, ErrUnsupportedFileType
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = strings.TrimSuffix(fileName, filepath.Ext(fileName))
	}

	path, written, err := s.saveFile(fileName, input.Reader)
	if err != nil {
		return nil, err
	}
	if s.maxSize > 0 && written > s.maxSize {
		_ = os.Remove(path)
		return nil, ErrFileTooLarge
	}

	doc := &model.Document{
		UserID:   input.UserID,
		Title:    title,
		FileName: fileName,
		FilePath: path,
		FileType: fileType,
		Size:     written,
		Status:   model.DocumentStatusPending,
	}
	if err := s.docRepo.Create(doc); err != nil {
		_ = os.Remove(path)
		return nil, err
	}

	if err := s.publisher.Publish(ctx, model.IngestJob{DocumentID: doc.ID}); err != nil {
		reason := fmt.Sprintf("enqueue ingest job failed: %v", err)
		if markErr := s.docRepo.MarkFailed(doc.ID, reason); markErr != nil {
			log.Printf("mark document %d failed: %v", doc.ID, markErr)
		}
		doc.Status = model.DocumentStatusFailed
		doc.Error = reason
		return doc, nil
	}
	return doc, nil
}

func (s *DocumentService) List(userID uint) ([]model.Document, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	return s.docRepo.ListByUserID(userID)
}

func (s *DocumentService) Get(userID, documentID uint) (*model.Document, error) {
	if userID == 0 || documentID == 0 {
		return nil, ErrInvalidInput
	}
	doc, err := s.docRepo.GetByIDAndUserID(documentID, userID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

// Delete removes the document row, its stored file and its vectors. A vector
// store failure is logged and does not block the delete, so a stale index
// entry can at worst surface a snippet for a missing document.
func (s *DocumentService) Delete(ctx context.Context, userID, documentID uint) error {
	doc, err := s.Get(userID, documentID)
	if err != nil {
		return err
	}

	if s.store != nil {
		if err := s.store.DeleteByDocumentID(ctx, doc.ID); err != nil {
			log.Printf("delete vectors for document %d failed: %v", doc.ID, err)
		}
	}
	if doc.FilePath != "" {
		if err := os.Remove(doc.FilePath); err != nil && !os.IsNotExist(err) {
			log.Printf("remove file %s failed: %v", doc.FilePath, err)
		}
	}
	return s.docRepo.DeleteByIDAndUserID(documentID, userID)
}

func (s *DocumentService) saveFile(fileName string, r io.Reader) (string, int64, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create upload dir failed: %w", err)
	}

	stored := fmt.Sprintf("%d_%s", time.Now().UnixNano(), fileName)
	path := filepath.Join(s.uploadDir, stored)

	f, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("create upload file failed: %w", err)
	}
	defer f.Close()

	written, err := io.Copy(f, r)
	if err != nil {
		_ = os.Remove(path)
		return "", 0, fmt.Errorf("write upload file failed: %w", err)
	}
	return path, written, nil
}
