package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"docuchat/internal/validate"
	"docuchat/pkg/domain"
	"docuchat/pkg/extract"
	"docuchat/pkg/storage"
)

const maxUploadBytes = validate.MaxContentBytes

// UploadDocument stores an uploaded file, records its metadata and
// extracted text, and queues it for analysis.
func (a *App) UploadDocument(ctx context.Context, user domain.User, filename, contentType string, r io.Reader) (domain.Document, error) {
	if !a.limiter.Allow(user.ID) {
		return domain.Document{}, ErrRateLimited
	}
	filename = strings.TrimSpace(filepath.Base(filename))
	if filename == "" || filename == "." {
		return domain.Document{}, fmt.Errorf("%w: filename is required", validate.ErrInvalidInput)
	}
	raw, err := io.ReadAll(io.LimitReader(r, int64(maxUploadBytes)+1))
	if err != nil {
		return domain.Document{}, fmt.Errorf("read upload: %w", err)
	}
	if len(raw) == 0 {
		return domain.Document{}, fmt.Errorf("%w: file is empty", validate.ErrInvalidInput)
	}
	if len(raw) > maxUploadBytes {
		return domain.Document{}, fmt.Errorf("%w: file exceeds %d bytes", validate.ErrInvalidInput, maxUploadBytes)
	}
	if err := extract.Validate(contentType, raw); err != nil {
		return domain.Document{}, fmt.Errorf("%w: %v", validate.ErrInvalidInput, err)
	}
	text, err := extract.Text(contentType, raw)
	if err != nil {
		return domain.Document{}, fmt.Errorf("%w: %v", validate.ErrInvalidInput, err)
	}

	now := time.Now().UTC()
	doc := domain.Document{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		Title:       titleFromFilename(filename),
		Filename:    filename,
		ContentType: contentType,
		SizeBytes:   int64(len(raw)),
		Content:     text,
		Status:      domain.StatusProcessing,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if a.objects != nil {
		doc.StorageKey = storage.DocumentKey(user.ID, doc.ID, filename)
		if err := a.objects.Put(ctx, doc.StorageKey, bytes.NewReader(raw), doc.SizeBytes, contentType); err != nil {
			return domain.Document{}, fmt.Errorf("store object: %w", err)
		}
	}
	if err := a.store.CreateDocument(doc); err != nil {
		return domain.Document{}, fmt.Errorf("create document: %w", err)
	}
	if a.queue != nil {
		if _, err := a.queue.Enqueue(ctx, doc.ID, user.ID); err != nil {
			a.logger.Error("enqueue analysis job failed", "document_id", doc.ID, "error", err)
		}
	}
	return doc, nil
}

// GetDocument returns one of the user's documents.
func (a *App) GetDocument(user domain.User, documentID string) (domain.Document, error) {
	doc, ok, err := a.store.GetDocument(user.ID, documentID)
	if err != nil {
		return domain.Document{}, fmt.Errorf("load document: %w", err)
	}
	if !ok {
		return domain.Document{}, ErrDocumentNotFound
	}
	return doc, nil
}

// ListDocuments returns all of the user's documents.
func (a *App) ListDocuments(user domain.User) ([]domain.Document, error) {
	docs, err := a.store.ListDocuments(user.ID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// DeleteDocument removes a document and its stored file.
func (a *App) DeleteDocument(ctx context.Context, user domain.User, documentID string) error {
	doc, ok, err := a.store.GetDocument(user.ID, documentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if !ok {
		return ErrDocumentNotFound
	}
	if err := a.store.DeleteDocument(user.ID, documentID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if a.objects != nil && doc.StorageKey != "" {
		if err := a.objects.Delete(ctx, doc.StorageKey); err != nil {
			a.logger.Warn("delete object failed", "document_id", doc.ID, "error", err)
		}
	}
	return nil
}

// DocumentDownloadURL returns a short-lived pre-signed URL for the raw file.
func (a *App) DocumentDownloadURL(ctx context.Context, user domain.User, documentID string) (string, error) {
	doc, ok, err := a.store.GetDocument(user.ID, documentID)
	if err != nil {
		return "", fmt.Errorf("load document: %w", err)
	}
	if !ok {
		return "", ErrDocumentNotFound
	}
	if a.objects == nil || doc.StorageKey == "" {
		return "", ErrDocumentNotReady
	}
	url, err := a.objects.PresignGet(ctx, doc.StorageKey, 15*time.Minute)
	if err != nil {
		return "", fmt.Errorf("presign: %w", err)
	}
	return url, nil
}

func titleFromFilename(filename string) string {
	title := strings.TrimSuffix(filename, filepath.Ext(filename))
	title = strings.NewReplacer("_", " ", "-", " ").Replace(title)
	title = strings.TrimSpace(title)
	if title == "" {
		return filename
	}
	return title
}
