package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"docuchat/pkg/ai"
	"docuchat/pkg/domain"
	"docuchat/pkg/extract"
	"docuchat/pkg/queue"
)

const analysisSystemPrompt = "You are a document analysis engine. Respond with a single JSON object containing the fields summary (string), key_points (array of strings), sentiment (one of positive, neutral, negative), keywords (array of strings), and entities (array of strings). Respond with JSON only."

// AnalyzeDocument analyzes the supplied content and stores the result on
// the user's document. A model response that cannot be parsed degrades
// to a fixed fallback analysis rather than failing the request.
func (a *App) AnalyzeDocument(ctx context.Context, user domain.User, documentID, content string) (domain.Document, error) {
	if !a.limiter.Allow(user.ID) {
		return domain.Document{}, ErrRateLimited
	}
	doc, ok, err := a.store.GetDocument(user.ID, documentID)
	if err != nil {
		return domain.Document{}, fmt.Errorf("load document: %w", err)
	}
	if !ok {
		return domain.Document{}, ErrDocumentNotFound
	}
	// completed and failed are terminal; only a fresh upload is analyzable.
	if doc.Status != domain.StatusProcessing {
		return domain.Document{}, fmt.Errorf("%w: document is %s", ErrDocumentFinalized, doc.Status)
	}
	analysis, err := a.runAnalysis(ctx, content)
	if err != nil {
		if ferr := a.store.SetDocumentStatus(user.ID, doc.ID, domain.StatusFailed, err.Error()); ferr != nil {
			return domain.Document{}, fmt.Errorf("mark failed: %w", ferr)
		}
		return domain.Document{}, err
	}
	if err := a.store.SetDocumentAnalysis(user.ID, doc.ID, analysis); err != nil {
		return domain.Document{}, fmt.Errorf("save analysis: %w", err)
	}
	doc, _, err = a.store.GetDocument(user.ID, doc.ID)
	if err != nil {
		return domain.Document{}, fmt.Errorf("reload document: %w", err)
	}
	return doc, nil
}

// runAnalysis sends the content to the completion endpoint and parses the
// structured result.
func (a *App) runAnalysis(ctx context.Context, content string) (domain.Analysis, error) {
	prompt := []ai.ChatMessage{
		{Role: "system", Content: analysisSystemPrompt},
		{Role: "user", Content: "Analyze the following document:\n\n" + content},
	}
	raw, err := a.completer.Complete(ctx, prompt, ai.AnalysisOptions)
	if err != nil {
		return domain.Analysis{}, err
	}
	analysis, parsed := ai.ParseAnalysis(raw)
	if !parsed {
		a.logger.Warn("analysis response not parseable, using fallback")
	}
	return analysis, nil
}

// StartWorkers consumes queued analysis jobs for uploaded documents.
func (a *App) StartWorkers(ctx context.Context, concurrency int) {
	if a.queue == nil {
		return
	}
	a.queue.Start(ctx, concurrency, a.handleAnalysisJob)
}

func (a *App) handleAnalysisJob(ctx context.Context, job queue.Job) error {
	start := time.Now()
	logger := a.logger.With("job_id", job.ID, "document_id", job.DocumentID)
	doc, ok, err := a.store.GetDocument(job.UserID, job.DocumentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if !ok {
		logger.Warn("document gone before analysis, dropping job")
		return nil
	}
	if doc.Status != domain.StatusProcessing {
		logger.Warn("document already finalized, dropping job", "status", doc.Status)
		return nil
	}
	text := doc.Content
	if text == "" {
		text, err = a.loadDocumentText(ctx, doc)
		if err != nil {
			_ = a.store.SetDocumentStatus(job.UserID, doc.ID, domain.StatusFailed, err.Error())
			if errors.Is(err, extract.ErrUnsupportedContent) {
				logger.Warn("unsupported document content, not retrying", "error", err)
				return nil
			}
			return err
		}
	}
	analysis, err := a.runAnalysis(ctx, text)
	if err != nil {
		_ = a.store.SetDocumentStatus(job.UserID, doc.ID, domain.StatusFailed, err.Error())
		return err
	}
	if err := a.store.SetDocumentAnalysis(job.UserID, doc.ID, analysis); err != nil {
		return fmt.Errorf("save analysis: %w", err)
	}
	logger.Info("document analyzed", "elapsed", time.Since(start).String())
	return nil
}

// loadDocumentText fetches the raw object and extracts plain text.
func (a *App) loadDocumentText(ctx context.Context, doc domain.Document) (string, error) {
	if a.objects == nil || doc.StorageKey == "" {
		return "", fmt.Errorf("document %s has no stored content", doc.ID)
	}
	body, err := a.objects.Get(ctx, doc.StorageKey)
	if err != nil {
		return "", fmt.Errorf("fetch object: %w", err)
	}
	defer body.Close()
	raw, err := io.ReadAll(io.LimitReader(body, int64(maxUploadBytes)+1))
	if err != nil {
		return "", fmt.Errorf("read object: %w", err)
	}
	if err := extract.Validate(doc.ContentType, raw); err != nil {
		return "", err
	}
	return extract.Text(doc.ContentType, raw)
}
