package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"docuchat/internal/ratelimit"
	"docuchat/internal/util"
	"docuchat/pkg/ai"
	"docuchat/pkg/domain"
	"docuchat/pkg/queue"
	"docuchat/pkg/storage"
	"docuchat/pkg/store"
)

const (
	// historyLimit bounds how many prior messages are replayed to the model.
	historyLimit = 10
	// excerptChars bounds the document excerpt embedded in the system prompt.
	excerptChars = 3000

	defaultConversationTitle = "New conversation"
)

const chatSystemPrompt = "You are a helpful assistant that answers questions about the user's documents. Be concise and accurate."

const chatFallbackInstruction = "The document context is currently unavailable. Answer from the conversation alone and tell the user that document details could not be loaded."

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string
	Store       store.Store
	Completer   ai.Completer
	Limiter     ratelimit.Limiter
	Objects     storage.ObjectStore
	Queue       queue.AnalysisQueue
	Logger      *slog.Logger
}

// App wires storage, rate limiting, and the completion client into the
// chat and document analysis flows.
type App struct {
	store     store.Store
	completer ai.Completer
	limiter   ratelimit.Limiter
	objects   storage.ObjectStore
	queue     queue.AnalysisQueue
	logger    *slog.Logger
}

// New constructs the application with database-backed storage.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	if cfg.Completer == nil {
		return nil, fmt.Errorf("completion client required")
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.NewMemoryLimiter(0, 0)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		store:     dataStore,
		completer: cfg.Completer,
		limiter:   limiter,
		objects:   cfg.Objects,
		queue:     cfg.Queue,
		logger:    logger,
	}, nil
}

// ChatResult is the reply to one chat turn. Response duplicates the
// assistant message content for callers that only want the text.
type ChatResult struct {
	Response       string         `json:"response"`
	ConversationID string         `json:"conversationId"`
	Reply          domain.Message `json:"reply"`
}

// Chat runs one conversational turn: load history and document context,
// call the completion endpoint, and persist both sides of the exchange.
// An empty conversationID starts a new conversation.
func (a *App) Chat(ctx context.Context, user domain.User, message, conversationID, documentID string) (ChatResult, error) {
	if !a.limiter.Allow(user.ID) {
		return ChatResult{}, ErrRateLimited
	}
	conversation, err := a.ensureConversation(user, message, conversationID, documentID)
	if err != nil {
		return ChatResult{}, err
	}
	history, err := a.store.ListRecentMessages(user.ID, conversation.ID, historyLimit)
	if err != nil {
		return ChatResult{}, fmt.Errorf("load history: %w", err)
	}
	prompt := a.assembleChatPrompt(ctx, user, conversation, history, message)
	reply, err := a.completer.Complete(ctx, prompt, ai.ChatOptions)
	if err != nil {
		return ChatResult{}, err
	}
	now := time.Now().UTC()
	if err := a.store.AppendMessage(user.ID, domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conversation.ID,
		Role:           domain.RoleUser,
		Content:        message,
		CreatedAt:      now,
	}); err != nil {
		return ChatResult{}, fmt.Errorf("save user message: %w", err)
	}
	assistantMsg := domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conversation.ID,
		Role:           domain.RoleAssistant,
		Content:        reply,
		CreatedAt:      time.Now().UTC(),
	}
	if err := a.store.AppendMessage(user.ID, assistantMsg); err != nil {
		return ChatResult{}, fmt.Errorf("save assistant message: %w", err)
	}
	if err := a.store.TouchConversation(user.ID, conversation.ID, assistantMsg.CreatedAt); err != nil {
		return ChatResult{}, fmt.Errorf("update conversation: %w", err)
	}
	return ChatResult{
		Response:       assistantMsg.Content,
		ConversationID: conversation.ID,
		Reply:          assistantMsg,
	}, nil
}

// assembleChatPrompt builds the message list for one chat turn: a system
// instruction with document context when available, the most recent
// history in chronological order, then the new user message. A failure
// to load the referenced document is logged and degrades to a fallback
// instruction instead of aborting the turn.
func (a *App) assembleChatPrompt(ctx context.Context, user domain.User, conversation domain.Conversation, history []domain.Message, message string) []ai.ChatMessage {
	system := chatSystemPrompt
	if conversation.DocumentID != "" {
		doc, ok, err := a.store.GetDocument(user.ID, conversation.DocumentID)
		switch {
		case err != nil || !ok:
			util.LoggerFromContext(ctx).Warn("document context unavailable",
				"conversation_id", conversation.ID,
				"document_id", conversation.DocumentID,
				"error", err)
			system = chatSystemPrompt + "\n\n" + chatFallbackInstruction
		default:
			system = chatSystemPrompt + "\n\n" + documentContext(doc)
		}
	}
	prompt := make([]ai.ChatMessage, 0, len(history)+2)
	prompt = append(prompt, ai.ChatMessage{Role: "system", Content: system})
	for _, msg := range history {
		prompt = append(prompt, ai.ChatMessage{Role: string(msg.Role), Content: msg.Content})
	}
	prompt = append(prompt, ai.ChatMessage{Role: "user", Content: message})
	return prompt
}

// documentContext renders a bounded excerpt of the document plus its
// analysis, when one exists, for the system prompt.
func documentContext(doc domain.Document) string {
	var sb strings.Builder
	sb.WriteString("The user is asking about the following document.\n")
	sb.WriteString("Title: ")
	sb.WriteString(doc.Title)
	sb.WriteString("\n")
	if doc.Analysis != nil {
		if doc.Analysis.Summary != "" {
			sb.WriteString("Summary: ")
			sb.WriteString(doc.Analysis.Summary)
			sb.WriteString("\n")
		}
		if len(doc.Analysis.KeyPoints) > 0 {
			sb.WriteString("Key points:\n")
			for _, p := range doc.Analysis.KeyPoints {
				sb.WriteString("- ")
				sb.WriteString(p)
				sb.WriteString("\n")
			}
		}
	}
	excerpt := doc.Content
	if runes := []rune(excerpt); len(runes) > excerptChars {
		excerpt = string(runes[:excerptChars])
	}
	if excerpt != "" {
		sb.WriteString("Excerpt:\n")
		sb.WriteString(excerpt)
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}

func (a *App) ensureConversation(user domain.User, message, conversationID, documentID string) (domain.Conversation, error) {
	if conversationID != "" {
		conversation, ok, err := a.store.GetConversation(user.ID, conversationID)
		if err != nil {
			return domain.Conversation{}, fmt.Errorf("load conversation: %w", err)
		}
		if !ok {
			return domain.Conversation{}, ErrConversationNotFound
		}
		return conversation, nil
	}
	if documentID != "" {
		if _, ok, err := a.store.GetDocument(user.ID, documentID); err != nil {
			return domain.Conversation{}, fmt.Errorf("load document: %w", err)
		} else if !ok {
			return domain.Conversation{}, ErrDocumentNotFound
		}
	}
	now := time.Now().UTC()
	conversation := domain.Conversation{
		ID:         uuid.NewString(),
		UserID:     user.ID,
		DocumentID: documentID,
		Title:      generateConversationTitle(message),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := a.store.CreateConversation(conversation); err != nil {
		return domain.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conversation, nil
}

// generateConversationTitle derives a short title from the first message.
func generateConversationTitle(message string) string {
	text := strings.TrimSpace(strings.ReplaceAll(message, "\n", " "))
	if text == "" {
		return defaultConversationTitle
	}
	for _, prefix := range []string{"please ", "can you ", "could you ", "would you ", "hey, ", "hi, "} {
		if strings.HasPrefix(strings.ToLower(text), prefix) {
			text = strings.TrimSpace(text[len(prefix):])
			break
		}
	}
	text = strings.TrimSuffix(text, "?")
	text = strings.TrimSpace(text)
	if text == "" {
		return defaultConversationTitle
	}
	runes := []rune(text)
	if len(runes) > 48 {
		return string(runes[:48]) + "…"
	}
	return text
}

// ListConversations lists recent conversations for the current user.
func (a *App) ListConversations(user domain.User, limit int) ([]domain.Conversation, error) {
	if limit <= 0 || limit > 100 {
		limit = 30
	}
	items, err := a.store.ListConversations(user.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return items, nil
}

// ListConversationMessages lists conversation messages in chronological order.
func (a *App) ListConversationMessages(user domain.User, conversationID string, limit int) ([]domain.Message, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, ErrConversationNotFound
	}
	if _, ok, err := a.store.GetConversation(user.ID, conversationID); err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	} else if !ok {
		return nil, ErrConversationNotFound
	}
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	items, err := a.store.ListRecentMessages(user.ID, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversation messages: %w", err)
	}
	return items, nil
}

// DeleteConversation removes a conversation and its messages.
func (a *App) DeleteConversation(user domain.User, conversationID string) error {
	if _, ok, err := a.store.GetConversation(user.ID, conversationID); err != nil {
		return fmt.Errorf("load conversation: %w", err)
	} else if !ok {
		return ErrConversationNotFound
	}
	if err := a.store.DeleteConversation(user.ID, conversationID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}
