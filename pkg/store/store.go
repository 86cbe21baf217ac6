package store

import (
	"time"

	"docuchat/pkg/domain"
)

// Store defines persistence operations for conversations, messages,
// documents, and recovery codes. Every read and write is scoped by the
// owning user id so cross-user access is rejected at the storage layer,
// not re-checked in application logic.
type Store interface {
	// users
	SaveUser(domain.User) error
	GetUserByID(id string) (domain.User, bool, error)

	// conversations
	CreateConversation(domain.Conversation) error
	GetConversation(userID, id string) (domain.Conversation, bool, error)
	ListConversations(userID string, limit int) ([]domain.Conversation, error)
	TouchConversation(userID, id string, updatedAt time.Time) error
	DeleteConversation(userID, id string) error

	// messages
	AppendMessage(userID string, msg domain.Message) error
	ListRecentMessages(userID, conversationID string, limit int) ([]domain.Message, error)

	// documents
	CreateDocument(domain.Document) error
	GetDocument(userID, id string) (domain.Document, bool, error)
	ListDocuments(userID string) ([]domain.Document, error)
	SetDocumentAnalysis(userID, id string, analysis domain.Analysis) error
	SetDocumentStatus(userID, id string, status domain.DocumentStatus, errMsg string) error
	DeleteDocument(userID, id string) error

	// recovery codes
	DeleteRecoveryCodes(userID string) error
	InsertRecoveryCodes(userID string, codes []domain.RecoveryCode) error
	ListUnusedRecoveryCodes(userID string) ([]domain.RecoveryCode, error)
	MarkRecoveryCodeUsed(userID, id string, usedAt time.Time) error
}
