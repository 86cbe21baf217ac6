package validate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	// MaxMessageChars bounds a single chat message.
	MaxMessageChars = 5000
	// MaxContentBytes bounds raw document content submitted for analysis.
	MaxContentBytes = 10 << 20
)

// ErrInvalidInput is returned for any rejected payload. Callers must not
// expose the wrapped detail to clients.
var ErrInvalidInput = errors.New("invalid input")

// ChatPayload is a bounds-checked chat request.
type ChatPayload struct {
	Message        string
	ConversationID string
	DocumentID     string
}

// AnalyzePayload is a bounds-checked document analysis request.
type AnalyzePayload struct {
	DocumentID string
	Content    string
}

// Chat validates a raw chat request body. An empty conversationId means
// this is the first message of a new conversation.
func Chat(message, conversationID, documentID string) (ChatPayload, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return ChatPayload{}, fmt.Errorf("%w: message is required", ErrInvalidInput)
	}
	if n := len([]rune(message)); n > MaxMessageChars {
		return ChatPayload{}, fmt.Errorf("%w: message length %d exceeds %d", ErrInvalidInput, n, MaxMessageChars)
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID != "" {
		if err := checkUUID(conversationID); err != nil {
			return ChatPayload{}, fmt.Errorf("%w: conversationId: %v", ErrInvalidInput, err)
		}
	}
	documentID = strings.TrimSpace(documentID)
	if documentID != "" {
		if err := checkUUID(documentID); err != nil {
			return ChatPayload{}, fmt.Errorf("%w: documentId: %v", ErrInvalidInput, err)
		}
	}
	return ChatPayload{
		Message:        message,
		ConversationID: conversationID,
		DocumentID:     documentID,
	}, nil
}

// Analyze validates a raw analysis request body.
func Analyze(documentID, content string) (AnalyzePayload, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return AnalyzePayload{}, fmt.Errorf("%w: documentId is required", ErrInvalidInput)
	}
	if err := checkUUID(documentID); err != nil {
		return AnalyzePayload{}, fmt.Errorf("%w: documentId: %v", ErrInvalidInput, err)
	}
	if len(content) == 0 {
		return AnalyzePayload{}, fmt.Errorf("%w: content is required", ErrInvalidInput)
	}
	if len(content) > MaxContentBytes {
		return AnalyzePayload{}, fmt.Errorf("%w: content size %d exceeds %d bytes", ErrInvalidInput, len(content), MaxContentBytes)
	}
	return AnalyzePayload{DocumentID: documentID, Content: content}, nil
}

func checkUUID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("must be a UUID")
	}
	return nil
}
