package validate

import (
	"errors"
	"strings"
	"testing"
)

const validUUID = "1b671a64-40d5-491e-99b0-da01ff1f3341"

func TestChatAcceptsBoundedMessage(t *testing.T) {
	payload, err := Chat("  hello there  ", validUUID, "")
	if err != nil {
		t.Fatalf("valid chat rejected: %v", err)
	}
	if payload.Message != "hello there" {
		t.Fatalf("expected trimmed message, got %q", payload.Message)
	}
	if payload.ConversationID != validUUID {
		t.Fatalf("conversation id lost: %q", payload.ConversationID)
	}
}

func TestChatRejectsOversizedMessage(t *testing.T) {
	_, err := Chat(strings.Repeat("a", MaxMessageChars+1), validUUID, "")
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	if _, err := Chat("   ", validUUID, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank message, got %v", err)
	}
}

func TestChatAllowsMissingConversationID(t *testing.T) {
	payload, err := Chat("hi", "", "")
	if err != nil {
		t.Fatalf("first message without conversation id rejected: %v", err)
	}
	if payload.ConversationID != "" {
		t.Fatalf("expected empty conversation id, got %q", payload.ConversationID)
	}
}

func TestChatRejectsMalformedIDs(t *testing.T) {
	cases := []struct {
		name             string
		conversationID   string
		documentID       string
	}{
		{"bad conversation id", "not-a-uuid", ""},
		{"bad document id", validUUID, "12345"},
		{"sql-ish id", "' OR 1=1 --", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Chat("hi", tc.conversationID, tc.documentID); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestAnalyzeBounds(t *testing.T) {
	if _, err := Analyze(validUUID, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty content should be rejected, got %v", err)
	}
	if _, err := Analyze(validUUID, strings.Repeat("x", MaxContentBytes+1)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("oversized content should be rejected, got %v", err)
	}
	payload, err := Analyze(validUUID, "%PDF-1.4 content")
	if err != nil {
		t.Fatalf("valid analyze payload rejected: %v", err)
	}
	if payload.DocumentID != validUUID {
		t.Fatalf("document id lost: %q", payload.DocumentID)
	}
}

func TestAnalyzeRejectsMissingDocumentID(t *testing.T) {
	if _, err := Analyze("", "content"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
