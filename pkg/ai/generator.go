package ai

import (
	"context"
	"errors"
)

// ChatMessage is one role/content turn in a completion request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options tune a single completion call.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// ChatOptions is the profile used for conversational replies.
var ChatOptions = Options{Temperature: 0.7, MaxTokens: 1000}

// AnalysisOptions favors determinism over creativity for structured
// document analysis.
var AnalysisOptions = Options{Temperature: 0.3, MaxTokens: 2000}

// Completer sends an assembled prompt to an external chat-completion
// endpoint. No retry is performed; retry decisions belong to the caller.
type Completer interface {
	Complete(ctx context.Context, messages []ChatMessage, opts Options) (string, error)
}

// Upstream failures are mapped from the gateway's HTTP status so callers
// can surface the matching status without parsing provider payloads.
var (
	ErrUpstreamRateLimited = errors.New("upstream rate limited")
	ErrUpstreamBilling     = errors.New("upstream billing required")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)
