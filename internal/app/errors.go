package app

import "errors"

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrDocumentNotFound     = errors.New("document not found")
	ErrDocumentNotReady     = errors.New("document not ready")
	ErrDocumentFinalized    = errors.New("document already finalized")
	ErrRateLimited          = errors.New("rate limit exceeded")
	ErrRecoveryCodeInvalid  = errors.New("recovery code invalid")
)
