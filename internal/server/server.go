package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"docuchat/internal/app"
	"docuchat/internal/usertoken"
	"docuchat/internal/util"
	"docuchat/internal/validate"
	"docuchat/pkg/ai"
	"docuchat/pkg/domain"
	"docuchat/pkg/store"
)

const genericErrorMessage = "Unable to process your request. Please try again."

// rateLimitRetryAfter is the Retry-After value sent with 429 responses.
const rateLimitRetryAfter = 3600

// Config wires required dependencies for the HTTP server.
type Config struct {
	App           *app.App
	Store         store.Store
	TokenVerifier *usertoken.Verifier
}

// Server exposes the HTTP API.
type Server struct {
	app           *app.App
	store         store.Store
	tokenVerifier *usertoken.Verifier
	mux           *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:           cfg.App,
		store:         cfg.Store,
		tokenVerifier: cfg.TokenVerifier,
		mux:           http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler wrapped in the standard middleware.
func (s *Server) Router() http.Handler {
	return util.WithSecurityHeaders(util.WithCORS(util.WithRequestID(util.WithRequestLog("docuchat", s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("POST /chat", s.withUser(s.handleChat))
	s.mux.Handle("POST /analyze-document", s.withUser(s.handleAnalyzeDocument))
	s.mux.Handle("POST /generate-recovery-codes", s.withUser(s.handleGenerateRecoveryCodes))
	s.mux.Handle("POST /verify-recovery-code", s.withUser(s.handleVerifyRecoveryCode))
	s.mux.Handle("POST /documents", s.withUser(s.handleUploadDocument))
	s.mux.Handle("GET /documents", s.withUser(s.handleListDocuments))
	s.mux.Handle("GET /documents/{id}", s.withUser(s.handleGetDocument))
	s.mux.Handle("GET /documents/{id}/download", s.withUser(s.handleDocumentDownload))
	s.mux.Handle("DELETE /documents/{id}", s.withUser(s.handleDeleteDocument))
	s.mux.Handle("GET /conversations", s.withUser(s.handleListConversations))
	s.mux.Handle("GET /conversations/{id}/messages", s.withUser(s.handleConversationMessages))
	s.mux.Handle("DELETE /conversations/{id}", s.withUser(s.handleDeleteConversation))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userHandler func(http.ResponseWriter, *http.Request, domain.User)

// withUser authenticates the bearer token and resolves the user row. A
// valid token whose user has not been seen before provisions the row.
func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := usertoken.BearerToken(r)
		if !ok {
			s.audit(r, "api.authorize", "fail", "reason", "missing_token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		userID, err := s.tokenVerifier.VerifySubject(token)
		if err != nil {
			s.audit(r, "api.authorize", "fail", "reason", "invalid_signature_or_claims")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		user, found, err := s.store.GetUserByID(userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, genericErrorMessage)
			return
		}
		if !found {
			user = domain.User{ID: userID, CreatedAt: time.Now().UTC()}
			if err := s.store.SaveUser(user); err != nil {
				writeError(w, http.StatusInternalServerError, genericErrorMessage)
				return
			}
		}
		next(w, r, user)
	})
}

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId"`
	DocumentID     string `json:"documentId"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	payload, err := validate.Chat(req.Message, req.ConversationID, req.DocumentID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	res, err := s.app.Chat(r.Context(), user, payload.Message, payload.ConversationID, payload.DocumentID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type analyzeRequest struct {
	DocumentID string `json:"documentId"`
	Content    string `json:"content"`
}

func (s *Server) handleAnalyzeDocument(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req analyzeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, int64(validate.MaxContentBytes)+4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	payload, err := validate.Analyze(req.DocumentID, req.Content)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	doc, err := s.app.AnalyzeDocument(r.Context(), user, payload.DocumentID, payload.Content)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"analysis": doc.Analysis,
		"document": doc,
	})
}

func (s *Server) handleGenerateRecoveryCodes(w http.ResponseWriter, r *http.Request, user domain.User) {
	codes, err := s.app.GenerateRecoveryCodes(user)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "api.recovery_codes.generate", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, map[string]any{"recovery_codes": codes})
}

type verifyRecoveryRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleVerifyRecoveryCode(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req verifyRecoveryRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.app.VerifyRecoveryCode(user, req.Code); err != nil {
		if errors.Is(err, app.ErrRecoveryCodeInvalid) {
			s.audit(r, "api.recovery_codes.verify", "fail", "user_id", user.ID)
		}
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "api.recovery_codes.verify", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request, user domain.User) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()
	contentType := header.Header.Get("Content-Type")
	doc, err := s.app.UploadDocument(r.Context(), user, header.Filename, contentType, file)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request, user domain.User) {
	docs, err := s.app.ListDocuments(user)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request, user domain.User) {
	doc, err := s.app.GetDocument(user, r.PathValue("id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDocumentDownload(w http.ResponseWriter, r *http.Request, user domain.User) {
	url, err := s.app.DocumentDownloadURL(r.Context(), user, r.PathValue("id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request, user domain.User) {
	if err := s.app.DeleteDocument(r.Context(), user, r.PathValue("id")); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request, user domain.User) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := s.app.ListConversations(user, limit)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": items})
}

func (s *Server) handleConversationMessages(w http.ResponseWriter, r *http.Request, user domain.User) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := s.app.ListConversationMessages(user, r.PathValue("id"), limit)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": items})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request, user domain.User) {
	if err := s.app.DeleteConversation(user, r.PathValue("id")); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// writeAppError maps application errors onto the HTTP surface without
// leaking internal detail.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, validate.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid request")
	case errors.Is(err, app.ErrConversationNotFound),
		errors.Is(err, app.ErrDocumentNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, app.ErrDocumentFinalized):
		writeError(w, http.StatusBadRequest, "document has already been analyzed")
	case errors.Is(err, app.ErrRecoveryCodeInvalid):
		writeError(w, http.StatusBadRequest, "invalid recovery code")
	case errors.Is(err, app.ErrRateLimited):
		s.audit(r, "api.ratelimit", "fail")
		w.Header().Set("Retry-After", strconv.Itoa(rateLimitRetryAfter))
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	case errors.Is(err, ai.ErrUpstreamRateLimited):
		writeError(w, http.StatusTooManyRequests, "service is busy, please retry later")
	case errors.Is(err, ai.ErrUpstreamBilling):
		writeError(w, http.StatusPaymentRequired, "service quota exceeded")
	default:
		util.LoggerFromContext(r.Context()).Error("request failed",
			"path", r.URL.Path,
			"error", err)
		writeError(w, http.StatusInternalServerError, genericErrorMessage)
	}
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
