package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"

	"docuchat/internal/ratelimit"
	"docuchat/pkg/ai"
	"docuchat/pkg/domain"
	"docuchat/pkg/queue"
	"docuchat/pkg/store"
)

type stubCompleter struct {
	reply    string
	err      error
	messages []ai.ChatMessage
	opts     ai.Options
	calls    int
}

func (s *stubCompleter) Complete(_ context.Context, messages []ai.ChatMessage, opts ai.Options) (string, error) {
	s.calls++
	s.messages = messages
	s.opts = opts
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func newTestApp(t *testing.T, completer ai.Completer, limiter ratelimit.Limiter) (*App, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	a, err := New(Config{Store: st, Completer: completer, Limiter: limiter})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, st
}

func testUser(t *testing.T, st *store.MemoryStore, id string) domain.User {
	t.Helper()
	user := domain.User{ID: id, Email: id + "@example.com", CreatedAt: time.Now().UTC()}
	if err := st.SaveUser(user); err != nil {
		t.Fatalf("SaveUser: %v", err)
	}
	return user
}

func TestChatCreatesConversationAndPersistsTurn(t *testing.T) {
	completer := &stubCompleter{reply: "hello there"}
	a, st := newTestApp(t, completer, nil)
	user := testUser(t, st, "alice")

	res, err := a.Chat(context.Background(), user, "What is this service?", "", "")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if res.ConversationID == "" {
		t.Fatal("expected a new conversation id")
	}
	if res.Reply.Content != "hello there" || res.Reply.Role != domain.RoleAssistant {
		t.Fatalf("unexpected reply: %+v", res.Reply)
	}
	if completer.opts != ai.ChatOptions {
		t.Fatalf("options = %+v, want %+v", completer.opts, ai.ChatOptions)
	}

	msgs, err := st.ListRecentMessages(user.ID, res.ConversationID, 10)
	if err != nil {
		t.Fatalf("ListRecentMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("persisted %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != domain.RoleUser || msgs[1].Role != domain.RoleAssistant {
		t.Fatalf("unexpected roles: %s, %s", msgs[0].Role, msgs[1].Role)
	}
}

func TestChatPromptCarriesLastTenMessagesInOrder(t *testing.T) {
	completer := &stubCompleter{reply: "ok"}
	a, st := newTestApp(t, completer, nil)
	user := testUser(t, st, "alice")

	conv := domain.Conversation{ID: "11111111-1111-1111-1111-111111111111", UserID: user.ID, Title: "t", CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	if err := st.CreateConversation(conv); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 15; i++ {
		msg := domain.Message{
			ID:             fmt.Sprintf("m%02d", i),
			ConversationID: conv.ID,
			Role:           domain.RoleUser,
			Content:        fmt.Sprintf("msg %d", i),
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}
		if err := st.AppendMessage(user.ID, msg); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	if _, err := a.Chat(context.Background(), user, "latest question", conv.ID, ""); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	// system + 10 history + new user message
	if len(completer.messages) != 12 {
		t.Fatalf("prompt has %d messages, want 12", len(completer.messages))
	}
	if completer.messages[0].Role != "system" {
		t.Fatalf("first prompt message role = %s, want system", completer.messages[0].Role)
	}
	for i := 0; i < 10; i++ {
		want := fmt.Sprintf("msg %d", i+5)
		if got := completer.messages[1+i].Content; got != want {
			t.Fatalf("history[%d] = %q, want %q", i, got, want)
		}
	}
	if last := completer.messages[11]; last.Role != "user" || last.Content != "latest question" {
		t.Fatalf("unexpected final message: %+v", last)
	}
}

func TestChatDocumentContextAndExcerptBound(t *testing.T) {
	completer := &stubCompleter{reply: "ok"}
	a, st := newTestApp(t, completer, nil)
	user := testUser(t, st, "alice")

	doc := domain.Document{
		ID:      "22222222-2222-2222-2222-222222222222",
		UserID:  user.ID,
		Title:   "Quarterly Report",
		Content: strings.Repeat("x", 5000),
		Status:  domain.StatusCompleted,
	}
	if err := st.CreateDocument(doc); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	if _, err := a.Chat(context.Background(), user, "summarize it", "", doc.ID); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	system := completer.messages[0].Content
	if !strings.Contains(system, "Quarterly Report") {
		t.Fatal("system prompt missing document title")
	}
	if n := strings.Count(system, "x"); n != 3000 {
		t.Fatalf("excerpt carries %d chars, want 3000", n)
	}
}

func TestChatFallsBackWhenDocumentMissing(t *testing.T) {
	completer := &stubCompleter{reply: "ok"}
	a, st := newTestApp(t, completer, nil)
	user := testUser(t, st, "alice")

	// Conversation points at a document that no longer exists.
	conv := domain.Conversation{
		ID:         "33333333-3333-3333-3333-333333333333",
		UserID:     user.ID,
		DocumentID: "44444444-4444-4444-4444-444444444444",
		Title:      "t",
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	if err := st.CreateConversation(conv); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	if _, err := a.Chat(context.Background(), user, "hello", conv.ID, ""); err != nil {
		t.Fatalf("Chat should degrade, not fail: %v", err)
	}
	if !strings.Contains(completer.messages[0].Content, "could not be loaded") {
		t.Fatal("system prompt missing fallback instruction")
	}
}

func TestChatUnknownConversationNotFound(t *testing.T) {
	a, st := newTestApp(t, &stubCompleter{reply: "ok"}, nil)
	user := testUser(t, st, "alice")

	_, err := a.Chat(context.Background(), user, "hello", "99999999-9999-9999-9999-999999999999", "")
	if !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("err = %v, want ErrConversationNotFound", err)
	}
}

func TestChatRateLimitedWritesNothing(t *testing.T) {
	completer := &stubCompleter{reply: "ok"}
	limiter := ratelimit.NewMemoryLimiter(1, time.Hour)
	a, st := newTestApp(t, completer, limiter)
	user := testUser(t, st, "alice")

	res, err := a.Chat(context.Background(), user, "first", "", "")
	if err != nil {
		t.Fatalf("first Chat: %v", err)
	}
	_, err = a.Chat(context.Background(), user, "second", res.ConversationID, "")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if completer.calls != 1 {
		t.Fatalf("completer called %d times, want 1", completer.calls)
	}
	msgs, _ := st.ListRecentMessages(user.ID, res.ConversationID, 10)
	if len(msgs) != 2 {
		t.Fatalf("limited request persisted messages: have %d, want 2", len(msgs))
	}
}

func TestChatUpstreamErrorPersistsNothing(t *testing.T) {
	completer := &stubCompleter{err: ai.ErrUpstreamRateLimited}
	a, st := newTestApp(t, completer, nil)
	user := testUser(t, st, "alice")

	conv := domain.Conversation{ID: "55555555-5555-5555-5555-555555555555", UserID: user.ID, Title: "t", CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	if err := st.CreateConversation(conv); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	_, err := a.Chat(context.Background(), user, "hello", conv.ID, "")
	if !errors.Is(err, ai.ErrUpstreamRateLimited) {
		t.Fatalf("err = %v, want ErrUpstreamRateLimited", err)
	}
	msgs, _ := st.ListRecentMessages(user.ID, conv.ID, 10)
	if len(msgs) != 0 {
		t.Fatalf("failed turn persisted %d messages, want 0", len(msgs))
	}
}

func TestAnalyzeDocumentStoresParsedAnalysis(t *testing.T) {
	completer := &stubCompleter{reply: "```json\n{\"summary\":\"A report.\",\"key_points\":[\"p1\"],\"sentiment\":\"positive\",\"keywords\":[\"k\"],\"entities\":[\"Acme\"]}\n```"}
	a, st := newTestApp(t, completer, nil)
	user := testUser(t, st, "alice")

	doc := domain.Document{ID: "66666666-6666-6666-6666-666666666666", UserID: user.ID, Title: "r", Status: domain.StatusProcessing}
	if err := st.CreateDocument(doc); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	got, err := a.AnalyzeDocument(context.Background(), user, doc.ID, "report text")
	if err != nil {
		t.Fatalf("AnalyzeDocument: %v", err)
	}
	if completer.opts != ai.AnalysisOptions {
		t.Fatalf("options = %+v, want %+v", completer.opts, ai.AnalysisOptions)
	}
	if got.Status != domain.StatusCompleted || got.Analysis == nil {
		t.Fatalf("document not completed: %+v", got)
	}
	if got.Analysis.Summary != "A report." || got.Analysis.Sentiment != "positive" {
		t.Fatalf("unexpected analysis: %+v", got.Analysis)
	}
}

func TestAnalyzeDocumentFallsBackOnGarbage(t *testing.T) {
	completer := &stubCompleter{reply: "I could not produce JSON, sorry."}
	a, st := newTestApp(t, completer, nil)
	user := testUser(t, st, "alice")

	doc := domain.Document{ID: "77777777-7777-7777-7777-777777777777", UserID: user.ID, Title: "r", Status: domain.StatusProcessing}
	if err := st.CreateDocument(doc); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	got, err := a.AnalyzeDocument(context.Background(), user, doc.ID, "report text")
	if err != nil {
		t.Fatalf("AnalyzeDocument: %v", err)
	}
	if got.Status != domain.StatusCompleted || got.Analysis == nil {
		t.Fatalf("document not completed: %+v", got)
	}
	want := ai.FallbackAnalysis()
	if !reflect.DeepEqual(*got.Analysis, want) {
		t.Fatalf("analysis = %+v, want fallback %+v", *got.Analysis, want)
	}
}

func TestAnalyzeDocumentUpstreamFailureMarksFailed(t *testing.T) {
	completer := &stubCompleter{err: ai.ErrUpstreamUnavailable}
	a, st := newTestApp(t, completer, nil)
	user := testUser(t, st, "alice")

	doc := domain.Document{ID: "88888888-8888-8888-8888-888888888888", UserID: user.ID, Title: "r", Status: domain.StatusProcessing}
	if err := st.CreateDocument(doc); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	_, err := a.AnalyzeDocument(context.Background(), user, doc.ID, "report text")
	if !errors.Is(err, ai.ErrUpstreamUnavailable) {
		t.Fatalf("err = %v, want ErrUpstreamUnavailable", err)
	}
	got, _, _ := st.GetDocument(user.ID, doc.ID)
	if got.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.Analysis != nil {
		t.Fatal("failed analysis must not leave partial fields")
	}
}

func TestAnalyzeDocumentRejectsFinalizedStates(t *testing.T) {
	completer := &stubCompleter{reply: "ok"}
	a, st := newTestApp(t, completer, nil)
	user := testUser(t, st, "alice")

	docs := []domain.Document{
		{ID: "aaaaaaaa-0000-0000-0000-000000000001", UserID: user.ID, Title: "f", Status: domain.StatusFailed, ErrorMessage: "boom"},
		{ID: "aaaaaaaa-0000-0000-0000-000000000002", UserID: user.ID, Title: "c", Status: domain.StatusCompleted},
	}
	for _, doc := range docs {
		if err := st.CreateDocument(doc); err != nil {
			t.Fatalf("CreateDocument: %v", err)
		}
	}
	for _, doc := range docs {
		_, err := a.AnalyzeDocument(context.Background(), user, doc.ID, "text")
		if !errors.Is(err, ErrDocumentFinalized) {
			t.Fatalf("%s document: err = %v, want ErrDocumentFinalized", doc.Status, err)
		}
		got, _, _ := st.GetDocument(user.ID, doc.ID)
		if got.Status != doc.Status {
			t.Fatalf("status moved %s -> %s", doc.Status, got.Status)
		}
	}
	if completer.calls != 0 {
		t.Fatalf("completer called %d times, want 0", completer.calls)
	}
}

func TestAnalyzeDocumentUnknownID(t *testing.T) {
	a, st := newTestApp(t, &stubCompleter{reply: "ok"}, nil)
	user := testUser(t, st, "alice")

	_, err := a.AnalyzeDocument(context.Background(), user, "99999999-9999-9999-9999-999999999999", "text")
	if !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("err = %v, want ErrDocumentNotFound", err)
	}
}

type stubObjectStore struct {
	data map[string][]byte
}

func (s *stubObjectStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if s.data == nil {
		s.data = map[string][]byte{}
	}
	s.data[key] = raw
	return nil
}

func (s *stubObjectStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	raw, ok := s.data[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (s *stubObjectStore) PresignGet(context.Context, string, time.Duration) (string, error) {
	return "", nil
}

func (s *stubObjectStore) Delete(_ context.Context, key string) error {
	delete(s.data, key)
	return nil
}

func newWorkerApp(t *testing.T, completer ai.Completer, objects *stubObjectStore) (*App, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	a, err := New(Config{Store: st, Completer: completer, Objects: objects})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, st
}

func TestAnalysisJobHappyPath(t *testing.T) {
	objects := &stubObjectStore{data: map[string][]byte{
		"documents/alice/d1/notes.txt": []byte("plain report text"),
	}}
	completer := &stubCompleter{reply: `{"summary":"s","key_points":["p"],"sentiment":"neutral","keywords":[],"entities":[]}`}
	a, st := newWorkerApp(t, completer, objects)
	user := testUser(t, st, "alice")

	doc := domain.Document{
		ID:          "bbbbbbbb-0000-0000-0000-000000000001",
		UserID:      user.ID,
		Title:       "notes",
		ContentType: "text/plain",
		StorageKey:  "documents/alice/d1/notes.txt",
		Status:      domain.StatusProcessing,
	}
	if err := st.CreateDocument(doc); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	err := a.handleAnalysisJob(context.Background(), queue.Job{ID: "j1", DocumentID: doc.ID, UserID: user.ID})
	if err != nil {
		t.Fatalf("handleAnalysisJob: %v", err)
	}
	got, _, _ := st.GetDocument(user.ID, doc.ID)
	if got.Status != domain.StatusCompleted || got.Analysis == nil || got.Analysis.Summary != "s" {
		t.Fatalf("unexpected document: %+v", got)
	}
}

func TestAnalysisJobContentMismatchFails(t *testing.T) {
	// PDF magic bytes declared as text/plain must not be analyzed.
	objects := &stubObjectStore{data: map[string][]byte{
		"documents/alice/d2/fake.txt": []byte("%PDF-1.4 binary payload"),
	}}
	completer := &stubCompleter{reply: "ok"}
	a, st := newWorkerApp(t, completer, objects)
	user := testUser(t, st, "alice")

	doc := domain.Document{
		ID:          "bbbbbbbb-0000-0000-0000-000000000002",
		UserID:      user.ID,
		Title:       "fake",
		ContentType: "text/plain",
		StorageKey:  "documents/alice/d2/fake.txt",
		Status:      domain.StatusProcessing,
	}
	if err := st.CreateDocument(doc); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	// No error: a content rejection is not retryable.
	if err := a.handleAnalysisJob(context.Background(), queue.Job{ID: "j2", DocumentID: doc.ID, UserID: user.ID}); err != nil {
		t.Fatalf("handleAnalysisJob: %v", err)
	}
	got, _, _ := st.GetDocument(user.ID, doc.ID)
	if got.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.Analysis != nil {
		t.Fatal("failed document must not carry analysis fields")
	}
	if got.ErrorMessage == "" {
		t.Fatal("failed document missing error message")
	}
	if completer.calls != 0 {
		t.Fatalf("completer called %d times, want 0", completer.calls)
	}
}

func TestAnalysisJobSkipsFinalizedDocument(t *testing.T) {
	completer := &stubCompleter{reply: "ok"}
	a, st := newWorkerApp(t, completer, &stubObjectStore{})
	user := testUser(t, st, "alice")

	doc := domain.Document{
		ID:      "bbbbbbbb-0000-0000-0000-000000000003",
		UserID:  user.ID,
		Title:   "done",
		Content: "text",
		Status:  domain.StatusFailed,
	}
	if err := st.CreateDocument(doc); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	if err := a.handleAnalysisJob(context.Background(), queue.Job{ID: "j3", DocumentID: doc.ID, UserID: user.ID}); err != nil {
		t.Fatalf("handleAnalysisJob: %v", err)
	}
	got, _, _ := st.GetDocument(user.ID, doc.ID)
	if got.Status != domain.StatusFailed {
		t.Fatalf("status moved failed -> %s", got.Status)
	}
	if completer.calls != 0 {
		t.Fatalf("completer called %d times, want 0", completer.calls)
	}
}

func TestRecoveryCodeLifecycle(t *testing.T) {
	a, st := newTestApp(t, &stubCompleter{reply: "ok"}, nil)
	user := testUser(t, st, "alice")

	codes, err := a.GenerateRecoveryCodes(user)
	if err != nil {
		t.Fatalf("GenerateRecoveryCodes: %v", err)
	}
	if len(codes) != recoveryCodeCount {
		t.Fatalf("generated %d codes, want %d", len(codes), recoveryCodeCount)
	}
	seen := map[string]bool{}
	for _, c := range codes {
		if len(c) != 9 || c[4] != '-' {
			t.Fatalf("unexpected code format: %q", c)
		}
		if seen[c] {
			t.Fatalf("duplicate code %q", c)
		}
		seen[c] = true
	}

	if err := a.VerifyRecoveryCode(user, codes[0]); err != nil {
		t.Fatalf("VerifyRecoveryCode: %v", err)
	}
	if err := a.VerifyRecoveryCode(user, codes[0]); !errors.Is(err, ErrRecoveryCodeInvalid) {
		t.Fatalf("reused code: err = %v, want ErrRecoveryCodeInvalid", err)
	}
	if err := a.VerifyRecoveryCode(user, "NOPE-NOPE"); !errors.Is(err, ErrRecoveryCodeInvalid) {
		t.Fatalf("bogus code: err = %v, want ErrRecoveryCodeInvalid", err)
	}

	// Regeneration invalidates the remaining old codes.
	fresh, err := a.GenerateRecoveryCodes(user)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if err := a.VerifyRecoveryCode(user, codes[1]); !errors.Is(err, ErrRecoveryCodeInvalid) {
		t.Fatalf("old code after rotation: err = %v, want ErrRecoveryCodeInvalid", err)
	}
	if err := a.VerifyRecoveryCode(user, fresh[0]); err != nil {
		t.Fatalf("fresh code: %v", err)
	}
}
