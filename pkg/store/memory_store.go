package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"docuchat/pkg/domain"
)

// MemoryStore keeps all state in-process. It backs tests and local
// development; ownership scoping matches the Postgres store.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]domain.User
	conversations map[string]domain.Conversation
	messages      map[string][]domain.Message // conversation ID -> messages
	documents     map[string]domain.Document
	recoveryCodes map[string][]domain.RecoveryCode // user ID -> codes
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]domain.User),
		conversations: make(map[string]domain.Conversation),
		messages:      make(map[string][]domain.Message),
		documents:     make(map[string]domain.Document),
		recoveryCodes: make(map[string][]domain.RecoveryCode),
	}
}

func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return nil
}

func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) CreateConversation(c domain.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.conversations[c.ID]; exists {
		return fmt.Errorf("conversation %s already exists", c.ID)
	}
	m.conversations[c.ID] = c
	return nil
}

func (m *MemoryStore) GetConversation(userID, id string) (domain.Conversation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[id]
	if !ok || c.UserID != userID {
		return domain.Conversation{}, false, nil
	}
	return c, true, nil
}

func (m *MemoryStore) ListConversations(userID string, limit int) ([]domain.Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]domain.Conversation, 0)
	for _, c := range m.conversations {
		if c.UserID == userID {
			items = append(items, c)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].UpdatedAt.After(items[j].UpdatedAt) })
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *MemoryStore) TouchConversation(userID, id string, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok || c.UserID != userID {
		return nil
	}
	c.UpdatedAt = updatedAt.UTC()
	m.conversations[id] = c
	return nil
}

func (m *MemoryStore) DeleteConversation(userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok || c.UserID != userID {
		return nil
	}
	delete(m.conversations, id)
	delete(m.messages, id)
	return nil
}

func (m *MemoryStore) AppendMessage(userID string, msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[msg.ConversationID]
	if !ok || c.UserID != userID {
		return fmt.Errorf("conversation %s not owned by user", msg.ConversationID)
	}
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], msg)
	return nil
}

func (m *MemoryStore) ListRecentMessages(userID, conversationID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return []domain.Message{}, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[conversationID]
	if !ok || c.UserID != userID {
		return []domain.Message{}, nil
	}
	msgs := make([]domain.Message, len(m.messages[conversationID]))
	copy(msgs, m.messages[conversationID])
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (m *MemoryStore) CreateDocument(d domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.documents[d.ID]; exists {
		return fmt.Errorf("document %s already exists", d.ID)
	}
	m.documents[d.ID] = d
	return nil
}

func (m *MemoryStore) GetDocument(userID, id string) (domain.Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.documents[id]
	if !ok || d.UserID != userID {
		return domain.Document{}, false, nil
	}
	return d, true, nil
}

func (m *MemoryStore) ListDocuments(userID string) ([]domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs := make([]domain.Document, 0)
	for _, d := range m.documents {
		if d.UserID == userID {
			docs = append(docs, d)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].CreatedAt.After(docs[j].CreatedAt) })
	return docs, nil
}

func (m *MemoryStore) SetDocumentAnalysis(userID, id string, analysis domain.Analysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[id]
	if !ok || d.UserID != userID {
		return fmt.Errorf("document %s not found", id)
	}
	copied := analysis
	d.Analysis = &copied
	d.Status = domain.StatusCompleted
	d.ErrorMessage = ""
	d.UpdatedAt = time.Now().UTC()
	m.documents[id] = d
	return nil
}

func (m *MemoryStore) SetDocumentStatus(userID, id string, status domain.DocumentStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[id]
	if !ok || d.UserID != userID {
		return fmt.Errorf("document %s not found", id)
	}
	d.Status = status
	d.ErrorMessage = errMsg
	d.UpdatedAt = time.Now().UTC()
	m.documents[id] = d
	return nil
}

func (m *MemoryStore) DeleteDocument(userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[id]
	if !ok || d.UserID != userID {
		return nil
	}
	delete(m.documents, id)
	return nil
}

func (m *MemoryStore) DeleteRecoveryCodes(userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recoveryCodes, userID)
	return nil
}

func (m *MemoryStore) InsertRecoveryCodes(userID string, codes []domain.RecoveryCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recoveryCodes[userID] = append(m.recoveryCodes[userID], codes...)
	return nil
}

func (m *MemoryStore) ListUnusedRecoveryCodes(userID string) ([]domain.RecoveryCode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	codes := make([]domain.RecoveryCode, 0)
	for _, code := range m.recoveryCodes[userID] {
		if code.UsedAt == nil {
			codes = append(codes, code)
		}
	}
	return codes, nil
}

func (m *MemoryStore) MarkRecoveryCodeUsed(userID, id string, usedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	codes := m.recoveryCodes[userID]
	for i, code := range codes {
		if code.ID == id && code.UsedAt == nil {
			at := usedAt.UTC()
			codes[i].UsedAt = &at
			return nil
		}
	}
	return fmt.Errorf("recovery code %s not found", id)
}
