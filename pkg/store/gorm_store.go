package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"docuchat/pkg/domain"
)

const migrateLockID int64 = 48302211

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&UserModel{},
			&ConversationModel{},
			&MessageModel{},
			&DocumentModel{},
			&RecoveryCodeModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				DELETE FROM message_models m
				WHERE NOT EXISTS (SELECT 1 FROM conversation_models c WHERE c.id = m.conversation_id);
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'message_models'
					AND constraint_name = 'message_models_conversation_id_fkey'
				) THEN
					ALTER TABLE message_models
					ADD CONSTRAINT message_models_conversation_id_fkey
					FOREIGN KEY (conversation_id) REFERENCES conversation_models(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure message foreign key: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)"); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)")
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string) error {
	_, err := conn.ExecContext(ctx, query, migrateLockID)
	return err
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(u domain.User) error {
	var email *string
	if u.Email != "" {
		value := u.Email
		email = &value
	}
	model := UserModel{
		ID:        u.ID,
		Email:     email,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "updated_at"}),
	}).Create(&model).Error
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	email := ""
	if model.Email != nil {
		email = *model.Email
	}
	return domain.User{
		ID:        model.ID,
		Email:     email,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}, true, nil
}

// CreateConversation creates a conversation record.
func (s *GormStore) CreateConversation(c domain.Conversation) error {
	model := conversationToModel(c)
	return s.db.Create(&model).Error
}

// GetConversation returns one conversation owned by the user.
func (s *GormStore) GetConversation(userID, id string) (domain.Conversation, bool, error) {
	var model ConversationModel
	if err := s.db.First(&model, "id = ? AND user_id = ?", id, userID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Conversation{}, false, nil
		}
		return domain.Conversation{}, false, err
	}
	return conversationFromModel(model), true, nil
}

// ListConversations returns the user's latest conversations.
func (s *GormStore) ListConversations(userID string, limit int) ([]domain.Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []ConversationModel
	if err := s.db.Where("user_id = ?", userID).
		Order("updated_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.Conversation, 0, len(models))
	for _, model := range models {
		items = append(items, conversationFromModel(model))
	}
	return items, nil
}

// TouchConversation refreshes the updated_at timestamp.
func (s *GormStore) TouchConversation(userID, id string, updatedAt time.Time) error {
	return s.db.Model(&ConversationModel{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("updated_at", updatedAt.UTC()).Error
}

// DeleteConversation removes a conversation and its messages.
func (s *GormStore) DeleteConversation(userID, id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&ConversationModel{}, "id = ? AND user_id = ?", id, userID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		return tx.Delete(&MessageModel{}, "conversation_id = ?", id).Error
	})
}

// AppendMessage records a message after checking the conversation owner.
func (s *GormStore) AppendMessage(userID string, msg domain.Message) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&ConversationModel{}).
			Where("id = ? AND user_id = ?", msg.ConversationID, userID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("conversation %s not owned by user", msg.ConversationID)
		}
		model := MessageModel{
			ID:             msg.ID,
			ConversationID: msg.ConversationID,
			Role:           string(msg.Role),
			Content:        msg.Content,
			CreatedAt:      msg.CreatedAt,
		}
		return tx.Create(&model).Error
	})
}

// ListRecentMessages returns the newest messages of a conversation in
// chronological order (newest-first query, reversed).
func (s *GormStore) ListRecentMessages(userID, conversationID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return []domain.Message{}, nil
	}
	var models []MessageModel
	if err := s.db.
		Joins("JOIN conversation_models ON conversation_models.id = message_models.conversation_id").
		Where("message_models.conversation_id = ? AND conversation_models.user_id = ?", conversationID, userID).
		Order("message_models.created_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for i := len(models) - 1; i >= 0; i-- {
		msgs = append(msgs, messageFromModel(models[i]))
	}
	return msgs, nil
}

// CreateDocument stores a new document row.
func (s *GormStore) CreateDocument(d domain.Document) error {
	model := documentToModel(d)
	return s.db.Create(&model).Error
}

// GetDocument retrieves a document owned by the user.
func (s *GormStore) GetDocument(userID, id string) (domain.Document, bool, error) {
	var model DocumentModel
	if err := s.db.First(&model, "id = ? AND user_id = ?", id, userID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, err
	}
	return documentFromModel(model), true, nil
}

// ListDocuments returns the user's documents, newest first.
func (s *GormStore) ListDocuments(userID string) ([]domain.Document, error) {
	var models []DocumentModel
	if err := s.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	docs := make([]domain.Document, 0, len(models))
	for _, model := range models {
		docs = append(docs, documentFromModel(model))
	}
	return docs, nil
}

// SetDocumentAnalysis writes the five analysis fields and the completed
// status in one UPDATE so a partial analysis is never persisted.
func (s *GormStore) SetDocumentAnalysis(userID, id string, analysis domain.Analysis) error {
	keyPoints, _ := json.Marshal(analysis.KeyPoints)
	keywords, _ := json.Marshal(analysis.Keywords)
	entities, _ := json.Marshal(analysis.Entities)
	res := s.db.Model(&DocumentModel{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]any{
			"summary":       analysis.Summary,
			"key_points":    datatypes.JSON(keyPoints),
			"sentiment":     analysis.Sentiment,
			"keywords":      datatypes.JSON(keywords),
			"entities":      datatypes.JSON(entities),
			"status":        string(domain.StatusCompleted),
			"error_message": "",
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SetDocumentStatus updates document status/error.
func (s *GormStore) SetDocumentStatus(userID, id string, status domain.DocumentStatus, errMsg string) error {
	return s.db.Model(&DocumentModel{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]any{
			"status":        string(status),
			"error_message": errMsg,
			"updated_at":    time.Now().UTC(),
		}).Error
}

// DeleteDocument removes a document owned by the user.
func (s *GormStore) DeleteDocument(userID, id string) error {
	return s.db.Delete(&DocumentModel{}, "id = ? AND user_id = ?", id, userID).Error
}

// DeleteRecoveryCodes drops all codes for the user.
func (s *GormStore) DeleteRecoveryCodes(userID string) error {
	return s.db.Delete(&RecoveryCodeModel{}, "user_id = ?", userID).Error
}

// InsertRecoveryCodes stores a fresh batch of code hashes.
func (s *GormStore) InsertRecoveryCodes(userID string, codes []domain.RecoveryCode) error {
	if len(codes) == 0 {
		return nil
	}
	models := make([]RecoveryCodeModel, 0, len(codes))
	for _, code := range codes {
		models = append(models, RecoveryCodeModel{
			ID:        code.ID,
			UserID:    userID,
			CodeHash:  code.CodeHash,
			UsedAt:    code.UsedAt,
			CreatedAt: code.CreatedAt,
		})
	}
	return s.db.Create(&models).Error
}

// ListUnusedRecoveryCodes returns the user's unconsumed codes.
func (s *GormStore) ListUnusedRecoveryCodes(userID string) ([]domain.RecoveryCode, error) {
	var models []RecoveryCodeModel
	if err := s.db.Where("user_id = ? AND used_at IS NULL", userID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	codes := make([]domain.RecoveryCode, 0, len(models))
	for _, model := range models {
		codes = append(codes, domain.RecoveryCode{
			ID:        model.ID,
			UserID:    model.UserID,
			CodeHash:  model.CodeHash,
			UsedAt:    model.UsedAt,
			CreatedAt: model.CreatedAt,
		})
	}
	return codes, nil
}

// MarkRecoveryCodeUsed consumes a code.
func (s *GormStore) MarkRecoveryCodeUsed(userID, id string, usedAt time.Time) error {
	res := s.db.Model(&RecoveryCodeModel{}).
		Where("id = ? AND user_id = ? AND used_at IS NULL", id, userID).
		Update("used_at", usedAt.UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func conversationToModel(c domain.Conversation) ConversationModel {
	var documentID *string
	if c.DocumentID != "" {
		value := c.DocumentID
		documentID = &value
	}
	return ConversationModel{
		ID:         c.ID,
		UserID:     c.UserID,
		DocumentID: documentID,
		Title:      c.Title,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}

func conversationFromModel(m ConversationModel) domain.Conversation {
	documentID := ""
	if m.DocumentID != nil {
		documentID = *m.DocumentID
	}
	return domain.Conversation{
		ID:         m.ID,
		UserID:     m.UserID,
		DocumentID: documentID,
		Title:      m.Title,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	return domain.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Role:           domain.MessageRole(m.Role),
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
	}
}

func documentToModel(d domain.Document) DocumentModel {
	model := DocumentModel{
		ID:           d.ID,
		UserID:       d.UserID,
		Title:        d.Title,
		Filename:     d.Filename,
		ContentType:  d.ContentType,
		SizeBytes:    d.SizeBytes,
		StorageKey:   d.StorageKey,
		Content:      d.Content,
		Status:       string(d.Status),
		ErrorMessage: d.ErrorMessage,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
	if d.Analysis != nil {
		summary := d.Analysis.Summary
		sentiment := d.Analysis.Sentiment
		model.Summary = &summary
		model.Sentiment = &sentiment
		keyPoints, _ := json.Marshal(d.Analysis.KeyPoints)
		keywords, _ := json.Marshal(d.Analysis.Keywords)
		entities, _ := json.Marshal(d.Analysis.Entities)
		model.KeyPoints = datatypes.JSON(keyPoints)
		model.Keywords = datatypes.JSON(keywords)
		model.Entities = datatypes.JSON(entities)
	}
	return model
}

func documentFromModel(m DocumentModel) domain.Document {
	doc := domain.Document{
		ID:           m.ID,
		UserID:       m.UserID,
		Title:        m.Title,
		Filename:     m.Filename,
		ContentType:  m.ContentType,
		SizeBytes:    m.SizeBytes,
		StorageKey:   m.StorageKey,
		Content:      m.Content,
		Status:       domain.DocumentStatus(m.Status),
		ErrorMessage: m.ErrorMessage,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	if m.Summary != nil && m.Sentiment != nil {
		analysis := domain.Analysis{
			Summary:   *m.Summary,
			Sentiment: *m.Sentiment,
		}
		_ = json.Unmarshal(m.KeyPoints, &analysis.KeyPoints)
		_ = json.Unmarshal(m.Keywords, &analysis.Keywords)
		_ = json.Unmarshal(m.Entities, &analysis.Entities)
		doc.Analysis = &analysis
	}
	return doc
}
