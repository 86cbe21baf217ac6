package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
// UserModel keeps Email nullable: users provisioned from a bearer token
// have no email yet, and a NOT NULL unique column would collide on the
// empty string after the first such user.
type UserModel struct {
	ID        string    `gorm:"primaryKey"`
	Email     *string   `gorm:"uniqueIndex"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time
}

type ConversationModel struct {
	ID         string  `gorm:"primaryKey"`
	UserID     string  `gorm:"not null;index"`
	DocumentID *string `gorm:"index"`
	Title      string  `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

type MessageModel struct {
	ID             string    `gorm:"primaryKey"`
	ConversationID string    `gorm:"not null;index"`
	Role           string    `gorm:"not null"`
	Content        string    `gorm:"type:text;not null"`
	CreatedAt      time.Time `gorm:"not null;index"`
}

// DocumentModel keeps the five analysis columns nullable; they are filled
// together by a single UPDATE when analysis completes.
type DocumentModel struct {
	ID           string `gorm:"primaryKey"`
	UserID       string `gorm:"not null;index"`
	Title        string `gorm:"not null"`
	Filename     string
	ContentType  string
	SizeBytes    int64
	StorageKey   string
	Content      string `gorm:"type:text"`
	Summary      *string
	KeyPoints    datatypes.JSON `gorm:"type:jsonb"`
	Sentiment    *string
	Keywords     datatypes.JSON `gorm:"type:jsonb"`
	Entities     datatypes.JSON `gorm:"type:jsonb"`
	Status       string         `gorm:"not null"`
	ErrorMessage string
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

type RecoveryCodeModel struct {
	ID        string `gorm:"primaryKey"`
	UserID    string `gorm:"not null;index"`
	CodeHash  string `gorm:"not null"`
	UsedAt    *time.Time
	CreatedAt time.Time `gorm:"not null"`
}
