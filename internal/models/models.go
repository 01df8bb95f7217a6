package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type User struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	FirstName    string    `gorm:"size:50;not null"`
	LastName     string    `gorm:"size:50;not null"`
	Email        string    `gorm:"size:120;uniqueIndex;not null"`
	Username     string    `gorm:"size:50;uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`

	Calculations []Calculation `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// BeforeCreate assigns a UUID when none is set.
func (u *User) BeforeCreate(_ *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// Calculation stores the operands of an arithmetic operation. The result is
// derived from Type and Inputs and never persisted.
type Calculation struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index"`
	Type      string    `gorm:"size:50;not null"`
	Inputs    []float64 `gorm:"type:json;serializer:json;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`

	User *User `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (c *Calculation) BeforeCreate(_ *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// All lists every persisted model. Order carries no meaning; the storage
// schema derives dependency order from the relationships.
func All() []any {
	return []any{&Calculation{}, &User{}}
}
