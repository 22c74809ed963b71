package models

import (
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

/*
LEARNING: CRDT UPDATE LOG

Every committed change to a shared blueprint document is an encoded update.
Storing them lets a document be rebuilt by replaying the log:

  local edit → encoded update → append to log → (later) replay on open

The same table backs the local store of an editor (SQLite) and the
relay's copy (Postgres). Updates are commutative, so replay order only
matters for readability, not for the resulting state.
*/

// DocumentUpdate stores a single encoded CRDT update
type DocumentUpdate struct {
	ID         string    `gorm:"type:varchar(27);primaryKey" json:"id"`
	DocumentID string    `gorm:"type:varchar(255);not null;index:idx_update_doc_time" json:"document_id"`
	Update     []byte    `gorm:"not null" json:"-"`
	ClientID   string    `gorm:"type:varchar(64)" json:"client_id"`
	CreatedAt  time.Time `gorm:"index:idx_update_doc_time" json:"created_at"`
}

// BeforeCreate generates KSUID
func (u *DocumentUpdate) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = ksuid.New().String()
	}
	return nil
}

// TableName override
func (DocumentUpdate) TableName() string {
	return "document_updates"
}
