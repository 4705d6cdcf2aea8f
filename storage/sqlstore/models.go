// Package sqlstore provides gorm+postgres-backed implementations of
// storage.IdentityStore, storage.PolicyStore, and storage.ApprovalStore for
// durable, multi-process deployments selected by DATABASE_URL. Each model
// keeps the handful of columns callers filter on (id, organization, active,
// status, version) as real indexed columns and serializes the rest of the
// domain struct — including Policy's recursive rule tree and ApprovalRequest's
// evidence bundle — into a single JSON column, mirroring the teacher's own
// JSON-in-TEXT-column persistence for nested structures.
package sqlstore

import (
	"time"

	"gorm.io/gorm"
)

// identityRow is the gorm model backing storage.IdentityStore.
type identityRow struct {
	PrincipalID    string `gorm:"primaryKey;size:128"`
	OrganizationID string `gorm:"index;size:128"`
	Document       []byte `gorm:"type:jsonb;not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (identityRow) TableName() string { return "identities" }

// policyRow is the gorm model backing storage.PolicyStore.
type policyRow struct {
	ID             string `gorm:"primaryKey;size:128"`
	OrganizationID string `gorm:"index;size:128"`
	CartridgeID    string `gorm:"index;size:128"`
	Active         bool   `gorm:"index"`
	Priority       int    `gorm:"index"`
	Document       []byte `gorm:"type:jsonb;not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (policyRow) TableName() string { return "policies" }

// approvalRow is the gorm model backing storage.ApprovalStore.
type approvalRow struct {
	ID         string `gorm:"primaryKey;size:128"`
	Version    uint64 `gorm:"not null"`
	EnvelopeID string `gorm:"index;size:128"`
	Status     string `gorm:"index;size:32"`
	ExpiresAt  time.Time `gorm:"index"`
	CreatedAt  time.Time `gorm:"index"`
	Document   []byte `gorm:"type:jsonb;not null"`
	UpdatedAt  time.Time
}

func (approvalRow) TableName() string { return "approvals" }

// AutoMigrate creates or updates the sqlstore tables. Called once at
// startup from cmd/governord when DATABASE_URL selects this backing.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&identityRow{}, &policyRow{}, &approvalRow{})
}
