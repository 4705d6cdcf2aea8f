package sqlstore

import (
	stderrors "errors"
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	governorerrors "governor/errors"
	"governor/schema"
)

// IdentityStore is a gorm+postgres-backed storage.IdentityStore.
type IdentityStore struct {
	db *gorm.DB
}

// NewIdentityStore wraps an already-connected, already-migrated *gorm.DB.
func NewIdentityStore(db *gorm.DB) *IdentityStore {
	return &IdentityStore{db: db}
}

func (s *IdentityStore) Get(ctx context.Context, principalID string) (*schema.IdentitySpec, error) {
	var row identityRow
	err := s.db.WithContext(ctx).First(&row, "principal_id = ?", principalID).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &governorerrors.NotFoundError{Kind: "identity", ID: principalID}
	}
	if err != nil {
		return nil, &governorerrors.StorageError{Op: "identity.get", Cause: err}
	}
	var spec schema.IdentitySpec
	if err := json.Unmarshal(row.Document, &spec); err != nil {
		return nil, &governorerrors.StorageError{Op: "identity.get.decode", Cause: err}
	}
	return &spec, nil
}

func (s *IdentityStore) Put(ctx context.Context, spec *schema.IdentitySpec) error {
	document, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("sqlstore: marshal identity %q: %w", spec.PrincipalID, err)
	}
	row := identityRow{
		PrincipalID:    spec.PrincipalID,
		OrganizationID: spec.OrganizationID,
		Document:       document,
	}
	err = s.db.WithContext(ctx).Save(&row).Error
	if err != nil {
		return &governorerrors.StorageError{Op: "identity.put", Cause: err}
	}
	return nil
}
