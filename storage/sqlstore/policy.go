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

// PolicyStore is a gorm+postgres-backed storage.PolicyStore.
type PolicyStore struct {
	db *gorm.DB
}

// NewPolicyStore wraps an already-connected, already-migrated *gorm.DB.
func NewPolicyStore(db *gorm.DB) *PolicyStore {
	return &PolicyStore{db: db}
}

func toPolicyRow(p *schema.Policy) (policyRow, error) {
	document, err := json.Marshal(p)
	if err != nil {
		return policyRow{}, fmt.Errorf("sqlstore: marshal policy %q: %w", p.ID, err)
	}
	return policyRow{
		ID:             p.ID,
		OrganizationID: p.OrganizationID,
		CartridgeID:    p.CartridgeID,
		Active:         p.Active,
		Priority:       p.Priority,
		Document:       document,
	}, nil
}

func fromPolicyRow(row policyRow) (*schema.Policy, error) {
	var p schema.Policy
	if err := json.Unmarshal(row.Document, &p); err != nil {
		return nil, fmt.Errorf("sqlstore: decode policy %q: %w", row.ID, err)
	}
	return &p, nil
}

func (s *PolicyStore) Create(ctx context.Context, p *schema.Policy) error {
	row, err := toPolicyRow(p)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return &governorerrors.StorageError{Op: "policy.create", Cause: err}
	}
	return nil
}

func (s *PolicyStore) Get(ctx context.Context, id string) (*schema.Policy, error) {
	var row policyRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &governorerrors.NotFoundError{Kind: "policy", ID: id}
	}
	if err != nil {
		return nil, &governorerrors.StorageError{Op: "policy.get", Cause: err}
	}
	return fromPolicyRow(row)
}

func (s *PolicyStore) Update(ctx context.Context, p *schema.Policy) error {
	row, err := toPolicyRow(p)
	if err != nil {
		return err
	}
	result := s.db.WithContext(ctx).Model(&policyRow{}).Where("id = ?", p.ID).Updates(map[string]interface{}{
		"organization_id": row.OrganizationID,
		"cartridge_id":    row.CartridgeID,
		"active":          row.Active,
		"priority":        row.Priority,
		"document":        row.Document,
	})
	if result.Error != nil {
		return &governorerrors.StorageError{Op: "policy.update", Cause: result.Error}
	}
	if result.RowsAffected == 0 {
		return &governorerrors.NotFoundError{Kind: "policy", ID: p.ID}
	}
	return nil
}

func (s *PolicyStore) Delete(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Delete(&policyRow{}, "id = ?", id)
	if result.Error != nil {
		return &governorerrors.StorageError{Op: "policy.delete", Cause: result.Error}
	}
	if result.RowsAffected == 0 {
		return &governorerrors.NotFoundError{Kind: "policy", ID: id}
	}
	return nil
}

func (s *PolicyStore) ListActive(ctx context.Context, organizationID, cartridgeID string) ([]schema.Policy, error) {
	query := s.db.WithContext(ctx).Where("active = ?", true)
	if organizationID != "" {
		query = query.Where("organization_id = ? OR organization_id = ''", organizationID)
	}
	if cartridgeID != "" {
		query = query.Where("cartridge_id = ? OR cartridge_id = ''", cartridgeID)
	}
	var rows []policyRow
	if err := query.Order("priority desc").Find(&rows).Error; err != nil {
		return nil, &governorerrors.StorageError{Op: "policy.listActive", Cause: err}
	}
	out := make([]schema.Policy, 0, len(rows))
	for _, row := range rows {
		p, err := fromPolicyRow(row)
		if err != nil {
			return nil, &governorerrors.StorageError{Op: "policy.listActive.decode", Cause: err}
		}
		out = append(out, *p)
	}
	return out, nil
}
