package sqlstore

import (
	stderrors "errors"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	governorerrors "governor/errors"
	"governor/schema"
)

// ApprovalStore is a gorm+postgres-backed storage.ApprovalStore. Update
// conditions its write on the stored version column, the same
// compare-and-swap contract storage/memstore.ApprovalStore enforces in
// process memory.
type ApprovalStore struct {
	db *gorm.DB
}

// NewApprovalStore wraps an already-connected, already-migrated *gorm.DB.
func NewApprovalStore(db *gorm.DB) *ApprovalStore {
	return &ApprovalStore{db: db}
}

func toApprovalRow(req *schema.ApprovalRequest) (approvalRow, error) {
	document, err := json.Marshal(req)
	if err != nil {
		return approvalRow{}, fmt.Errorf("sqlstore: marshal approval %q: %w", req.ID, err)
	}
	return approvalRow{
		ID:         req.ID,
		Version:    req.Version,
		EnvelopeID: req.EnvelopeID,
		Status:     string(req.Status),
		ExpiresAt:  req.ExpiresAt,
		CreatedAt:  req.CreatedAt,
		Document:   document,
	}, nil
}

func fromApprovalRow(row approvalRow) (*schema.ApprovalRequest, error) {
	var req schema.ApprovalRequest
	if err := json.Unmarshal(row.Document, &req); err != nil {
		return nil, fmt.Errorf("sqlstore: decode approval %q: %w", row.ID, err)
	}
	return &req, nil
}

func (s *ApprovalStore) Create(ctx context.Context, req *schema.ApprovalRequest) error {
	row, err := toApprovalRow(req)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return &governorerrors.StorageError{Op: "approval.create", Cause: err}
	}
	return nil
}

func (s *ApprovalStore) Get(ctx context.Context, id string) (*schema.ApprovalRequest, error) {
	var row approvalRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &governorerrors.NotFoundError{Kind: "approval", ID: id}
	}
	if err != nil {
		return nil, &governorerrors.StorageError{Op: "approval.get", Cause: err}
	}
	return fromApprovalRow(row)
}

// Update writes req only if the stored version still equals expectedVersion,
// using a single conditional UPDATE so the check-and-write is atomic under
// concurrent writers without a separate transaction.
func (s *ApprovalStore) Update(ctx context.Context, req *schema.ApprovalRequest, expectedVersion uint64) error {
	row, err := toApprovalRow(req)
	if err != nil {
		return err
	}
	result := s.db.WithContext(ctx).Model(&approvalRow{}).
		Where("id = ? AND version = ?", req.ID, expectedVersion).
		Updates(map[string]interface{}{
			"version":     row.Version,
			"envelope_id": row.EnvelopeID,
			"status":      row.Status,
			"expires_at":  row.ExpiresAt,
			"document":    row.Document,
		})
	if result.Error != nil {
		return &governorerrors.StorageError{Op: "approval.update", Cause: result.Error}
	}
	if result.RowsAffected == 0 {
		var current approvalRow
		if err := s.db.WithContext(ctx).First(&current, "id = ?", req.ID).Error; err != nil {
			if stderrors.Is(err, gorm.ErrRecordNotFound) {
				return &governorerrors.NotFoundError{Kind: "approval", ID: req.ID}
			}
			return &governorerrors.StorageError{Op: "approval.update.recheck", Cause: err}
		}
		return &governorerrors.StaleVersionError{Kind: "approval", ID: req.ID, Expected: expectedVersion, Actual: current.Version}
	}
	return nil
}

func (s *ApprovalStore) ListPending(ctx context.Context, before time.Time) ([]schema.ApprovalRequest, error) {
	var rows []approvalRow
	err := s.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", string(schema.ApprovalStatusPending), before).
		Order("expires_at asc").
		Find(&rows).Error
	if err != nil {
		return nil, &governorerrors.StorageError{Op: "approval.listPending", Cause: err}
	}
	return decodeApprovalRows(rows)
}

func (s *ApprovalStore) List(ctx context.Context, limit int) ([]schema.ApprovalRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []approvalRow
	if err := s.db.WithContext(ctx).Order("created_at desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, &governorerrors.StorageError{Op: "approval.list", Cause: err}
	}
	return decodeApprovalRows(rows)
}

func decodeApprovalRows(rows []approvalRow) ([]schema.ApprovalRequest, error) {
	out := make([]schema.ApprovalRequest, 0, len(rows))
	for _, row := range rows {
		req, err := fromApprovalRow(row)
		if err != nil {
			return nil, &governorerrors.StorageError{Op: "approval.decode", Cause: err}
		}
		out = append(out, *req)
	}
	return out, nil
}
