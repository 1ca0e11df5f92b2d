package repository

import (
	"context"

	"budgetledger/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AnomalyRepository struct {
	db *gorm.DB
}

func NewAnomalyRepository(db *gorm.DB) *AnomalyRepository {
	return &AnomalyRepository{db: db}
}

func (r *AnomalyRepository) Create(ctx context.Context, anomaly *model.ReconciliationAnomaly) error {
	return r.db.WithContext(ctx).Create(anomaly).Error
}

// List returns the most recent anomalies for a tenant, optionally for one allocation.
func (r *AnomalyRepository) List(ctx context.Context, tenantID string, allocationID uuid.UUID, limit int) ([]*model.ReconciliationAnomaly, error) {
	var anomalies []*model.ReconciliationAnomaly

	query := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if allocationID != uuid.Nil {
		query = query.Where("allocation_id = ?", allocationID)
	}
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}

	err := query.Order("detected_at DESC").Limit(limit).Find(&anomalies).Error
	return anomalies, err
}
