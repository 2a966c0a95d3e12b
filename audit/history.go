package audit

import (
	"context"

	"github.com/mmdatafocus/tuition_backend/models"
	"gorm.io/gorm"
)

// HistorySink stores entries in the activity_logs table.
type HistorySink struct {
	db *gorm.DB
}

func NewHistorySink(db *gorm.DB) *HistorySink {
	return &HistorySink{db: db}
}

func (s *HistorySink) Record(ctx context.Context, e Entry) error {
	row := models.ActivityLog{
		InstitutionId: e.InstitutionId,
		SeasonId:      e.SeasonId,
		Action:        e.Action,
		Entity:        e.Entity,
		EntityId:      e.EntityId,
		Description:   e.Description,
		UserId:        e.UserId,
		UserName:      e.UserName,
		CorrelationId: e.CorrelationId,
		CreatedAt:     e.At,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}
