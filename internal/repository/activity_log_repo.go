package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/models"
)

// ActivityLogFilter narrows audit trail queries. CorrelationID selects every entry written
// while handling one request, build report or scheduled task.
type ActivityLogFilter struct {
	Page          int
	PageSize      int
	ActorID       *uint
	Action        string
	EntityType    string
	EntityID      *uint
	CorrelationID string
	Since         *time.Time
}

func (f ActivityLogFilter) scope(db *gorm.DB) *gorm.DB {
	conditions := map[string]interface{}{}
	if f.ActorID != nil {
		conditions["actor_id"] = *f.ActorID
	}
	if f.Action != "" {
		conditions["action"] = f.Action
	}
	if f.EntityType != "" {
		conditions["entity_type"] = f.EntityType
	}
	if f.EntityID != nil {
		conditions["entity_id"] = *f.EntityID
	}
	if f.CorrelationID != "" {
		conditions["correlation_id"] = f.CorrelationID
	}
	if len(conditions) > 0 {
		db = db.Where(conditions)
	}
	if f.Since != nil {
		db = db.Where("created_at >= ?", *f.Since)
	}
	return db
}

// ActivityLogRepository persists the audit trail of grading actions.
type ActivityLogRepository interface {
	Create(ctx context.Context, entry *models.ActivityLog) error
	List(ctx context.Context, filter ActivityLogFilter) ([]models.ActivityLog, int64, error)
}

type activityLogRepository struct {
	db *gorm.DB
}

// NewActivityLogRepository constructs the activity log repository.
func NewActivityLogRepository(db *gorm.DB) ActivityLogRepository {
	return &activityLogRepository{db: db}
}

func (r *activityLogRepository) Create(ctx context.Context, entry *models.ActivityLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// List returns one page of matching entries, newest first, and the total match count.
func (r *activityLogRepository) List(ctx context.Context, filter ActivityLogFilter) ([]models.ActivityLog, int64, error) {
	base := r.db.WithContext(ctx).Model(&models.ActivityLog{}).Scopes(filter.scope)

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []models.ActivityLog{}, 0, nil
	}

	page := base.Session(&gorm.Session{}).Order("created_at DESC, id DESC")
	if filter.PageSize > 0 {
		offset := 0
		if filter.Page > 1 {
			offset = (filter.Page - 1) * filter.PageSize
		}
		page = page.Offset(offset).Limit(filter.PageSize)
	}

	var entries []models.ActivityLog
	if err := page.Find(&entries).Error; err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}
