package dto

import (
	"time"

	"gorm.io/datatypes"

	"github.com/noah-isme/gema-grader/internal/models"
)

// ActivityListRequest filters audit trail queries.
type ActivityListRequest struct {
	Page       int
	PageSize   int
	ActorID    uint
	Action     string
	EntityType string
	EntityID   uint

	// CorrelationID selects the entries of one request, build or scheduled task.
	CorrelationID string
	Since         *time.Time
}

// ActivityResponse serializes an audit entry.
type ActivityResponse struct {
	ID         uint              `json:"id"`
	ActorID    uint              `json:"actor_id"`
	ActorRole  string            `json:"actor_role"`
	Action     string            `json:"action"`
	EntityType string            `json:"entity_type"`
	EntityID   *uint             `json:"entity_id"`
	Metadata   datatypes.JSONMap `json:"metadata"`
	CreatedAt  time.Time         `json:"created_at"`
}

// ActivityListResponse wraps a paginated audit trail.
type ActivityListResponse struct {
	Items      []ActivityResponse `json:"items"`
	Pagination PaginationMeta     `json:"pagination"`
}

// NewActivityResponse maps an activity log model.
func NewActivityResponse(model models.ActivityLog) ActivityResponse {
	return ActivityResponse{
		ID:         model.ID,
		ActorID:    model.ActorID,
		ActorRole:  model.ActorRole,
		Action:     model.Action,
		EntityType: model.EntityType,
		EntityID:   model.EntityID,
		Metadata:   model.Metadata,
		CreatedAt:  model.CreatedAt,
	}
}
