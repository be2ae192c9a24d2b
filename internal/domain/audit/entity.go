// internal/domain/audit/entity.go
package audit

import "time"

type Log struct {
	ID         int64                  `json:"id"`
	ActorID    *int64                 `json:"actor_id,omitempty"`
	Action     string                 `json:"action"`
	EntityType string                 `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	Details    map[string]interface{} `json:"details,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

type Filters struct {
	Action     string `form:"action"`
	EntityType string `form:"entity_type"`
	ActorID    *int64 `form:"actor_id"`
	Page       int    `form:"page,default=1" binding:"min=1"`
	Limit      int    `form:"limit,default=50" binding:"min=1,max=200"`
}
