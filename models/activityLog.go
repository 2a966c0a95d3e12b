package models

import "time"

// ActivityLog is the persisted form of an audit entry.
type ActivityLog struct {
	ID            int       `gorm:"primary_key" json:"id"`
	InstitutionId int       `gorm:"index" json:"institution_id"`
	SeasonId      int       `gorm:"index" json:"season_id"`
	Action        string    `gorm:"size:50;not null" json:"action"`
	Entity        string    `gorm:"size:50;index;not null" json:"entity"`
	EntityId      int       `gorm:"index" json:"entity_id"`
	Description   string    `gorm:"type:text;not null" json:"description"`
	UserId        int       `gorm:"index" json:"user_id"`
	UserName      string    `gorm:"size:100" json:"user_name"`
	CorrelationId string    `gorm:"size:64" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}
