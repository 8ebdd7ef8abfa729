package models

import "time"

type DatasetType string

const (
	DatasetTypeInstruction DatasetType = "instruction"
	DatasetTypeChat        DatasetType = "chat"
	DatasetTypeCompletion  DatasetType = "completion"
)

type Dataset struct {
	ID          uint        `json:"id" gorm:"primaryKey"`
	Name        string      `json:"name" gorm:"not null;index"`
	Description *string     `json:"description"`
	Type        DatasetType `json:"type" gorm:"not null"`
	Data        JSONArray   `json:"data" gorm:"type:jsonb;not null"`
	Size        int         `json:"size" gorm:"not null"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

func (Dataset) TableName() string {
	return "datasets"
}
