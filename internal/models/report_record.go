package models

import (
	"time"

	"gorm.io/datatypes"
)

// ReportStatus 标识报告记录的生成结果。
type ReportStatus string

const (
	ReportStatusSuccess ReportStatus = "success"
	ReportStatusFailed  ReportStatus = "failed"
)

// ReportRecord 是定时任务产出的报告落库记录。
// Properties 保存属性分析阶段抽取的结构化结论，Files 保存产物文件清单。
type ReportRecord struct {
	ID             int64          `gorm:"column:id;primaryKey;autoIncrement"`
	AssistantID    int64          `gorm:"column:assistant_id;index"`
	SubscriptionID int64          `gorm:"column:subscription_id;index"`
	TaskID         string         `gorm:"column:task_id;size:64;index"`
	Title          string         `gorm:"column:title;size:255"`
	UserQuery      string         `gorm:"column:user_query;type:text"`
	Status         ReportStatus   `gorm:"column:status;type:varchar(20)"`
	Summary        string         `gorm:"column:summary;type:text"`
	Content        string         `gorm:"column:content;type:longtext"`
	Properties     datatypes.JSON `gorm:"column:properties"`
	Files          datatypes.JSON `gorm:"column:files"`
	ErrorMessage   string         `gorm:"column:error_message;type:text"`
	CreatedAt      time.Time      `gorm:"column:created_at"`
	CompletedAt    *time.Time     `gorm:"column:completed_at"`
}

func (ReportRecord) TableName() string {
	return "t_agent_report"
}
