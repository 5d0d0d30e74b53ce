package engine

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/zlzcms/fx-agent-sub000/internal/agent"
)

// TaskRecord 是归档中的单任务快照。
type TaskRecord struct {
	TaskID     string           `bson:"task_id" json:"task_id"`
	Name       string           `bson:"name" json:"name"`
	StepIndex  int              `bson:"step_index" json:"step_index"`
	Status     string           `bson:"status" json:"status"`
	ErrMessage string           `bson:"error_message,omitempty" json:"error_message,omitempty"`
	StartedAt  time.Time        `bson:"started_at" json:"started_at"`
	FinishedAt time.Time        `bson:"finished_at" json:"finished_at"`
	Log        []agent.LogEntry `bson:"log,omitempty" json:"log,omitempty"`
}

// ExecutionRecord 是工作流终态时整体写入的执行日志。
type ExecutionRecord struct {
	WorkflowID string       `bson:"workflow_id" json:"workflow_id"`
	Name       string       `bson:"name" json:"name"`
	UserQuery  string       `bson:"user_query" json:"user_query"`
	Mode       string       `bson:"mode" json:"mode"`
	Status     string       `bson:"status" json:"status"`
	StartedAt  time.Time    `bson:"started_at" json:"started_at"`
	FinishedAt time.Time    `bson:"finished_at" json:"finished_at"`
	Metrics    Metrics      `bson:"metrics" json:"metrics"`
	Tasks      []TaskRecord `bson:"tasks" json:"tasks"`
}

// Archiver 在工作流到达终态时持久化执行日志。
type Archiver interface {
	SaveExecutionLog(ctx context.Context, rec *ExecutionRecord) error
}

// MultiArchive 把同一条执行日志写到多个归档目的地，
// 任一目的地失败不影响其余目的地。
type MultiArchive []Archiver

// SaveExecutionLog 依次写入所有目的地，返回第一个错误。
func (m MultiArchive) SaveExecutionLog(ctx context.Context, rec *ExecutionRecord) error {
	var first error
	for _, a := range m {
		if err := a.SaveExecutionLog(ctx, rec); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// MongoArchive 把执行日志写入 MongoDB 集合。
type MongoArchive struct {
	col *mongo.Collection
}

// NewMongoArchive 基于数据库句柄创建归档器。
func NewMongoArchive(db *mongo.Database) *MongoArchive {
	return &MongoArchive{col: db.Collection("workflow_execution_logs")}
}

// SaveExecutionLog 整体插入一条执行日志。
func (a *MongoArchive) SaveExecutionLog(ctx context.Context, rec *ExecutionRecord) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := a.col.InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("写入执行日志失败: %w", err)
	}
	return nil
}
