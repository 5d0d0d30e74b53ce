// Package engine 提供任务与工作流引擎：依赖校验、参数解析、
// 三种执行模式的驱动循环，以及终态指标与执行日志归档。
package engine

import (
	"time"

	"github.com/zlzcms/fx-agent-sub000/internal/agent"
	"github.com/zlzcms/fx-agent-sub000/internal/llm"
)

// TaskStatus 是任务状态机的取值。
type TaskStatus string

const (
	TaskPending      TaskStatus = "PENDING"
	TaskWaitingDeps  TaskStatus = "WAITING_DEPENDENCIES"
	TaskRunning      TaskStatus = "RUNNING"
	TaskCompleted    TaskStatus = "COMPLETED"
	TaskFailed       TaskStatus = "FAILED"
	TaskCanceled     TaskStatus = "CANCELED"
	TaskDisconnected TaskStatus = "DISCONNECTED"
)

// Terminal 判断任务是否已到终态。
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCanceled, TaskDisconnected:
		return true
	}
	return false
}

// WorkflowStatus 是工作流状态机的取值。
type WorkflowStatus string

const (
	WorkflowDraft     WorkflowStatus = "DRAFT"
	WorkflowRunning   WorkflowStatus = "RUNNING"
	WorkflowPaused    WorkflowStatus = "PAUSED"
	WorkflowCompleted WorkflowStatus = "COMPLETED"
	WorkflowFailed    WorkflowStatus = "FAILED"
	WorkflowCancelled WorkflowStatus = "CANCELLED"
)

// Mode 是工作流执行模式。
type Mode string

const (
	ModeSequential Mode = "SEQUENTIAL"
	ModeParallel   Mode = "PARALLEL"
	ModePipeline   Mode = "PIPELINE"
)

// Task 是工作流中的一个执行节点。名称在工作流内唯一，
// 依赖以名称声明。
type Task struct {
	ID            string
	Name          string
	StepIndex     int
	Agent         agent.Agent
	Deps          []string
	ParamsMapping map[string]string
	Params        map[string]interface{}

	Status     TaskStatus
	Result     interface{}
	ErrMessage string
	StartedAt  time.Time
	FinishedAt time.Time

	// dependents 是反向边：依赖本任务的下游任务名。
	dependents []string
}

// Metrics 是一次工作流执行的汇总指标。
type Metrics struct {
	TotalTasks      int     `json:"total_tasks" bson:"total_tasks"`
	Completed       int     `json:"completed" bson:"completed"`
	Failed          int     `json:"failed" bson:"failed"`
	Cancelled       int     `json:"cancelled" bson:"cancelled"`
	SuccessRate     float64 `json:"success_rate" bson:"success_rate"`
	AvgTaskSeconds  float64 `json:"avg_task_seconds" bson:"avg_task_seconds"`
	DurationSeconds float64 `json:"duration_seconds" bson:"duration_seconds"`
}

// Workflow 是一组带依赖关系的任务。状态流转与任务变更都经引擎锁。
type Workflow struct {
	ID        string
	Name      string
	UserQuery string
	History   []llm.Message
	Mode      Mode

	status     WorkflowStatus
	canceled   bool
	tasks      map[string]*Task
	order      []*Task
	StartedAt  time.Time
	FinishedAt time.Time
}

// Tasks 返回按创建顺序排列的任务列表。
func (w *Workflow) Tasks() []*Task {
	out := make([]*Task, len(w.order))
	copy(out, w.order)
	return out
}

// Task 按名称查找任务。
func (w *Workflow) Task(name string) (*Task, bool) {
	t, ok := w.tasks[name]
	return t, ok
}
