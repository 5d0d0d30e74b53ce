// Package agent 提供智能体运行时：统一的事件词汇、状态机、
// 带中断检查的 LLM 调用封装，以及所有具体智能体共享的 Base 基座。
package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/zlzcms/fx-agent-sub000/internal/llm"
)

// State 是智能体状态机：IDLE -> RUNNING -> (COMPLETED | FAILED | CANCELED)。
// 进入终止态后不再变化。
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCanceled  State = "canceled"
)

// Terminal 判断状态是否为终止态。
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCanceled
}

// Probe 是由调用方提供的中断探针，返回 true 表示用户请求取消。
type Probe func() bool

// LogEntry 是智能体执行过程中的一条追加日志。
type LogEntry struct {
	Title   string      `json:"title"`
	Content interface{} `json:"content"`
}

// Input 是一次执行的入参。Params 携带任务层解析后的参数。
type Input struct {
	UserQuery string
	History   []llm.Message
	Params    map[string]interface{}
}

// Agent 是所有智能体的统一入口。Execute 返回的通道以且仅以
// 一个终止事件（completed/error/interrupted）收尾，随后关闭。
type Agent interface {
	Name() string
	Execute(ctx context.Context, in Input) <-chan Event
	Result() interface{}
	Err() error
	Log() []LogEntry
	State() State
	SetInterruptionChecker(Probe)
}

// Factory 按需创建一个新的智能体实例。
type Factory func() Agent

// Registry 维护智能体种类到工厂的映射，供规划器列举可用能力、
// 供引擎按种类实例化执行器。
type Registry struct {
	mu           sync.RWMutex
	factories    map[string]Factory
	descriptions map[string]string
}

// NewRegistry 创建一个空注册表。
func NewRegistry() *Registry {
	return &Registry{
		factories:    make(map[string]Factory),
		descriptions: make(map[string]string),
	}
}

// Register 登记一种智能体。重复登记同名种类会覆盖旧工厂。
func (r *Registry) Register(kind, description string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
	r.descriptions[kind] = description
}

// Create 按种类实例化一个新的智能体。
func (r *Registry) Create(kind string) (Agent, error) {
	r.mu.RLock()
	f, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("未注册的智能体种类: %s", kind)
	}
	return f(), nil
}

// Kinds 返回已注册的种类名，按字典序排序。
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Describe 返回种类到描述的映射，用于拼装规划器的系统提示词。
func (r *Registry) Describe() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.descriptions))
	for k, v := range r.descriptions {
		out[k] = v
	}
	return out
}
