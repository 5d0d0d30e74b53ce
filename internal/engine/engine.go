package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/zlzcms/fx-agent-sub000/internal/agent"
	"github.com/zlzcms/fx-agent-sub000/internal/errs"
	"github.com/zlzcms/fx-agent-sub000/internal/llm"
	"github.com/zlzcms/fx-agent-sub000/pkg/logger"
)

// Narrator 在任务完成后把结果转述为一段流式进展播报。
// 由通用对话智能体实现。
type Narrator interface {
	Narrate(ctx context.Context, emit func(agent.Event) bool, taskName, result string) error
}

// Options 是引擎的装配参数。
type Options struct {
	// Narrator 为 nil 时跳过完成播报。
	Narrator Narrator
	// Archive 为 nil 时跳过执行日志归档。
	Archive Archiver
	// MaxParallel 是并行模式的任务并发上限，非正时取 5。
	MaxParallel int
	Log         *logger.Logger
}

// Engine 管理工作流的构建与执行。所有任务与工作流的状态变更
// 都在引擎锁下进行。
type Engine struct {
	mu          sync.Mutex
	workflows   map[string]*Workflow
	narrator    Narrator
	archive     Archiver
	maxParallel int
	log         *logger.Logger
}

// New 创建引擎。
func New(opts Options) *Engine {
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 5
	}
	return &Engine{
		workflows:   make(map[string]*Workflow),
		narrator:    opts.Narrator,
		archive:     opts.Archive,
		maxParallel: opts.MaxParallel,
		log:         opts.Log,
	}
}

// CreateWorkflow 创建一个 DRAFT 工作流并登记到引擎。
func (e *Engine) CreateWorkflow(name, userQuery string, history []llm.Message, mode Mode) *Workflow {
	e.mu.Lock()
	defer e.mu.Unlock()
	wf := &Workflow{
		ID:        uuid.NewString(),
		Name:      name,
		UserQuery: userQuery,
		History:   history,
		Mode:      mode,
		status:    WorkflowDraft,
		tasks:     make(map[string]*Task),
	}
	e.workflows[wf.ID] = wf
	return wf
}

// Workflow 按 ID 查找已登记的工作流。
func (e *Engine) Workflow(id string) (*Workflow, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	wf, ok := e.workflows[id]
	return wf, ok
}

// CreateTask 在工作流上登记一个任务。依赖必须已存在，名称在
// 工作流内唯一。存在未完成依赖时任务进入 WAITING_DEPENDENCIES。
func (e *Engine) CreateTask(wf *Workflow, name string, executor agent.Agent,
	deps []string, paramsMapping map[string]string, params map[string]interface{}) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if wf.status != WorkflowDraft {
		return "", fmt.Errorf("%w: 工作流 %s 已离开 DRAFT，不能再添加任务", errs.ErrValidation, wf.Name)
	}
	if name == "" {
		return "", fmt.Errorf("%w: 任务名不能为空", errs.ErrValidation)
	}
	if _, exists := wf.tasks[name]; exists {
		return "", fmt.Errorf("%w: 步骤名重复: %s", errs.ErrValidation, name)
	}
	for _, dep := range deps {
		if _, ok := wf.tasks[dep]; !ok {
			return "", fmt.Errorf("%w: 任务 %s 声明了未知依赖: %s", errs.ErrDependency, name, dep)
		}
	}

	t := &Task{
		ID:            uuid.NewString(),
		Name:          name,
		StepIndex:     len(wf.order) + 1,
		Agent:         executor,
		Deps:          append([]string(nil), deps...),
		ParamsMapping: paramsMapping,
		Params:        params,
		Status:        TaskPending,
	}
	unmet := false
	for _, dep := range deps {
		wf.tasks[dep].dependents = append(wf.tasks[dep].dependents, name)
		if wf.tasks[dep].Status != TaskCompleted {
			unmet = true
		}
	}
	if unmet {
		t.Status = TaskWaitingDeps
	}
	wf.tasks[name] = t
	wf.order = append(wf.order, t)
	return t.ID, nil
}

// RemoveTask 从 DRAFT 工作流中移除任务，其下游任务转为 DISCONNECTED。
func (e *Engine) RemoveTask(wf *Workflow, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if wf.status != WorkflowDraft {
		return fmt.Errorf("%w: 工作流 %s 已离开 DRAFT，不能移除任务", errs.ErrValidation, wf.Name)
	}
	t, ok := wf.tasks[name]
	if !ok {
		return fmt.Errorf("%w: 任务不存在: %s", errs.ErrValidation, name)
	}
	for _, dep := range t.dependents {
		if d, ok := wf.tasks[dep]; ok {
			d.Status = TaskDisconnected
		}
	}
	delete(wf.tasks, name)
	order := wf.order[:0]
	for _, item := range wf.order {
		if item.Name != name {
			order = append(order, item)
		}
	}
	wf.order = order
	return nil
}

// Validate 在工作流离开 DRAFT 前做结构校验：依赖指向存在的任务，
// 且依赖图无环（DFS 递归栈检测）。
func (e *Engine) Validate(wf *Workflow) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return validateGraph(wf)
}

func validateGraph(wf *Workflow) error {
	for _, t := range wf.order {
		if t.Status == TaskDisconnected {
			return fmt.Errorf("%w: 任务 %s 的依赖已被移除", errs.ErrDependency, t.Name)
		}
		for _, dep := range t.Deps {
			if _, ok := wf.tasks[dep]; !ok {
				return fmt.Errorf("%w: 任务 %s 依赖了不存在的任务: %s", errs.ErrDependency, t.Name, dep)
			}
		}
	}

	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	color := make(map[string]int, len(wf.tasks))
	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case inStack:
			return fmt.Errorf("%w: 检测到循环依赖: %s", errs.ErrDependency, name)
		case done:
			return nil
		}
		color[name] = inStack
		for _, dep := range wf.tasks[name].Deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[name] = done
		return nil
	}
	for name := range wf.tasks {
		if err := visit(name); err != nil {
			return err
		}
	}
	return nil
}

// Cancel 请求取消工作流。取消是协作式的：探针命中后由各任务
// 自行收敛，未开始的任务在收尾时转为 CANCELED。
func (e *Engine) Cancel(wf *Workflow) {
	e.mu.Lock()
	defer e.mu.Unlock()
	wf.canceled = true
	if wf.status == WorkflowRunning || wf.status == WorkflowPaused {
		wf.status = WorkflowCancelled
	}
}

// Pause 暂停工作流：不抢占在途任务，只阻止下一个任务启动。
func (e *Engine) Pause(wf *Workflow) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if wf.status == WorkflowRunning {
		wf.status = WorkflowPaused
	}
}

// Resume 恢复被暂停的工作流。
func (e *Engine) Resume(wf *Workflow) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if wf.status == WorkflowPaused {
		wf.status = WorkflowRunning
	}
}

// Status 返回工作流当前状态。
func (e *Engine) Status(wf *Workflow) WorkflowStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return wf.status
}

// Clone 复制工作流为新的 DRAFT：新任务 ID、状态归零、结果清空。
// 执行器实例按引用复用。
func (e *Engine) Clone(wf *Workflow) *Workflow {
	e.mu.Lock()
	defer e.mu.Unlock()

	clone := &Workflow{
		ID:        uuid.NewString(),
		Name:      wf.Name,
		UserQuery: wf.UserQuery,
		History:   wf.History,
		Mode:      wf.Mode,
		status:    WorkflowDraft,
		tasks:     make(map[string]*Task, len(wf.tasks)),
	}
	for _, t := range wf.order {
		nt := &Task{
			ID:            uuid.NewString(),
			Name:          t.Name,
			StepIndex:     t.StepIndex,
			Agent:         t.Agent,
			Deps:          append([]string(nil), t.Deps...),
			ParamsMapping: t.ParamsMapping,
			Params:        t.Params,
			Status:        TaskPending,
			dependents:    append([]string(nil), t.dependents...),
		}
		if len(nt.Deps) > 0 {
			nt.Status = TaskWaitingDeps
		}
		clone.tasks[nt.Name] = nt
		clone.order = append(clone.order, nt)
	}
	e.workflows[clone.ID] = clone
	return clone
}

func (e *Engine) cancelRequested(wf *Workflow) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return wf.canceled
}

func (e *Engine) setTaskStatus(t *Task, s TaskStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t.Status = s
}

// resolveParams 按 params_mapping 解析上游结果并覆盖基础参数。
// 映射左侧是上游步骤名，右侧是 result 内的点路径；缺失键取 nil。
func (e *Engine) resolveParams(wf *Workflow, t *Task, extra map[string]interface{}) map[string]interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()

	params := make(map[string]interface{}, len(t.Params)+len(t.ParamsMapping)+len(extra))
	for k, v := range t.Params {
		params[k] = v
	}
	for k, v := range extra {
		params[k] = v
	}
	for target, sourcePath := range t.ParamsMapping {
		params[target] = lookupPath(wf, sourcePath)
	}
	return params
}

// lookupPath 解析 "步骤名.result 内路径" 形式的来源路径。
func lookupPath(wf *Workflow, sourcePath string) interface{} {
	stepName := sourcePath
	rest := ""
	if idx := strings.Index(sourcePath, "."); idx >= 0 {
		stepName = sourcePath[:idx]
		rest = sourcePath[idx+1:]
	}
	upstream, ok := wf.tasks[stepName]
	if !ok {
		return nil
	}
	value := upstream.Result
	if rest == "" || rest == "result" {
		return value
	}
	segments := strings.Split(rest, ".")
	if segments[0] == "result" {
		segments = segments[1:]
	}
	for _, seg := range segments {
		m, ok := value.(map[string]interface{})
		if !ok {
			return nil
		}
		value = m[seg]
	}
	return value
}

// notifyDependents 在任务完成后检查其下游，依赖全部满足的任务
// 从 WAITING_DEPENDENCIES 转为 PENDING。
func (e *Engine) notifyDependents(wf *Workflow, t *Task) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, name := range t.dependents {
		d, ok := wf.tasks[name]
		if !ok || d.Status != TaskWaitingDeps {
			continue
		}
		satisfied := true
		for _, dep := range d.Deps {
			if wf.tasks[dep].Status != TaskCompleted {
				satisfied = false
				break
			}
		}
		if satisfied {
			d.Status = TaskPending
		}
	}
}

// serializeResult 把任务结果序列化为播报输入。
func serializeResult(result interface{}) string {
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return v
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(data)
}

// drive 驱动单个任务：发出 title/start 结构事件，迭代执行器的
// 事件流并规范化，终止后落状态、通知下游。
func (e *Engine) drive(ctx context.Context, wf *Workflow, t *Task, probe agent.Probe,
	extra map[string]interface{}, emit func(agent.Event) bool) {
	e.mu.Lock()
	t.Status = TaskRunning
	t.StartedAt = time.Now()
	e.mu.Unlock()

	emit(agent.Event{
		Type: agent.TypeStep, TypeName: agent.TypeTitle, Status: agent.StatusRunning,
		Name: t.Name, Message: fmt.Sprintf("%d.%s", t.StepIndex, t.Name),
	})
	emit(agent.Event{
		Type: agent.TypeStep, TypeName: agent.TypeStart, Status: agent.StatusRunning,
		Name: t.Name, Message: "开始执行",
	})

	t.Agent.SetInterruptionChecker(func() bool {
		if probe != nil && probe() {
			return true
		}
		return e.cancelRequested(wf)
	})

	in := agent.Input{
		UserQuery: wf.UserQuery,
		History:   wf.History,
		Params:    e.resolveParams(wf, t, extra),
	}
	for ev := range t.Agent.Execute(ctx, in) {
		switch ev.Type {
		case agent.TypeResult:
			ev.Type = agent.TypeStep
			ev.TypeName = agent.TypeResult
		case agent.TypeExecute:
			ev.Type = agent.TypeStep
			ev.TypeName = agent.TypeExecute
		case agent.TypeCompleted:
			// 先持久化结果与播报，保证终止事件仍是该任务的最后一条
			e.mu.Lock()
			t.Result = ev.Result
			if t.Result == nil {
				t.Result = t.Agent.Result()
			}
			e.mu.Unlock()
			if e.narrator != nil {
				if err := e.narrator.Narrate(ctx, emit, t.Name, serializeResult(t.Result)); err != nil && e.log != nil {
					e.log.WithField("task", t.Name).Warnf("完成播报失败: %v", err)
				}
			}
			emit(agent.Event{
				Type: agent.TypeStep, TypeName: "success", Status: agent.StatusCompleted,
				Name: t.Name, Message: fmt.Sprintf("任务【%s】执行完成", t.Name),
			})
		}
		if !emit(ev) {
			break
		}
	}

	e.mu.Lock()
	t.FinishedAt = time.Now()
	switch t.Agent.State() {
	case agent.StateCompleted:
		t.Status = TaskCompleted
	case agent.StateCanceled:
		t.Status = TaskCanceled
		t.ErrMessage = errs.ErrCancelled.Error()
	default:
		t.Status = TaskFailed
		if err := t.Agent.Err(); err != nil {
			t.ErrMessage = err.Error()
		}
	}
	completed := t.Status == TaskCompleted
	e.mu.Unlock()

	if completed {
		e.notifyDependents(wf, t)
	}
	if e.log != nil {
		e.log.WithField("workflow", wf.ID).WithField("task", t.Name).
			Infof("任务结束，状态 %s，耗时 %.2f 秒", t.Status, t.FinishedAt.Sub(t.StartedAt).Seconds())
	}
}

// waitIfPaused 在工作流暂停期间阻塞，直至恢复、取消或上下文结束。
func (e *Engine) waitIfPaused(ctx context.Context, wf *Workflow) {
	for {
		e.mu.Lock()
		paused := wf.status == WorkflowPaused
		e.mu.Unlock()
		if !paused {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Execute 校验并执行工作流，返回合并后的事件流。probe 会被注入
// 每个任务的执行器。通道在工作流到达终态后关闭。
func (e *Engine) Execute(ctx context.Context, wf *Workflow, probe agent.Probe) (<-chan agent.Event, error) {
	e.mu.Lock()
	if wf.status != WorkflowDraft {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: 工作流 %s 状态为 %s，不能启动", errs.ErrValidation, wf.Name, wf.status)
	}
	if err := validateGraph(wf); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	wf.status = WorkflowRunning
	wf.StartedAt = time.Now()
	e.mu.Unlock()

	out := make(chan agent.Event, 16)
	emit := func(ev agent.Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(out)
		switch wf.Mode {
		case ModeParallel:
			e.runParallel(ctx, wf, probe, emit)
		default:
			e.runSequential(ctx, wf, probe, emit)
		}
		e.finalize(ctx, wf)
	}()
	return out, nil
}

// runSequential 按声明顺序逐个驱动任务；PIPELINE 模式额外把上一个
// 任务的结果注入 previous_result。任一任务未完成即停止。
func (e *Engine) runSequential(ctx context.Context, wf *Workflow, probe agent.Probe, emit func(agent.Event) bool) {
	var prev *Task
	for _, t := range wf.order {
		e.waitIfPaused(ctx, wf)
		if e.cancelRequested(wf) || ctx.Err() != nil {
			return
		}
		var extra map[string]interface{}
		if wf.Mode == ModePipeline && prev != nil {
			extra = map[string]interface{}{"previous_result": prev.Result}
		}
		e.drive(ctx, wf, t, probe, extra, emit)
		if t.Status != TaskCompleted {
			if t.Status == TaskFailed {
				emit(agent.WarningEvent(wf.Name, fmt.Sprintf("工作流在步骤「%s」终止: %s", t.Name, t.ErrMessage)))
			}
			return
		}
		prev = t
	}
}

// runParallel 分轮调度：每轮并发执行所有就绪任务，并发度受
// maxParallel 限制。单个任务失败不取消同批任务。
func (e *Engine) runParallel(ctx context.Context, wf *Workflow, probe agent.Probe, emit func(agent.Event) bool) {
	for {
		e.waitIfPaused(ctx, wf)
		if e.cancelRequested(wf) || ctx.Err() != nil {
			return
		}
		ready := e.readyTasks(wf)
		if len(ready) == 0 {
			return
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.maxParallel)
		for _, t := range ready {
			t := t
			g.Go(func() error {
				e.drive(gctx, wf, t, probe, nil, emit)
				return nil
			})
		}
		_ = g.Wait()
	}
}

// readyTasks 返回所有依赖已全部完成的 PENDING 任务。
func (e *Engine) readyTasks(wf *Workflow) []*Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	var ready []*Task
	for _, t := range wf.order {
		if t.Status != TaskPending {
			continue
		}
		ok := true
		for _, dep := range t.Deps {
			if wf.tasks[dep].Status != TaskCompleted {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, t)
		}
	}
	return ready
}

// finalize 收敛工作流终态、计算指标并归档执行日志。
func (e *Engine) finalize(ctx context.Context, wf *Workflow) {
	e.mu.Lock()
	wf.FinishedAt = time.Now()
	status := WorkflowCompleted
	for _, t := range wf.order {
		switch t.Status {
		case TaskCanceled:
			status = WorkflowCancelled
		case TaskFailed:
			if status != WorkflowCancelled {
				status = WorkflowFailed
			}
		case TaskPending, TaskWaitingDeps:
			if wf.canceled {
				t.Status = TaskCanceled
				status = WorkflowCancelled
			} else if status == WorkflowCompleted {
				status = WorkflowFailed
			}
		}
	}
	if wf.canceled {
		status = WorkflowCancelled
	}
	wf.status = status
	e.mu.Unlock()

	metrics := e.ComputeMetrics(wf)
	if e.log != nil {
		e.log.WithField("workflow", wf.ID).
			Infof("工作流结束，状态 %s，成功率 %.0f%%，总耗时 %.2f 秒",
				status, metrics.SuccessRate*100, metrics.DurationSeconds)
	}
	if e.archive != nil {
		if err := e.archive.SaveExecutionLog(ctx, e.snapshot(wf, metrics)); err != nil && e.log != nil {
			e.log.WithField("workflow", wf.ID).Warnf("执行日志归档失败: %v", err)
		}
	}
}

// ComputeMetrics 统计工作流执行指标。
func (e *Engine) ComputeMetrics(wf *Workflow) Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()

	m := Metrics{TotalTasks: len(wf.order)}
	var taskSeconds float64
	ran := 0
	for _, t := range wf.order {
		switch t.Status {
		case TaskCompleted:
			m.Completed++
		case TaskFailed:
			m.Failed++
		case TaskCanceled:
			m.Cancelled++
		}
		if !t.StartedAt.IsZero() && !t.FinishedAt.IsZero() {
			taskSeconds += t.FinishedAt.Sub(t.StartedAt).Seconds()
			ran++
		}
	}
	if m.TotalTasks > 0 {
		m.SuccessRate = float64(m.Completed) / float64(m.TotalTasks)
	}
	if ran > 0 {
		m.AvgTaskSeconds = taskSeconds / float64(ran)
	}
	if !wf.StartedAt.IsZero() && !wf.FinishedAt.IsZero() {
		m.DurationSeconds = wf.FinishedAt.Sub(wf.StartedAt).Seconds()
	}
	return m
}

// snapshot 生成归档用的执行记录。
func (e *Engine) snapshot(wf *Workflow, metrics Metrics) *ExecutionRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec := &ExecutionRecord{
		WorkflowID: wf.ID,
		Name:       wf.Name,
		UserQuery:  wf.UserQuery,
		Mode:       string(wf.Mode),
		Status:     string(wf.status),
		StartedAt:  wf.StartedAt,
		FinishedAt: wf.FinishedAt,
		Metrics:    metrics,
	}
	for _, t := range wf.order {
		tr := TaskRecord{
			TaskID:     t.ID,
			Name:       t.Name,
			StepIndex:  t.StepIndex,
			Status:     string(t.Status),
			ErrMessage: t.ErrMessage,
			StartedAt:  t.StartedAt,
			FinishedAt: t.FinishedAt,
		}
		if t.Agent != nil {
			tr.Log = t.Agent.Log()
		}
		rec.Tasks = append(rec.Tasks, tr)
	}
	return rec
}
