// Package orchestrator 是编排入口：意图识别决定走纯对话、固定报告
// 模板还是规划器动态工作流，并把取消探针逐层下发。
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/zlzcms/fx-agent-sub000/internal/agent"
	"github.com/zlzcms/fx-agent-sub000/internal/agents"
	"github.com/zlzcms/fx-agent-sub000/internal/artifact"
	"github.com/zlzcms/fx-agent-sub000/internal/engine"
	"github.com/zlzcms/fx-agent-sub000/internal/errs"
	"github.com/zlzcms/fx-agent-sub000/internal/llm"
	"github.com/zlzcms/fx-agent-sub000/internal/markdown"
	"github.com/zlzcms/fx-agent-sub000/internal/query"
	"github.com/zlzcms/fx-agent-sub000/internal/reduce"
	"github.com/zlzcms/fx-agent-sub000/pkg/logger"
)

// Request 是一次编排调用的入参。
type Request struct {
	UserQuery    string
	History      []llm.Message
	Action       string // auto / agent / chat
	CRMUserID    int64
	ResultFormat string // "" / word / html
	QueryTypes   []string
	TaskID       string
	Probe        agent.Probe
}

// Deps 是编排器的装配依赖。
type Deps struct {
	ChatLLM    llm.Client
	AnalyzeLLM llm.Client
	Query      *query.Service
	Renderer   *markdown.Renderer
	Writer     *artifact.Writer
	Archive    engine.Archiver

	// DataSourcesDoc 是意图提示词中的数据源说明。
	DataSourcesDoc string
	// Services 是对话提示词中列出的专项服务名。
	Services         []string
	MaxDataCount     int
	ReduceMaxRetries int
	MaxParallelTasks int
	Log              *logger.Logger
}

// Orchestrator 把请求编排为工作流并输出统一事件流。
type Orchestrator struct {
	deps     Deps
	engine   *engine.Engine
	registry *agent.Registry
}

// chatNarrator 每次播报用新的对话智能体，避免并行任务共享状态。
type chatNarrator struct {
	llm llm.Client
	log *logger.Logger
}

func (n chatNarrator) Narrate(ctx context.Context, emit func(agent.Event) bool, taskName, result string) error {
	return agents.NewChat(n.llm, nil, n.log).Narrate(ctx, emit, taskName, result)
}

// New 创建编排器并登记全部智能体种类。
func New(deps Deps) *Orchestrator {
	if deps.AnalyzeLLM == nil {
		deps.AnalyzeLLM = deps.ChatLLM
	}
	o := &Orchestrator{
		deps: deps,
		engine: engine.New(engine.Options{
			Narrator:    chatNarrator{llm: deps.ChatLLM, log: deps.Log},
			Archive:     deps.Archive,
			MaxParallel: deps.MaxParallelTasks,
			Log:         deps.Log,
		}),
		registry: agent.NewRegistry(),
	}

	reduceOpts := reduce.Options{
		MaxRetries:  deps.ReduceMaxRetries,
		MaxParallel: deps.MaxParallelTasks,
		Log:         deps.Log,
	}
	o.registry.Register("get_users", "按数据源查询用户相关数据并转为 Markdown 证据",
		func() agent.Agent {
			return agents.NewDataFetch(deps.Query, deps.Renderer, deps.Writer, deps.MaxDataCount, deps.Log)
		})
	o.registry.Register("data_splitting", "把查询结果按 token 预算拆分为分析块",
		func() agent.Agent { return agents.NewSplitter(deps.Renderer, deps.Log) })
	o.registry.Register("data_analyze", "对数据块做 LLM 分析，支持多块 map-reduce",
		func() agent.Agent { return agents.NewAnalyze(deps.AnalyzeLLM, reduceOpts, deps.Writer, deps.Log) })
	o.registry.Register("generate_report", "把分析结果组装为最终报告并导出产物",
		func() agent.Agent { return agents.NewReport(deps.Writer, deps.Log) })
	o.registry.Register("general_chat", "通用对话与兜底回答",
		func() agent.Agent { return agents.NewChat(deps.ChatLLM, deps.Services, deps.Log) })
	return o
}

// Engine 暴露底层引擎，供调度器等调用方直接控制工作流。
func (o *Orchestrator) Engine() *engine.Engine { return o.engine }

// Registry 暴露智能体注册表。
func (o *Orchestrator) Registry() *agent.Registry { return o.registry }

// AutoOrchestrate 执行一次编排。返回的事件流以且仅以一个编排级
// 终止事件收尾。
func (o *Orchestrator) AutoOrchestrate(ctx context.Context, req Request) <-chan agent.Event {
	out := make(chan agent.Event, 16)
	go func() {
		defer close(out)
		emit := func(ev agent.Event) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		requestID := uuid.NewString()
		if req.TaskID == "" {
			req.TaskID = requestID
		}
		if o.deps.Log != nil {
			o.deps.Log.WithField("request_id", requestID).WithField("action", req.Action).
				Infof("开始编排: %s", req.UserQuery)
		}

		err := o.run(ctx, req, emit)
		send := func(ev agent.Event) {
			select {
			case out <- ev:
			case <-ctx.Done():
			}
		}
		switch {
		case err == nil:
			send(agent.CompletedEvent("orchestrator", "编排执行完成", nil))
		case errors.Is(err, errs.ErrCancelled) || errors.Is(err, context.Canceled):
			send(agent.InterruptedEvent("orchestrator", errs.ErrCancelled.Error()))
		case errors.Is(err, errs.ErrAuthScope) || errors.Is(err, errs.ErrValidation):
			send(agent.ErrorEvent("orchestrator", err.Error()))
		default:
			if o.deps.Log != nil {
				o.deps.Log.WithField("request_id", requestID).Errorf("编排失败: %v", err)
			}
			send(agent.ErrorEvent("orchestrator",
				fmt.Sprintf("任务执行失败，请稍后重试（请求号 %s）", requestID)))
		}
	}()
	return out
}

// RunReport 跳过意图识别，直接按报告模板执行。定时任务在已知
// 数据源的情况下使用，事件流契约与 AutoOrchestrate 相同。
func (o *Orchestrator) RunReport(ctx context.Context, req Request, dataSources map[string]interface{}) <-chan agent.Event {
	out := make(chan agent.Event, 16)
	go func() {
		defer close(out)
		emit := func(ev agent.Event) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if req.TaskID == "" {
			req.TaskID = uuid.NewString()
		}
		intent := agents.IntentData{SelectedService: "report", DoNext: true, DataSources: dataSources}
		err := o.runTemplate(ctx, req, TemplateAnalysisReport, intent, emit)
		switch {
		case err == nil:
			emit(agent.CompletedEvent("orchestrator", "报告生成完成", nil))
		case errors.Is(err, errs.ErrCancelled) || errors.Is(err, context.Canceled):
			emit(agent.InterruptedEvent("orchestrator", errs.ErrCancelled.Error()))
		default:
			emit(agent.ErrorEvent("orchestrator", err.Error()))
		}
	}()
	return out
}

// run 完成决策与执行，错误交由调用方统一转译为终止事件。
func (o *Orchestrator) run(ctx context.Context, req Request, emit func(agent.Event) bool) error {
	if req.Action == "chat" {
		return o.runChat(ctx, req, emit)
	}

	intent, err := o.classify(ctx, req, emit)
	if err != nil {
		if errors.Is(err, errs.ErrCancelled) {
			return err
		}
		// 意图识别不可用时退回模板匹配
		if req.Action == "auto" {
			if template, ok := detectTemplate(req.UserQuery); ok {
				fallback := agents.IntentData{
					SelectedService: "report",
					DoNext:          true,
					DataSources:     map[string]interface{}{"get_user": map[string]interface{}{}},
				}
				return o.runTemplate(ctx, req, template, fallback, emit)
			}
		}
		return o.runChat(ctx, req, emit)
	}

	switch {
	case intent.SelectedService == "chat":
		return o.runChat(ctx, req, emit)
	case !intent.DoNext:
		// 建议回复已由意图智能体流式给出
		return nil
	case intent.SelectedService == "report":
		return o.runTemplate(ctx, req, TemplateAnalysisReport, intent, emit)
	case intent.SelectedService == "agent":
		return o.runPlanned(ctx, req, intent, emit)
	default:
		return o.runChat(ctx, req, emit)
	}
}

// forwardAgent 驱动单个智能体，转发其非终止事件，按终态折算错误。
func (o *Orchestrator) forwardAgent(ctx context.Context, ag agent.Agent, req Request,
	params map[string]interface{}, emit func(agent.Event) bool) error {
	if req.Probe != nil {
		ag.SetInterruptionChecker(req.Probe)
	}
	in := agent.Input{UserQuery: req.UserQuery, History: req.History, Params: params}
	for ev := range ag.Execute(ctx, in) {
		if ev.IsTerminal() {
			continue
		}
		if !emit(ev) {
			break
		}
	}
	switch ag.State() {
	case agent.StateCompleted:
		return nil
	case agent.StateCanceled:
		return errs.ErrCancelled
	default:
		if err := ag.Err(); err != nil {
			return err
		}
		return fmt.Errorf("%w: 智能体 %s 未正常结束", errs.ErrExecution, ag.Name())
	}
}

func (o *Orchestrator) runChat(ctx context.Context, req Request, emit func(agent.Event) bool) error {
	chat := agents.NewChat(o.deps.ChatLLM, o.deps.Services, o.deps.Log)
	return o.forwardAgent(ctx, chat, req, map[string]interface{}{}, emit)
}

// classify 运行意图识别并返回结构化意图。
func (o *Orchestrator) classify(ctx context.Context, req Request, emit func(agent.Event) bool) (agents.IntentData, error) {
	ia := agents.NewIntent(o.deps.ChatLLM, o.deps.DataSourcesDoc, o.deps.Log)
	err := o.forwardAgent(ctx, ia, req, map[string]interface{}{"action": req.Action}, emit)
	if err != nil {
		return agents.IntentData{}, err
	}
	result, _ := ia.Result().(map[string]interface{})
	output, _ := result["output"].(map[string]interface{})
	if output == nil {
		return agents.IntentData{}, fmt.Errorf("%w: 意图结果为空", errs.ErrExecution)
	}
	return agents.DecodeIntent(output)
}

// baseParams 是注入每个任务的公共参数。
func (o *Orchestrator) baseParams(req Request, intent agents.IntentData) map[string]interface{} {
	params := map[string]interface{}{
		"crm_user_id":   req.CRMUserID,
		"task_id":       req.TaskID,
		"result_format": req.ResultFormat,
		"intent_data":   agents.IntentToMap(intent),
		"data_sources":  intent.DataSources,
	}
	if len(req.QueryTypes) > 0 {
		params["query_types"] = req.QueryTypes
	}
	return params
}

// runTemplate 按固定模板构建并执行工作流。
func (o *Orchestrator) runTemplate(ctx context.Context, req Request, template string,
	intent agents.IntentData, emit func(agent.Event) bool) error {
	wf, err := o.buildTemplateWorkflow(req, template, intent)
	if err != nil {
		return err
	}
	return o.execute(ctx, req, wf, emit)
}

// runPlanned 让规划器产出计划并构建动态工作流。
func (o *Orchestrator) runPlanned(ctx context.Context, req Request,
	intent agents.IntentData, emit func(agent.Event) bool) error {
	planner := agents.NewPlanner(o.deps.ChatLLM, o.registry, o.deps.Log)
	if err := o.forwardAgent(ctx, planner, req, map[string]interface{}{}, emit); err != nil {
		return err
	}
	result, _ := planner.Result().(map[string]interface{})
	plan, err := agents.ParsePlan(result["output"])
	if err != nil {
		return err
	}

	wf := o.engine.CreateWorkflow("planned_workflow", req.UserQuery, req.History, engine.ModePipeline)
	base := o.baseParams(req, intent)
	for _, step := range plan.TaskSteps {
		executor, err := o.registry.Create(step.AgentType)
		if err != nil {
			return fmt.Errorf("%w: %v", errs.ErrPlan, err)
		}
		if _, err := o.engine.CreateTask(wf, step.StepName, executor,
			step.Dependencies, step.ParamsMapping, base); err != nil {
			return err
		}
	}
	return o.execute(ctx, req, wf, emit)
}

// execute 运行工作流，盯住携带文件的 result 事件，结束后按需
// 合成 final 事件。
func (o *Orchestrator) execute(ctx context.Context, req Request, wf *engine.Workflow, emit func(agent.Event) bool) error {
	ch, err := o.engine.Execute(ctx, wf, req.Probe)
	if err != nil {
		return err
	}

	var finalFile map[string]interface{}
	var finalMessage string
	for ev := range ch {
		if ev.File != nil && (ev.TypeName == agent.TypeResult || ev.Type == agent.TypeFile) {
			finalFile = ev.File
			finalMessage = ev.Message
		}
		if !emit(ev) {
			break
		}
	}

	switch o.engine.Status(wf) {
	case engine.WorkflowCompleted:
		if finalFile != nil {
			emit(agent.Event{
				Type:    agent.TypeFinal,
				Status:  "success",
				Name:    "orchestrator",
				Message: fmt.Sprintf("关于'%s' %s", req.UserQuery, finalMessage),
				File:    finalFile,
				Data:    map[string]interface{}{"success_message": "报告生成已完成"},
			})
		}
		return nil
	case engine.WorkflowCancelled:
		return errs.ErrCancelled
	default:
		for _, t := range wf.Tasks() {
			if t.Status != engine.TaskFailed {
				continue
			}
			// 保留原始错误类别，越权与参数错误按原样上浮
			if t.Agent != nil {
				if err := t.Agent.Err(); err != nil {
					return err
				}
			}
			return fmt.Errorf("%w: 步骤「%s」失败: %s", errs.ErrExecution, t.Name, t.ErrMessage)
		}
		return fmt.Errorf("%w: 工作流未正常完成", errs.ErrExecution)
	}
}
