package agents

import (
	"context"
	"fmt"

	"github.com/zlzcms/fx-agent-sub000/internal/agent"
	"github.com/zlzcms/fx-agent-sub000/internal/errs"
	"github.com/zlzcms/fx-agent-sub000/internal/llm"
	"github.com/zlzcms/fx-agent-sub000/pkg/logger"
)

// Step 是规划器输出的一个任务步骤。
type Step struct {
	StepName        string            `json:"step_name"`
	StepDescription string            `json:"step_description"`
	AgentType       string            `json:"agent_type"`
	Dependencies    []string          `json:"dependencies"`
	ParamsMapping   map[string]string `json:"params_mapping"`
}

// Plan 是规划器的完整输出。
type Plan struct {
	QueryAnalysis string `json:"query_analysis"`
	TaskSteps     []Step `json:"task_steps"`
}

// PlannerAgent 把用户请求拆解为任务步骤计划。
type PlannerAgent struct {
	*agent.Base
	registry *agent.Registry
}

// NewPlanner 创建规划智能体，可用能力取自注册表。
func NewPlanner(client llm.Client, registry *agent.Registry, log *logger.Logger) *PlannerAgent {
	return &PlannerAgent{
		Base:     agent.NewBase("ai_task_planner", client, log),
		registry: registry,
	}
}

func (a *PlannerAgent) kindsDoc() string {
	doc := ""
	desc := a.registry.Describe()
	for _, kind := range a.registry.Kinds() {
		doc += fmt.Sprintf("- %s: %s\n", kind, desc[kind])
	}
	return doc
}

// validate 校验计划的结构约束：步骤名唯一非空、能力已注册、
// 依赖只引用在前的步骤。
func (a *PlannerAgent) validate(plan *Plan) error {
	if len(plan.TaskSteps) == 0 {
		return fmt.Errorf("计划不包含任何步骤")
	}
	seen := make(map[string]bool, len(plan.TaskSteps))
	for i, step := range plan.TaskSteps {
		if step.StepName == "" {
			return fmt.Errorf("第 %d 步缺少 step_name", i+1)
		}
		if seen[step.StepName] {
			return fmt.Errorf("步骤名重复: %s", step.StepName)
		}
		if _, err := a.registry.Create(step.AgentType); err != nil {
			return fmt.Errorf("第 %d 步使用了%v", i+1, err)
		}
		for _, dep := range step.Dependencies {
			if !seen[dep] {
				return fmt.Errorf("步骤 %s 依赖了未定义的前序步骤: %s", step.StepName, dep)
			}
		}
		seen[step.StepName] = true
	}
	return nil
}

func (a *PlannerAgent) parse(content string) (*Plan, error) {
	raw, err := parseJSONObject(content)
	if err != nil {
		return nil, err
	}
	var plan Plan
	if err := decodeInto(raw, &plan); err != nil {
		return nil, err
	}
	if err := a.validate(&plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// Execute 调用 LLM 生成计划并校验。结构不合法时带着错误反馈重试
// 一次，仍失败则以规划错误终止。
func (a *PlannerAgent) Execute(ctx context.Context, in agent.Input) <-chan agent.Event {
	return a.Run(ctx, func(ctx context.Context, emit func(agent.Event) bool) error {
		prompt := fmt.Sprintf(plannerSystemPrompt, a.kindsDoc())
		a.AddLog("组装提示词", prompt)

		resp, err := a.Invoke(ctx, agent.BuildMessages(prompt, in.History, in.UserQuery),
			fmt.Sprintf("任务规划【%s】", in.UserQuery))
		if err != nil {
			return err
		}
		plan, parseErr := a.parse(resp.Content)
		if parseErr != nil {
			a.AddLog("首次规划无效", parseErr.Error())
			retryQuery := fmt.Sprintf("%s\n\n上一次输出不符合要求：%s\n请严格按照 JSON 格式重新输出。",
				in.UserQuery, parseErr.Error())
			resp, err = a.Invoke(ctx, agent.BuildMessages(prompt, in.History, retryQuery), "任务规划重试")
			if err != nil {
				return err
			}
			plan, parseErr = a.parse(resp.Content)
			if parseErr != nil {
				return fmt.Errorf("%w: %v", errs.ErrPlan, parseErr)
			}
		}

		steps := make([]interface{}, len(plan.TaskSteps))
		for i, s := range plan.TaskSteps {
			steps[i] = toMap(s)
		}
		emit(agent.Event{
			Type:    agent.TypePlan,
			Status:  agent.StatusRunning,
			Message: fmt.Sprintf("已生成 %d 步任务计划", len(plan.TaskSteps)),
			Data:    steps,
		})

		a.SetResult(map[string]interface{}{
			"query_analysis": plan.QueryAnalysis,
			"task_steps":     steps,
			"output":         toMap(plan),
		})
		a.FinishWith("任务规划完成")
		return nil
	})
}

// ParsePlan 把任务层拿到的规划结果还原为 Plan。
func ParsePlan(result interface{}) (*Plan, error) {
	m, ok := result.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: 规划结果不是对象", errs.ErrPlan)
	}
	var plan Plan
	if err := decodeInto(m, &plan); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrPlan, err)
	}
	return &plan, nil
}
