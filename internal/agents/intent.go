package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zlzcms/fx-agent-sub000/internal/agent"
	"github.com/zlzcms/fx-agent-sub000/internal/llm"
	"github.com/zlzcms/fx-agent-sub000/pkg/logger"
)

// IntentData 是意图识别的结构化输出。
type IntentData struct {
	SelectedService   string                 `json:"selected_service"`
	DataSources       map[string]interface{} `json:"data_sources"`
	Tip               string                 `json:"tip,omitempty"`
	DoNext            bool                   `json:"do_next"`
	SuggestedResponse string                 `json:"suggested_response,omitempty"`
}

// IntentAgent 识别用户意图并提取数据源参数。
type IntentAgent struct {
	*agent.Base
	dataSourcesDoc string
}

// NewIntent 创建意图识别智能体。dataSourcesDoc 描述可用的 query_type。
func NewIntent(client llm.Client, dataSourcesDoc string, log *logger.Logger) *IntentAgent {
	return &IntentAgent{
		Base:           agent.NewBase("intent_recognition", client, log),
		dataSourcesDoc: dataSourcesDoc,
	}
}

// DecodeIntent 把结果 map 还原为结构化意图。
func DecodeIntent(m map[string]interface{}) (IntentData, error) {
	var intent IntentData
	if err := decodeInto(m, &intent); err != nil {
		return IntentData{}, fmt.Errorf("意图结果格式无效: %w", err)
	}
	return intent, nil
}

// IntentToMap 把结构化意图转为可注入任务参数的 map。
func IntentToMap(intent IntentData) map[string]interface{} {
	return toMap(intent)
}

// checkAction 按调用方声明的 action 纠正所选服务。
func checkAction(action string, d IntentData) IntentData {
	if action == "agent" && d.SelectedService == "mcp" {
		d.SelectedService = "report"
	}
	if action == "chat" && (d.SelectedService == "agent" || d.SelectedService == "report") {
		d.SelectedService = "mcp"
	}
	return d
}

func (a *IntentAgent) streamTip(emit func(agent.Event) bool, tip string) {
	for _, chunk := range agent.SimulateStream(tip+"\n", 4) {
		if !emit(agent.Event{Type: agent.TypeChat, Status: agent.StatusRunning, Name: a.Name() + "_tip", Message: chunk}) {
			return
		}
	}
}

// Execute 执行意图识别：主调用解析 JSON、流式输出 tip、按需二次
// 提取数据源参数，最终把结构化意图写入结果。
func (a *IntentAgent) Execute(ctx context.Context, in agent.Input) <-chan agent.Event {
	return a.Run(ctx, func(ctx context.Context, emit func(agent.Event) bool) error {
		action, _ := in.Params["action"].(string)
		now := time.Now().Format("2006-01-02 15:04:05")
		prompt := fmt.Sprintf(intentSystemPrompt, a.dataSourcesDoc, now)
		a.AddLog("组装提示词", prompt)

		resp, err := a.Invoke(ctx, agent.BuildMessages(prompt, in.History, in.UserQuery),
			fmt.Sprintf("意图识别【%s】", in.UserQuery))
		if err != nil {
			return err
		}

		raw, err := parseJSONObject(resp.Content)
		if err != nil {
			preview := resp.Content
			if len(preview) > 200 {
				preview = preview[:200] + "..."
			}
			return fmt.Errorf("意图识别 JSON 解析失败，原始内容: %s", preview)
		}
		var intent IntentData
		if err := decodeInto(raw, &intent); err != nil {
			return fmt.Errorf("意图识别结果格式无效: %w", err)
		}

		if intent.Tip != "" && intent.SelectedService != "chat" {
			a.streamTip(emit, intent.Tip)
		}

		intent = checkAction(action, intent)

		// 命中数据源时进行二次参数提取
		if len(intent.DataSources) > 0 && intent.SelectedService != "chat" {
			if err := a.extractParameters(ctx, emit, in, &intent); err != nil {
				return err
			}
		}
		if len(intent.DataSources) > 0 && !intent.DoNext {
			intent.DoNext = true
		}
		a.AddLog("输出返回的结果", intent)

		// 无需继续时直接流式给出建议回复
		if !intent.DoNext && intent.SuggestedResponse != "" {
			for _, chunk := range agent.SimulateStream(intent.SuggestedResponse, 4) {
				if !emit(agent.Event{Type: agent.TypeChat, Status: agent.StatusRunning,
					Name: a.Name() + "_suggested_response", Message: chunk}) {
					break
				}
			}
		}

		a.SetResult(map[string]interface{}{
			"output": toMap(intent),
			"data":   map[string]interface{}{"success": true, "data": toMap(intent)},
		})
		a.FinishWith("意图识别完成")
		return nil
	})
}

// extractParameters 对已识别的数据源做一次参数补全调用。
func (a *IntentAgent) extractParameters(ctx context.Context, emit func(agent.Event) bool, in agent.Input, intent *IntentData) error {
	nextStep := "正在制定任务计划"
	if intent.SelectedService == "agent" || intent.SelectedService == "report" {
		nextStep = "正在获取数据"
	}
	sources := make([]string, 0, len(intent.DataSources))
	for name := range intent.DataSources {
		sources = append(sources, name)
	}
	prompt := fmt.Sprintf(parameterSystemPrompt, strings.Join(sources, "\n"),
		time.Now().Format("2006-01-02 15:04:05"), nextStep)
	a.AddLog("参数提取提示词", prompt)

	resp, err := a.Invoke(ctx, agent.BuildMessages(prompt, nil, in.UserQuery),
		fmt.Sprintf("参数提取【%s】", in.UserQuery))
	if err != nil {
		return err
	}
	raw, err := parseJSONObject(resp.Content)
	if err != nil {
		// 参数提取失败不阻断流程，保留一次识别的结果
		a.AddLog("参数提取失败", err.Error())
		return nil
	}
	if tip, _ := raw["tip"].(string); tip != "" && intent.SelectedService != "chat" {
		a.streamTip(emit, tip)
	}
	if ds, ok := raw["data_sources"].(map[string]interface{}); ok && len(ds) > 0 {
		intent.DataSources = ds
	}
	return nil
}
