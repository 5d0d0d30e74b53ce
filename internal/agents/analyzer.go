package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zlzcms/fx-agent-sub000/internal/agent"
	"github.com/zlzcms/fx-agent-sub000/internal/artifact"
	"github.com/zlzcms/fx-agent-sub000/internal/llm"
	"github.com/zlzcms/fx-agent-sub000/internal/reduce"
	"github.com/zlzcms/fx-agent-sub000/pkg/logger"
)

// dataPlaceholder 是分析提示词中的数据占位符。
const dataPlaceholder = "$analysis_data"

var weekdayCN = map[time.Weekday]string{
	time.Sunday:    "星期日",
	time.Monday:    "星期一",
	time.Tuesday:   "星期二",
	time.Wednesday: "星期三",
	time.Thursday:  "星期四",
	time.Friday:    "星期五",
	time.Saturday:  "星期六",
}

// AnalyzeAgent 是面向用户的数据分析智能体：单块数据直接分析，
// 多块数据委托 map-reduce 缩减策略。
type AnalyzeAgent struct {
	*agent.Base
	reduceOpts reduce.Options
	writer     *artifact.Writer
}

// NewAnalyze 创建数据分析智能体。分析模型建议低温（0.2）配置。
// 缩减策略在执行时按本次的中断探针装配。
func NewAnalyze(client llm.Client, reduceOpts reduce.Options, writer *artifact.Writer, log *logger.Logger) *AnalyzeAgent {
	return &AnalyzeAgent{
		Base:       agent.NewBase("data_analyze", client, log),
		reduceOpts: reduceOpts,
		writer:     writer,
	}
}

// analyzeMessages 是一次分析的组装产物。
type analyzeMessages struct {
	prompt         string
	propertyPrompt string
	segments       []string
	shouldReduce   bool
}

func toSegments(v interface{}) []string {
	switch data := v.(type) {
	case string:
		if data == "" {
			return nil
		}
		return []string{data}
	case []string:
		return data
	case []interface{}:
		out := make([]string, 0, len(data))
		for _, item := range data {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func describeRequest(v interface{}) string {
	switch req := v.(type) {
	case nil:
		return "无"
	case string:
		return req
	default:
		data, err := json.Marshal(req)
		if err != nil {
			return "无"
		}
		return string(data)
	}
}

// buildMessages 组装分析与属性分析提示词。多段数据时保留占位符
// 交给缩减策略逐块代入。
func (a *AnalyzeAgent) buildMessages(in agent.Input) (*analyzeMessages, error) {
	data := in.Params["analyze_data"]
	if data == nil {
		data = in.Params["chunks"]
	}
	segments := toSegments(data)
	if len(segments) == 0 {
		return nil, fmt.Errorf("无数据分析数据")
	}
	a.AddLog("输入数据", fmt.Sprintf("共 %d 段", len(segments)))

	rolePrompt := defaultRolePrompt
	reportFormat := defaultAnalyticalReportFormat
	propFormat := defaultPropertyAnalysisFormat
	riskTags := defaultRiskTags
	if overrides, ok := in.Params["analysis_prompt"].(map[string]interface{}); ok {
		if v, _ := overrides["role_prompt_template"].(string); v != "" {
			rolePrompt = v
		}
		if v, _ := overrides["analytical_report_format"].(string); v != "" {
			reportFormat = v
		}
		if v, _ := overrides["property_analysis_format"].(string); v != "" {
			propFormat = v
		}
		if v, _ := overrides["risk_tags_template"].(string); v != "" {
			riskTags = v
		}
	}
	dataRequest := describeRequest(in.Params["data_request"])
	now := time.Now().Format("2006-01-02 15:04:05")
	week := weekdayCN[time.Now().Weekday()]

	prompt := fmt.Sprintf(analysisPrompt, rolePrompt, in.UserQuery, dataRequest, reportFormat, now, week)
	propPrompt := fmt.Sprintf(propertyAnalysisPrompt, rolePrompt, dataRequest, propFormat, riskTags, now, week)

	am := &analyzeMessages{segments: segments, propertyPrompt: propPrompt}
	if len(segments) > 1 {
		am.shouldReduce = true
		am.prompt = strings.ReplaceAll(prompt, dataPlaceholder, reduce.Placeholder)
	} else {
		am.prompt = strings.ReplaceAll(prompt, dataPlaceholder, segments[0])
		am.propertyPrompt = strings.ReplaceAll(propPrompt, dataPlaceholder, segments[0])
	}
	a.AddLog("组装提示词", am.prompt)
	return am, nil
}

// runReduce 驱动缩减策略。emit 非空时把分片进度转为 step/execute
// 事件转发给调用方。
func (a *AnalyzeAgent) runReduce(ctx context.Context, am *analyzeMessages, emit func(agent.Event) bool) (string, error) {
	opts := a.reduceOpts
	opts.Probe = func() bool { return a.CheckInterruption() != nil }
	if opts.Log == nil {
		opts.Log = a.Logger()
	}
	reducer := reduce.New(a.LLM(), opts)

	var final string
	for ev := range reducer.Run(ctx, am.segments, am.prompt, am.prompt) {
		switch ev.Type {
		case reduce.TypeChunkCompleted:
			if emit != nil {
				emit(agent.Event{
					Type:       agent.TypeStep,
					TypeName:   agent.TypeExecute,
					Status:     agent.StatusRunning,
					Name:       a.Name(),
					ChunkIndex: ev.ChunkIndex,
					ChunkTotal: ev.TotalChunks,
					Message:    fmt.Sprintf("已完成第%d/%d个数据分片分析", ev.ChunkIndex, ev.TotalChunks),
					Data:       ev.Result,
				})
			}
		case reduce.TypeFinal:
			final = ev.Content
		case reduce.TypeError:
			return "", ev.Err
		}
	}
	return final, nil
}

// analyzeOnce 执行一次完整分析并返回报告文本。
func (a *AnalyzeAgent) analyzeOnce(ctx context.Context, in agent.Input, am *analyzeMessages, emit func(agent.Event) bool) (string, error) {
	if am.shouldReduce {
		return a.runReduce(ctx, am, emit)
	}
	resp, err := a.Invoke(ctx, agent.BuildMessages(am.prompt, nil, in.UserQuery),
		fmt.Sprintf("数据分析【%s】", in.UserQuery))
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// propertyAnalysis 对报告做二次属性提取。解析失败不是致命错误，
// 仅把该子结果标记为失败。
func (a *AnalyzeAgent) propertyAnalysis(ctx context.Context, am *analyzeMessages, report string) (bool, map[string]interface{}, error) {
	prompt := am.propertyPrompt
	if am.shouldReduce {
		prompt = strings.ReplaceAll(prompt, dataPlaceholder, report)
	}
	resp, err := a.Invoke(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, "属性分析")
	if err != nil {
		return false, nil, err
	}
	data, parseErr := parseJSONObject(resp.Content)
	if parseErr != nil {
		return false, map[string]interface{}{}, nil
	}
	return true, data, nil
}

// rewriteHTML 让 LLM 把 Markdown 报告重排为自包含的 HTML 页面。
func (a *AnalyzeAgent) rewriteHTML(ctx context.Context, report string) (string, error) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: htmlRewriteSystemPrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf(htmlRewriteUserPrompt, report)},
	}
	resp, err := a.Invoke(ctx, messages, "HTML重排")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// Execute 按 llm_response_type 执行 invoke / report / stream 三种
// 分析模式，随后按需导出产物。
func (a *AnalyzeAgent) Execute(ctx context.Context, in agent.Input) <-chan agent.Event {
	return a.Run(ctx, func(ctx context.Context, emit func(agent.Event) bool) error {
		am, err := a.buildMessages(in)
		if err != nil {
			return err
		}
		mode, _ := in.Params["llm_response_type"].(string)
		if mode == "" {
			mode = "report"
		}

		var report string
		data := map[string]interface{}{}
		switch mode {
		case "invoke":
			report, err = a.analyzeOnce(ctx, in, am, emit)
			if err != nil {
				return err
			}
			emit(agent.ChatEvent(a.Name()+"_chat", report))
		case "report":
			report, err = a.analyzeOnce(ctx, in, am, emit)
			if err != nil {
				return err
			}
			success := true
			if isProp, _ := in.Params["is_property_analysis"].(bool); isProp {
				success, data, err = a.propertyAnalysis(ctx, am, report)
				if err != nil {
					return err
				}
			}
			data["analytical_report"] = report
			data["property_success"] = success

			eventType := agent.TypeChat
			if intent, ok := in.Params["intent_data"].(map[string]interface{}); ok {
				if svc, _ := intent["selected_service"].(string); svc == "report" || svc == "agent" {
					eventType = agent.TypeInfo
				}
			}
			emit(agent.Event{Type: eventType, Status: agent.StatusRunning, Name: a.Name() + "_chat", Message: report})
		default: // stream
			if am.shouldReduce {
				report, err = a.runReduce(ctx, am, emit)
				if err != nil {
					return err
				}
				if report != "" {
					emit(agent.ChatEvent(a.Name()+"_chat", report))
				}
			} else {
				ch, err := a.Stream(ctx, agent.BuildMessages(am.prompt, nil, in.UserQuery),
					fmt.Sprintf("数据分析【%s】", in.UserQuery))
				if err != nil {
					return err
				}
				for chunk := range ch {
					report += chunk.Content
					if !emit(agent.ChatEvent(a.Name()+"_chat", chunk.Content)) {
						break
					}
				}
				if err := a.CheckInterruption(); err != nil {
					return err
				}
			}
		}

		result := map[string]interface{}{"output": report, "data": report}
		if len(data) > 0 {
			result["data"] = data
		}

		saveFile := true
		if v, ok := in.Params["is_save_file"].(bool); ok {
			saveFile = v
		}
		if saveFile && a.writer != nil {
			taskID, _ := in.Params["task_id"].(string)
			if taskID == "" {
				taskID = uuid.NewString()
			}
			name := "data_analyze_" + time.Now().Format("20060102150405")
			file := a.writer.WriteMarkdown(report, taskID, name)
			if format, _ := in.Params["result_format"].(string); format == "html" {
				if html, err := a.rewriteHTML(ctx, report); err == nil {
					file = a.writer.WriteHTML(html, taskID, name)
				}
			}
			if file.Success {
				a.AddLog("文件", file.ToMap())
				result["file"] = file.ToMap()
				emit(agent.FileEvent(a.Name()+"_file", file.Filename, file.ToMap()))
			}
		}

		a.SetResult(result)
		a.FinishWith("数据分析完成")
		return nil
	})
}
