package agents

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zlzcms/fx-agent-sub000/internal/agent"
	"github.com/zlzcms/fx-agent-sub000/internal/llm"
	"github.com/zlzcms/fx-agent-sub000/internal/markdown"
	"github.com/zlzcms/fx-agent-sub000/internal/reduce"
)

// scriptedLLM 按调用次序返回预设回复，并记录收到的提示词。
type scriptedLLM struct {
	mu      sync.Mutex
	replies []string
	calls   int
	prompts []string
}

func (f *scriptedLLM) next(messages []llm.Message) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	f.prompts = append(f.prompts, sb.String())
	reply := "默认回复"
	if f.calls < len(f.replies) {
		reply = f.replies[f.calls]
	}
	f.calls++
	return reply
}

func (f *scriptedLLM) GenerateContent(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	return &llm.Response{Content: f.next(messages)}, nil
}

func (f *scriptedLLM) GenerateContentStream(ctx context.Context, messages []llm.Message) (<-chan *llm.Response, error) {
	reply := f.next(messages)
	out := make(chan *llm.Response)
	go func() {
		defer close(out)
		for _, chunk := range agent.SimulateStream(reply, 4) {
			select {
			case out <- &llm.Response{Content: chunk}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func collect(ch <-chan agent.Event) []agent.Event {
	var events []agent.Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func lastEvent(events []agent.Event) agent.Event {
	return events[len(events)-1]
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "短文本", Truncate("短文本", 100))
	long := strings.Repeat("数", 150)
	out := Truncate(long, 100)
	assert.Equal(t, 100, len([]rune(out))-len([]rune("...[截取]")))
	assert.True(t, strings.HasSuffix(out, "...[截取]"))
}

func TestCheckAction(t *testing.T) {
	d := checkAction("agent", IntentData{SelectedService: "mcp"})
	assert.Equal(t, "report", d.SelectedService)

	d = checkAction("chat", IntentData{SelectedService: "report"})
	assert.Equal(t, "mcp", d.SelectedService)

	d = checkAction("chat", IntentData{SelectedService: "agent"})
	assert.Equal(t, "mcp", d.SelectedService)

	d = checkAction("auto", IntentData{SelectedService: "report"})
	assert.Equal(t, "report", d.SelectedService)
}

func TestChatAgentStream(t *testing.T) {
	f := &scriptedLLM{replies: []string{"你好，有什么可以帮你？"}}
	a := NewChat(f, []string{"用户风险报告"}, nil)

	events := collect(a.Execute(context.Background(), agent.Input{UserQuery: "你好"}))
	require.NotEmpty(t, events)

	chatCount := 0
	for _, ev := range events[:len(events)-1] {
		assert.Equal(t, agent.TypeChat, ev.Type)
		chatCount++
	}
	assert.Greater(t, chatCount, 0)
	assert.Equal(t, agent.TypeCompleted, lastEvent(events).Type)
	assert.Equal(t, agent.StateCompleted, a.State())

	result, ok := a.Result().(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "你好，有什么可以帮你？", result["output"])
}

func TestChatAgentNarrateTruncatesInput(t *testing.T) {
	f := &scriptedLLM{replies: []string{"任务完成"}}
	a := NewChat(f, nil, nil)

	long := strings.Repeat("行", 300)
	err := a.Narrate(context.Background(), func(agent.Event) bool { return true }, "mcp_query", long)
	require.NoError(t, err)
	require.NotEmpty(t, f.prompts)
	assert.Contains(t, f.prompts[0], "...[截取]")
	assert.NotContains(t, f.prompts[0], strings.Repeat("行", 200))
}

func TestIntentAgentHappyPath(t *testing.T) {
	intentJSON := `{"selected_service":"report","data_sources":{"get_user":{"user_ids":[1]}},"tip":"正在为您查询","do_next":false}`
	paramsJSON := `{"data_sources":{"get_user":{"user_ids":[1],"limit":200}}}`
	f := &scriptedLLM{replies: []string{intentJSON, paramsJSON}}
	a := NewIntent(f, "- get_user: 用户信息", nil)

	events := collect(a.Execute(context.Background(), agent.Input{UserQuery: "生成用户1的报告", Params: map[string]interface{}{"action": "auto"}}))

	assert.Equal(t, agent.TypeCompleted, lastEvent(events).Type)
	tipSeen := false
	for _, ev := range events {
		if ev.Type == agent.TypeChat && strings.Contains(ev.Name, "_tip") {
			tipSeen = true
		}
	}
	assert.True(t, tipSeen, "tip 应以 chat 事件流式输出")
	assert.Equal(t, 2, f.calls, "应进行参数提取二次调用")

	result := a.Result().(map[string]interface{})
	output := result["output"].(map[string]interface{})
	assert.Equal(t, "report", output["selected_service"])
	// data_sources 非空时 do_next 必须为 true
	assert.Equal(t, true, output["do_next"])
	ds := output["data_sources"].(map[string]interface{})
	entry := ds["get_user"].(map[string]interface{})
	assert.Equal(t, float64(200), entry["limit"])
}

func TestIntentAgentRepairsMalformedJSON(t *testing.T) {
	// 缺少引号与尾逗号的输出应被修复
	broken := "```json\n{selected_service: 'chat', data_sources: {}, do_next: false, suggested_response: '你好',}\n```"
	f := &scriptedLLM{replies: []string{broken}}
	a := NewIntent(f, "", nil)

	events := collect(a.Execute(context.Background(), agent.Input{UserQuery: "你好"}))
	assert.Equal(t, agent.TypeCompleted, lastEvent(events).Type)

	output := a.Result().(map[string]interface{})["output"].(map[string]interface{})
	assert.Equal(t, "chat", output["selected_service"])
}

func TestPlannerAgentValidPlan(t *testing.T) {
	planJSON := `{"query_analysis":"查询并分析","task_steps":[
		{"step_name":"mcp_query","step_description":"查询数据","agent_type":"datafetch","dependencies":[],"params_mapping":{}},
		{"step_name":"ai_analysis","step_description":"分析","agent_type":"data_analyze","dependencies":["mcp_query"],"params_mapping":{"analyze_data":"mcp_query.result.output"}}
	]}`
	f := &scriptedLLM{replies: []string{planJSON}}
	registry := agent.NewRegistry()
	registry.Register("datafetch", "查询数据", func() agent.Agent { return NewChat(f, nil, nil) })
	registry.Register("data_analyze", "分析数据", func() agent.Agent { return NewChat(f, nil, nil) })

	a := NewPlanner(f, registry, nil)
	events := collect(a.Execute(context.Background(), agent.Input{UserQuery: "分析用户数据"}))

	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, agent.TypePlan, events[0].Type)
	assert.Equal(t, agent.TypeCompleted, lastEvent(events).Type)

	plan, err := ParsePlan(a.Result().(map[string]interface{})["output"])
	require.NoError(t, err)
	require.Len(t, plan.TaskSteps, 2)
	assert.Equal(t, []string{"mcp_query"}, plan.TaskSteps[1].Dependencies)
}

func TestPlannerAgentRetriesThenFails(t *testing.T) {
	// 两次都引用未定义依赖，重试一次后失败
	bad := `{"task_steps":[{"step_name":"a","agent_type":"datafetch","dependencies":["missing"]}]}`
	f := &scriptedLLM{replies: []string{bad, bad}}
	registry := agent.NewRegistry()
	registry.Register("datafetch", "查询数据", func() agent.Agent { return NewChat(f, nil, nil) })

	a := NewPlanner(f, registry, nil)
	events := collect(a.Execute(context.Background(), agent.Input{UserQuery: "x"}))

	assert.Equal(t, agent.TypeError, lastEvent(events).Type)
	assert.Equal(t, 2, f.calls)
	assert.Contains(t, lastEvent(events).Message, "未定义的前序步骤")
}

func TestPlannerAgentRetrySucceeds(t *testing.T) {
	bad := `{"task_steps":[{"step_name":"a","agent_type":"unknown_kind","dependencies":[]}]}`
	good := `{"task_steps":[{"step_name":"a","agent_type":"datafetch","dependencies":[]}]}`
	f := &scriptedLLM{replies: []string{bad, good}}
	registry := agent.NewRegistry()
	registry.Register("datafetch", "查询数据", func() agent.Agent { return NewChat(f, nil, nil) })

	a := NewPlanner(f, registry, nil)
	events := collect(a.Execute(context.Background(), agent.Input{UserQuery: "x"}))
	assert.Equal(t, agent.TypeCompleted, lastEvent(events).Type)
	assert.Equal(t, 2, f.calls)
}

func TestSplitterAgent(t *testing.T) {
	renderer := markdown.NewRenderer(100000, map[string]string{"get_user": "用户"}, nil)
	a := NewSplitter(renderer, nil)

	data := map[string]interface{}{
		"get_user": map[string]interface{}{
			"columns": []interface{}{"id", "nickname"},
			"rows":    []interface{}{[]interface{}{1, "张三"}, []interface{}{2, "李四"}},
		},
	}
	events := collect(a.Execute(context.Background(), agent.Input{Params: map[string]interface{}{"data": data}}))

	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, agent.TypeResult, events[0].Type)
	result := events[0].Result.(map[string]interface{})
	chunks := result["chunks"].([]interface{})
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].(string), "张三")
	metadata := result["metadata"].(map[string]interface{})
	assert.Equal(t, 2, metadata["total_rows"])
	assert.Equal(t, agent.TypeCompleted, lastEvent(events).Type)
}

func TestSplitterAgentNoData(t *testing.T) {
	a := NewSplitter(markdown.NewRenderer(1000, nil, nil), nil)
	events := collect(a.Execute(context.Background(), agent.Input{Params: map[string]interface{}{}}))
	assert.Equal(t, agent.TypeError, lastEvent(events).Type)
}

func TestAnalyzeAgentReportMode(t *testing.T) {
	f := &scriptedLLM{replies: []string{"# 分析报告\n一切正常", `{"risk_level":"low","summary":"无异常"}`}}
	a := NewAnalyze(f, reduce.Options{}, nil, nil)

	in := agent.Input{
		UserQuery: "分析用户数据",
		Params: map[string]interface{}{
			"analyze_data":         []interface{}{"| id |\n|---|\n| 1 |"},
			"llm_response_type":    "report",
			"is_property_analysis": true,
			"is_save_file":         false,
		},
	}
	events := collect(a.Execute(context.Background(), in))

	assert.Equal(t, agent.TypeCompleted, lastEvent(events).Type)
	result := a.Result().(map[string]interface{})
	data := result["data"].(map[string]interface{})
	assert.Equal(t, "# 分析报告\n一切正常", data["analytical_report"])
	assert.Equal(t, "low", data["risk_level"])
	assert.Equal(t, true, data["property_success"])
}

func TestAnalyzeAgentPropertyFailureIsSoft(t *testing.T) {
	f := &scriptedLLM{replies: []string{"报告正文", "这不是 JSON 而是一段闲聊文字，而且没有任何大括号"}}
	a := NewAnalyze(f, reduce.Options{}, nil, nil)

	in := agent.Input{
		UserQuery: "分析",
		Params: map[string]interface{}{
			"analyze_data":         "片段",
			"is_property_analysis": true,
			"is_save_file":         false,
		},
	}
	events := collect(a.Execute(context.Background(), in))
	assert.Equal(t, agent.TypeCompleted, lastEvent(events).Type)

	data := a.Result().(map[string]interface{})["data"].(map[string]interface{})
	assert.Equal(t, false, data["property_success"])
	assert.Equal(t, "报告正文", data["analytical_report"])
}

func TestAnalyzeAgentMultiSegmentStream(t *testing.T) {
	f := &scriptedLLM{replies: []string{"片段结论一", "片段结论二", "片段结论三", "综合结论"}}
	a := NewAnalyze(f, reduce.Options{}, nil, nil)

	in := agent.Input{
		UserQuery: "分析大数据集",
		Params: map[string]interface{}{
			"chunks":            []interface{}{"块一", "块二", "块三"},
			"llm_response_type": "stream",
			"is_save_file":      false,
		},
	}
	events := collect(a.Execute(context.Background(), in))

	var stepIndexes []int
	finalChat := ""
	for _, ev := range events {
		if ev.Type == agent.TypeStep && ev.TypeName == agent.TypeExecute {
			stepIndexes = append(stepIndexes, ev.ChunkIndex)
			assert.Equal(t, 3, ev.ChunkTotal)
		}
		if ev.Type == agent.TypeChat {
			finalChat = ev.Message
		}
	}
	assert.Equal(t, []int{1, 2, 3}, stepIndexes)
	assert.Equal(t, "综合结论", finalChat)
	assert.Equal(t, agent.TypeCompleted, lastEvent(events).Type)
}

func TestRenderReport(t *testing.T) {
	report := renderReport("## 发现\n资金异常")
	assert.True(t, strings.HasPrefix(report, "# 数据分析报告"))
	assert.Contains(t, report, "资金异常")
	assert.Contains(t, report, "报告生成时间")

	structured := renderReport(map[string]interface{}{
		"output": "# 已有标题\n正文",
		"data":   map[string]interface{}{"summary": "概要内容"},
	})
	assert.False(t, strings.HasPrefix(structured, "# 数据分析报告"))
	assert.Contains(t, structured, "概要内容")

	assert.Contains(t, renderReport(nil), "暂无分析结果")
}

func TestParseRequestConversions(t *testing.T) {
	req := parseRequest(map[string]interface{}{
		"user_ids":   []interface{}{float64(1), "2", "abc"},
		"emails":     []interface{}{"a@b.com", ""},
		"range_time": map[string]interface{}{"start": "2026-08-01 00:00:00", "end": "2026-08-31 00:00:00"},
		"limit":      float64(50),
	}, 9)

	assert.Equal(t, int64(9), req.CRMUserID)
	assert.Equal(t, []int64{1, 2}, req.UserIDs)
	assert.Equal(t, []string{"a@b.com"}, req.Emails)
	require.NotNil(t, req.RangeTime)
	assert.Equal(t, "2026-08-01 00:00:00", req.RangeTime.Start)
	require.NotNil(t, req.Limit)
	assert.Equal(t, 50, *req.Limit)

	empty := parseRequest(map[string]interface{}{}, 9)
	assert.Nil(t, empty.Limit)
	assert.Nil(t, empty.RangeTime)
}

func TestExtractDataSources(t *testing.T) {
	direct := extractDataSources(map[string]interface{}{
		"data_sources": map[string]interface{}{"get_user": map[string]interface{}{}},
	})
	assert.Len(t, direct, 1)

	nested := extractDataSources(map[string]interface{}{
		"intent_result": map[string]interface{}{
			"output": map[string]interface{}{
				"data_sources": map[string]interface{}{"get_user_amount_log": map[string]interface{}{}},
			},
		},
	})
	require.Len(t, nested, 1)
	_, ok := nested["get_user_amount_log"]
	assert.True(t, ok)

	assert.Nil(t, extractDataSources(map[string]interface{}{}))
}
