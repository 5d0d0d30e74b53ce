package orchestrator

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zlzcms/fx-agent-sub000/internal/agent"
	"github.com/zlzcms/fx-agent-sub000/internal/llm"
)

// scriptedLLM 按调用次序返回预设回复。
type scriptedLLM struct {
	mu      sync.Mutex
	replies []string
	calls   int
}

func (f *scriptedLLM) next() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	reply := "默认回复"
	if f.calls < len(f.replies) {
		reply = f.replies[f.calls]
	}
	f.calls++
	return reply
}

func (f *scriptedLLM) GenerateContent(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	return &llm.Response{Content: f.next()}, nil
}

func (f *scriptedLLM) GenerateContentStream(ctx context.Context, messages []llm.Message) (<-chan *llm.Response, error) {
	reply := f.next()
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

func newTestOrchestrator(f *scriptedLLM) *Orchestrator {
	return New(Deps{
		ChatLLM:        f,
		AnalyzeLLM:     f,
		DataSourcesDoc: "- get_user: 用户信息",
		Services:       []string{"用户风险报告"},
		MaxDataCount:   200,
	})
}

func drain(ch <-chan agent.Event) []agent.Event {
	var events []agent.Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestDetectTemplate(t *testing.T) {
	cases := []struct {
		query    string
		template string
		ok       bool
	}{
		{"查询用户1的信息", TemplateSimpleQuery, true},
		{"生成一份风险报告", TemplateAnalysisReport, true},
		{"帮我分析这批数据", TemplateAnalysisReport, true},
		{"获取订单详情", TemplateSimpleQuery, true},
		{"今天天气如何", "", false},
	}
	for _, c := range cases {
		got, ok := detectTemplate(c.query)
		assert.Equal(t, c.ok, ok, c.query)
		assert.Equal(t, c.template, got, c.query)
	}
}

func TestChatActionStreamsAndTerminates(t *testing.T) {
	f := &scriptedLLM{replies: []string{"你好，很高兴为你服务"}}
	o := newTestOrchestrator(f)

	events := drain(o.AutoOrchestrate(context.Background(), Request{
		UserQuery: "你好", Action: "chat", CRMUserID: 1,
	}))
	require.NotEmpty(t, events)

	chatSeen := false
	for _, ev := range events[:len(events)-1] {
		assert.False(t, ev.IsTerminal(), "终止事件只应出现在最后")
		if ev.Type == agent.TypeChat {
			chatSeen = true
		}
	}
	assert.True(t, chatSeen)
	last := events[len(events)-1]
	assert.Equal(t, agent.TypeCompleted, last.Type)
	assert.Equal(t, "orchestrator", last.Name)
}

func TestIntentRoutesToChat(t *testing.T) {
	intentJSON := `{"selected_service":"chat","data_sources":{},"do_next":false,"suggested_response":""}`
	f := &scriptedLLM{replies: []string{intentJSON, "这是闲聊回答"}}
	o := newTestOrchestrator(f)

	events := drain(o.AutoOrchestrate(context.Background(), Request{
		UserQuery: "讲个笑话", Action: "auto", CRMUserID: 1,
	}))
	assert.Equal(t, agent.TypeCompleted, events[len(events)-1].Type)
	assert.Equal(t, 2, f.calls, "意图识别后应走对话智能体")
}

func TestSuggestedResponseEndsStream(t *testing.T) {
	intentJSON := `{"selected_service":"mcp","data_sources":{},"do_next":false,"suggested_response":"请补充要查询的用户"}`
	f := &scriptedLLM{replies: []string{intentJSON}}
	o := newTestOrchestrator(f)

	events := drain(o.AutoOrchestrate(context.Background(), Request{
		UserQuery: "查一下", Action: "auto", CRMUserID: 1,
	}))

	suggested := ""
	for _, ev := range events {
		if strings.Contains(ev.Name, "_suggested_response") {
			suggested += ev.Message
		}
	}
	assert.Equal(t, "请补充要查询的用户", suggested)
	assert.Equal(t, agent.TypeCompleted, events[len(events)-1].Type)
	assert.Equal(t, 1, f.calls)
}

func TestIntentFailureFallsBackToChat(t *testing.T) {
	// 意图输出无法解析且问题不命中任何模板，退回对话
	f := &scriptedLLM{replies: []string{"完全不是 JSON 的内容，也没有大括号", "兜底回答"}}
	o := newTestOrchestrator(f)

	events := drain(o.AutoOrchestrate(context.Background(), Request{
		UserQuery: "今天天气如何", Action: "auto", CRMUserID: 1,
	}))
	assert.Equal(t, agent.TypeCompleted, events[len(events)-1].Type)
	assert.Equal(t, 2, f.calls)
}

func TestPlannedWorkflowRunsSteps(t *testing.T) {
	intentJSON := `{"selected_service":"agent","data_sources":{},"do_next":true}`
	planJSON := `{"query_analysis":"两步对话","task_steps":[
		{"step_name":"step1","step_description":"第一步","agent_type":"general_chat","dependencies":[],"params_mapping":{}},
		{"step_name":"step2","step_description":"第二步","agent_type":"general_chat","dependencies":["step1"],"params_mapping":{}}
	]}`
	f := &scriptedLLM{replies: []string{
		intentJSON, planJSON,
		"第一步的回答", "第一步已完成", // step1 + 播报
		"第二步的回答", "第二步已完成", // step2 + 播报
	}}
	o := newTestOrchestrator(f)

	events := drain(o.AutoOrchestrate(context.Background(), Request{
		UserQuery: "执行两步任务", Action: "auto", CRMUserID: 1,
	}))

	var kinds []string
	for _, ev := range events {
		kinds = append(kinds, ev.Type+"/"+ev.TypeName)
	}
	assert.Contains(t, kinds, "plan/")
	assert.Contains(t, kinds, "step/title")
	assert.Contains(t, kinds, "step/success")

	titles := []string{}
	for _, ev := range events {
		if ev.Type == agent.TypeStep && ev.TypeName == agent.TypeTitle {
			titles = append(titles, ev.Message)
		}
	}
	assert.Equal(t, []string{"1.step1", "2.step2"}, titles)
	assert.Equal(t, agent.TypeCompleted, events[len(events)-1].Type)
	assert.Equal(t, "orchestrator", events[len(events)-1].Name)
}

func TestCancellationYieldsInterrupted(t *testing.T) {
	f := &scriptedLLM{replies: []string{"不会被看到的回答"}}
	o := newTestOrchestrator(f)

	events := drain(o.AutoOrchestrate(context.Background(), Request{
		UserQuery: "你好", Action: "chat", CRMUserID: 1,
		Probe: func() bool { return true },
	}))
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, agent.TypeInterrupted, last.Type)
	assert.Equal(t, "任务已被用户取消", last.Message)
}

func TestInvalidPlanSurfacesGenericError(t *testing.T) {
	intentJSON := `{"selected_service":"agent","data_sources":{},"do_next":true}`
	badPlan := `{"task_steps":[{"step_name":"a","agent_type":"no_such_kind","dependencies":[]}]}`
	f := &scriptedLLM{replies: []string{intentJSON, badPlan, badPlan}}
	o := newTestOrchestrator(f)

	events := drain(o.AutoOrchestrate(context.Background(), Request{
		UserQuery: "执行任务", Action: "auto", CRMUserID: 1,
	}))
	last := events[len(events)-1]
	assert.Equal(t, agent.TypeError, last.Type)
	assert.Contains(t, last.Message, "请求号", "内部错误不应泄漏细节")
}
