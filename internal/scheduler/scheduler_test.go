package scheduler

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zlzcms/fx-agent-sub000/internal/agent"
	"github.com/zlzcms/fx-agent-sub000/internal/models"
)

func TestBuildQuery(t *testing.T) {
	assert.Equal(t, "自定义问题", buildQuery(Setting{UserQuery: "自定义问题"}))
	assert.Equal(t, "请根据最新数据生成《高风险用户周报》分析报告",
		buildQuery(Setting{Title: "高风险用户周报"}))
	assert.Equal(t, "请根据最新数据生成《订阅数据》分析报告", buildQuery(Setting{}))
}

func TestSummaryTruncates(t *testing.T) {
	long := strings.Repeat("析", 300)
	got := summary(long, 200)
	assert.Equal(t, 200, len([]rune(got))-len([]rune("...")))
	assert.Equal(t, "短内容", summary("短内容", 200))
}

func eventStream(events ...agent.Event) <-chan agent.Event {
	ch := make(chan agent.Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch
}

func TestCollectExtractsReportAndFiles(t *testing.T) {
	s := New(Options{})
	file := map[string]interface{}{"filename": "report.md", "url": "/files/report.md"}
	out := s.collect(context.Background(), eventStream(
		agent.ChatEvent("a", "分析中"),
		agent.FileEvent("generate_report_file", "report.md", file),
		agent.Event{Type: agent.TypeStep, TypeName: agent.TypeResult, Name: "generate_report",
			Result: map[string]interface{}{"report": "# 报告正文"}},
		agent.CompletedEvent("orchestrator", "报告生成完成", nil),
	))

	assert.Equal(t, agent.TypeCompleted, out.terminal.Type)
	assert.Equal(t, "# 报告正文", out.content)
	require.Len(t, out.files, 1)
	assert.Equal(t, "report.md", out.files[0]["filename"])
}

func TestBuildRecordSuccessAndFailure(t *testing.T) {
	s := New(Options{})
	desc := Descriptor{AssistantID: 7, SubscriptionID: 3, Setting: Setting{Title: "周报"}}

	ok := s.buildRecord(desc, "task-1", "生成周报", runOutcome{
		terminal: agent.CompletedEvent("orchestrator", "完成", nil),
		content:  "# 报告",
		files:    []map[string]interface{}{{"filename": "r.md"}},
	})
	assert.Equal(t, models.ReportStatusSuccess, ok.Status)
	assert.Equal(t, "# 报告", ok.Content)
	assert.NotNil(t, ok.CompletedAt)
	assert.NotEmpty(t, ok.Files)

	bad := s.buildRecord(desc, "task-2", "生成周报", runOutcome{
		terminal: agent.ErrorEvent("orchestrator", "上游故障"),
	})
	assert.Equal(t, models.ReportStatusFailed, bad.Status)
	assert.Equal(t, "上游故障", bad.ErrorMessage)
	assert.Nil(t, bad.CompletedAt)
}

func TestCollectTimeoutBecomesError(t *testing.T) {
	s := New(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := s.collect(ctx, eventStream(agent.ChatEvent("a", "进行中")))
	assert.Equal(t, agent.TypeError, out.terminal.Type)
	assert.Contains(t, out.terminal.Message, "墙钟上限")
}
