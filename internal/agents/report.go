package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zlzcms/fx-agent-sub000/internal/agent"
	"github.com/zlzcms/fx-agent-sub000/internal/artifact"
	"github.com/zlzcms/fx-agent-sub000/pkg/logger"
)

// ReportAgent 根据分析结果生成最终报告并导出产物。
// 报告组装是确定性的，不经过 LLM。
type ReportAgent struct {
	*agent.Base
	writer *artifact.Writer
}

// NewReport 创建报告生成智能体。
func NewReport(writer *artifact.Writer, log *logger.Logger) *ReportAgent {
	return &ReportAgent{
		Base:   agent.NewBase("generate_report", nil, log),
		writer: writer,
	}
}

// renderReport 把分析结果拼装为最终 Markdown 报告。
func renderReport(analysisResult interface{}) string {
	body := ""
	summary := ""
	switch result := analysisResult.(type) {
	case string:
		body = result
	case map[string]interface{}:
		if v, _ := result["analytical_report"].(string); v != "" {
			body = v
		} else if v, _ := result["output"].(string); v != "" {
			body = v
		}
		if data, ok := result["data"].(map[string]interface{}); ok {
			if v, _ := data["summary"].(string); v != "" {
				summary = v
			}
			if body == "" {
				if v, _ := data["analytical_report"].(string); v != "" {
					body = v
				}
			}
		}
		if summary == "" {
			if v, _ := result["summary"].(string); v != "" {
				summary = v
			}
		}
	}
	if body == "" {
		body = "暂无分析结果"
	}

	var b strings.Builder
	if !strings.HasPrefix(strings.TrimSpace(body), "#") {
		b.WriteString("# 数据分析报告\n\n")
	}
	if summary != "" {
		b.WriteString("## 分析概要\n\n")
		b.WriteString(summary)
		b.WriteString("\n\n")
	}
	b.WriteString(body)
	b.WriteString(fmt.Sprintf("\n\n---\n报告生成时间: %s\n", time.Now().Format("2006-01-02 15:04:05")))
	return b.String()
}

// Execute 组装报告、写出产物并以 result 事件交付。
func (a *ReportAgent) Execute(ctx context.Context, in agent.Input) <-chan agent.Event {
	return a.Run(ctx, func(ctx context.Context, emit func(agent.Event) bool) error {
		analysisResult := in.Params["analysis_result"]
		if analysisResult == nil {
			analysisResult = in.Params["data"]
		}
		report := renderReport(analysisResult)

		taskID, _ := in.Params["task_id"].(string)
		if taskID == "" {
			taskID = uuid.NewString()
		}

		var fileMap map[string]interface{}
		if a.writer != nil {
			name := "report_" + time.Now().Format("20060102150405")
			file := a.writer.WriteMarkdown(report, taskID, name)
			if format, _ := in.Params["result_format"].(string); format == "word" && file.Success {
				if docx := a.writer.WriteDocx(report, taskID, name); docx.Success {
					file = docx
				}
			}
			if !file.Success {
				return fmt.Errorf("报告导出失败: %s", file.ErrorMessage)
			}
			fileMap = file.ToMap()
			a.AddLog("输出文件", fileMap)
			emit(agent.FileEvent(a.Name()+"_file", file.Filename, fileMap))
		}

		result := map[string]interface{}{"report": report, "output": report}
		if fileMap != nil {
			result["file"] = fileMap
		}
		emit(agent.Event{
			Type:    agent.TypeResult,
			Status:  agent.StatusRunning,
			Name:    a.Name(),
			Message: "报告生成完成",
			Result:  result,
			File:    fileMap,
		})

		a.SetResult(result)
		a.FinishWith("报告生成完成")
		return nil
	})
}
