package orchestrator

import (
	"fmt"
	"regexp"

	"github.com/zlzcms/fx-agent-sub000/internal/agents"
	"github.com/zlzcms/fx-agent-sub000/internal/engine"
	"github.com/zlzcms/fx-agent-sub000/internal/errs"
)

// 固定工作流模板。
const (
	TemplateSimpleQuery    = "SIMPLE_QUERY"
	TemplateAnalysisReport = "ANALYSIS_REPORT"
)

var templateRules = []struct {
	re       *regexp.Regexp
	template string
}{
	{regexp.MustCompile(`查询.*信息`), TemplateSimpleQuery},
	{regexp.MustCompile(`生成.*报告`), TemplateAnalysisReport},
	{regexp.MustCompile(`分析.*数据`), TemplateAnalysisReport},
	{regexp.MustCompile(`获取.*详情`), TemplateSimpleQuery},
}

// detectTemplate 在意图识别不可用时按正则表匹配模板。
func detectTemplate(userQuery string) (string, bool) {
	for _, rule := range templateRules {
		if rule.re.MatchString(userQuery) {
			return rule.template, true
		}
	}
	return "", false
}

// templateStep 是模板中的一个节点声明。
type templateStep struct {
	name    string
	kind    string
	deps    []string
	mapping map[string]string
	extra   map[string]interface{}
}

// buildTemplateWorkflow 构建固定模板工作流。报告模板为
// mcp_query -> data_splitting -> ai_analysis -> generate_report，
// 流水线模式执行。
func (o *Orchestrator) buildTemplateWorkflow(req Request, template string, intent agents.IntentData) (*engine.Workflow, error) {
	var name string
	var steps []templateStep
	switch template {
	case TemplateSimpleQuery:
		name = "simple_query"
		steps = []templateStep{
			{name: "mcp_query", kind: "get_users"},
			{name: "ai_analysis", kind: "data_analyze", deps: []string{"mcp_query"},
				mapping: map[string]string{"analyze_data": "mcp_query.result.output"},
				extra:   map[string]interface{}{"llm_response_type": "stream", "is_save_file": false}},
		}
	case TemplateAnalysisReport:
		name = "analysis_report"
		steps = []templateStep{
			{name: "mcp_query", kind: "get_users"},
			{name: "data_splitting", kind: "data_splitting", deps: []string{"mcp_query"},
				mapping: map[string]string{"data": "mcp_query.result.data"}},
			{name: "ai_analysis", kind: "data_analyze", deps: []string{"data_splitting"},
				mapping: map[string]string{"chunks": "data_splitting.result.chunks"},
				extra: map[string]interface{}{
					"llm_response_type":    "report",
					"is_property_analysis": true,
					"is_save_file":         false,
					"data_request":         intent.DataSources,
				}},
			{name: "generate_report", kind: "generate_report", deps: []string{"ai_analysis"},
				mapping: map[string]string{"analysis_result": "ai_analysis.result"}},
		}
	default:
		return nil, fmt.Errorf("%w: 未知模板: %s", errs.ErrValidation, template)
	}

	base := o.baseParams(req, intent)
	wf := o.engine.CreateWorkflow(name, req.UserQuery, req.History, engine.ModePipeline)
	for _, step := range steps {
		executor, err := o.registry.Create(step.kind)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrExecution, err)
		}
		params := make(map[string]interface{}, len(base)+len(step.extra))
		for k, v := range base {
			params[k] = v
		}
		for k, v := range step.extra {
			params[k] = v
		}
		if _, err := o.engine.CreateTask(wf, step.name, executor, step.deps, step.mapping, params); err != nil {
			return nil, err
		}
	}
	return wf, nil
}
