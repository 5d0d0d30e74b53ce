package agents

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/zlzcms/fx-agent-sub000/internal/agent"
	"github.com/zlzcms/fx-agent-sub000/internal/artifact"
	"github.com/zlzcms/fx-agent-sub000/internal/errs"
	"github.com/zlzcms/fx-agent-sub000/internal/markdown"
	"github.com/zlzcms/fx-agent-sub000/internal/query"
	"github.com/zlzcms/fx-agent-sub000/pkg/logger"
)

// DataFetchAgent 按意图给出的数据源调用查询服务，把行集转换为
// Markdown 证据并落盘。
type DataFetchAgent struct {
	*agent.Base
	svc          *query.Service
	renderer     *markdown.Renderer
	writer       *artifact.Writer
	maxDataCount int
}

// NewDataFetch 创建数据抓取智能体。writer 为 nil 时跳过落盘。
func NewDataFetch(svc *query.Service, renderer *markdown.Renderer, writer *artifact.Writer, maxDataCount int, log *logger.Logger) *DataFetchAgent {
	return &DataFetchAgent{
		Base:         agent.NewBase("get_users", nil, log),
		svc:          svc,
		renderer:     renderer,
		writer:       writer,
		maxDataCount: maxDataCount,
	}
}

// asInt64 宽容地把 JSON 解码产物转成整数。
func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	}
	return 0, false
}

// parseRequest 把意图提取出的过滤条件转换为类型化查询请求。
func parseRequest(filters map[string]interface{}, crmUserID int64) *query.Request {
	req := &query.Request{CRMUserID: crmUserID}
	if ids, ok := filters["user_ids"].([]interface{}); ok {
		for _, id := range ids {
			if n, ok := asInt64(id); ok {
				req.UserIDs = append(req.UserIDs, n)
			}
		}
	}
	if emails, ok := filters["emails"].([]interface{}); ok {
		for _, e := range emails {
			if s, ok := e.(string); ok && s != "" {
				req.Emails = append(req.Emails, s)
			}
		}
	}
	if rt, ok := filters["range_time"].(map[string]interface{}); ok {
		start, _ := rt["start"].(string)
		end, _ := rt["end"].(string)
		if start != "" && end != "" {
			req.RangeTime = &query.TimeRange{Start: start, End: end}
		}
	}
	if rawLimit, ok := filters["limit"]; ok && rawLimit != nil {
		if n, ok := asInt64(rawLimit); ok {
			limit := int(n)
			req.Limit = &limit
		}
	}
	return req
}

// expandQueryTypes 按助手订阅的查询类型补全请求：意图只命中用户
// 数据时，为每个订阅类型追加限量查询并继承时间窗口。
func (a *DataFetchAgent) expandQueryTypes(dataSources map[string]interface{}, queryTypes []string) {
	if len(queryTypes) == 0 {
		return
	}
	var rangeTime interface{}
	if user, ok := dataSources["get_user"].(map[string]interface{}); ok {
		rangeTime = user["range_time"]
	}
	matched := 0
	for _, qt := range queryTypes {
		if _, ok := dataSources[qt]; ok {
			matched++
		}
	}
	for _, qt := range queryTypes {
		if qt == "get_user" {
			continue
		}
		if _, ok := dataSources[qt]; ok && matched > 0 {
			continue
		}
		entry := map[string]interface{}{"limit": a.maxDataCount}
		if rangeTime != nil {
			entry["range_time"] = rangeTime
		}
		dataSources[qt] = entry
	}
}

// Execute 逐个数据源查询、渲染并落盘。越权与校验失败立即终止，
// 普通的单表失败记录为失败小节继续执行。
func (a *DataFetchAgent) Execute(ctx context.Context, in agent.Input) <-chan agent.Event {
	return a.Run(ctx, func(ctx context.Context, emit func(agent.Event) bool) error {
		dataSources := extractDataSources(in.Params)
		if len(dataSources) == 0 {
			return fmt.Errorf("请求数据为空")
		}
		crmUserID, ok := asInt64(in.Params["crm_user_id"])
		if !ok || crmUserID == 0 {
			return fmt.Errorf("%w: 缺少crm_user_id参数，无法进行数据权限校验", errs.ErrValidation)
		}
		if queryTypes := asStringSlice(in.Params["query_types"]); len(queryTypes) > 0 {
			a.expandQueryTypes(dataSources, queryTypes)
		}
		a.AddLog("查询的请求", dataSources)

		types := make([]string, 0, len(dataSources))
		for qt := range dataSources {
			types = append(types, qt)
		}
		sort.Strings(types)

		dataset := &markdown.Dataset{}
		rawData := make(map[string]interface{}, len(types))
		totalRows := 0
		for _, qt := range types {
			if err := a.CheckInterruption(); err != nil {
				return err
			}
			filters, _ := dataSources[qt].(map[string]interface{})
			if filters == nil {
				filters = map[string]interface{}{}
			}
			resp := a.svc.Query(ctx, qt, parseRequest(filters, crmUserID))
			if !resp.Success {
				if strings.Contains(resp.Message, "权限") || strings.Contains(resp.Message, "不存在") {
					return fmt.Errorf("%w: %s", errs.ErrAuthScope, resp.Message)
				}
				dataset.Entries = append(dataset.Entries, markdown.DatasetEntry{
					Name: qt, Failed: true, Message: resp.Message,
				})
				continue
			}

			columns := query.Columns(qt)
			if columns == nil && len(resp.Data) > 0 {
				for c := range resp.Data[0] {
					columns = append(columns, c)
				}
				sort.Strings(columns)
			}
			rows := make([][]interface{}, len(resp.Data))
			for i, rowMap := range resp.Data {
				row := make([]interface{}, len(columns))
				for j, c := range columns {
					row[j] = rowMap[c]
				}
				rows[i] = row
			}
			totalRows += len(rows)
			dataset.Entries = append(dataset.Entries, markdown.DatasetEntry{Name: qt, Columns: columns, Rows: rows})
			rawData[qt] = map[string]interface{}{"columns": columns, "rows": rows}
		}
		a.AddLog("查询结果", rawData)

		segments := a.renderer.DatasetToMarkdown(dataset)

		saveFile := true
		if v, ok := in.Params["is_save_file"].(bool); ok {
			saveFile = v
		}
		var files []interface{}
		if saveFile && a.writer != nil {
			taskID, _ := in.Params["task_id"].(string)
			if taskID == "" {
				taskID = uuid.NewString()
			}
			for i, segment := range segments {
				res := a.writer.WriteMarkdown(segment, taskID, fmt.Sprintf("users_info_%d_%d", totalRows, i+1))
				if res.Success {
					files = append(files, res.ToMap())
					emit(agent.FileEvent(a.Name()+"_file", res.Filename, res.ToMap()))
				}
			}
			a.AddLog("输出文件", files)
		}

		a.SetResult(map[string]interface{}{
			"data":   rawData,
			"output": segments,
			"files":  files,
		})
		a.FinishWith("获取数据完成")
		return nil
	})
}

// extractDataSources 从参数里取数据源请求，兼容意图结果整体注入。
func extractDataSources(params map[string]interface{}) map[string]interface{} {
	if ds, ok := params["data_sources"].(map[string]interface{}); ok && len(ds) > 0 {
		return ds
	}
	if intent, ok := params["intent_result"].(map[string]interface{}); ok {
		if out, ok := intent["output"].(map[string]interface{}); ok {
			if ds, ok := out["data_sources"].(map[string]interface{}); ok {
				return ds
			}
		}
		if ds, ok := intent["data_sources"].(map[string]interface{}); ok {
			return ds
		}
	}
	return nil
}

func asStringSlice(v interface{}) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
