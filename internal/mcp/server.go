// Package mcp 把查询服务的逻辑表以 MCP 工具的形式暴露出去，
// 供外部模型宿主通过 stdio 或 HTTP 调用。
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/zlzcms/fx-agent-sub000/internal/query"
	"github.com/zlzcms/fx-agent-sub000/pkg/logger"
)

// toolSpec 描述一张逻辑表对应的工具元数据。
type toolSpec struct {
	queryType   string
	description string
}

var toolSpecs = []toolSpec{
	{"get_user", "查询用户主表，返回用户基础信息（昵称、邮箱、国家、余额等）。"},
	{"get_user_op_log", "查询用户操作日志，返回操作类型、详情与来源 IP。"},
	{"get_user_amount_log", "查询用户资金流水，返回金额、币种与变动后余额。"},
	{"get_user_login_log", "查询用户登录日志，返回登录 IP、设备与地区。"},
	{"get_user_forword_log", "查询用户转账记录，返回转出转入账户、金额与状态。"},
	{"get_user_mtlogin", "查询交易端登录日志，返回 MT 账号、服务器与登录 IP。"},
}

// NewServer 创建挂载了全部逻辑表工具的 MCP 服务器。
func NewServer(svc *query.Service, version string, log *logger.Logger) *server.MCPServer {
	s := server.NewMCPServer("fx-agent-query", version)
	for _, spec := range toolSpecs {
		spec := spec
		s.AddTool(mcp.NewTool(spec.queryType,
			mcp.WithDescription(spec.description),
			mcp.WithNumber("crm_user_id", mcp.Required(),
				mcp.Description("调用方的 CRM 用户号，用于行级数据权限校验。")),
			mcp.WithString("user_ids",
				mcp.Description("目标用户 id 列表，逗号分隔。越权 id 会导致整个查询失败。")),
			mcp.WithString("emails",
				mcp.Description("目标用户邮箱列表，逗号分隔。")),
			mcp.WithString("start_time",
				mcp.Description("时间窗口起点，格式 2006-01-02 15:04:05。")),
			mcp.WithString("end_time",
				mcp.Description("时间窗口终点，与 start_time 同时给出才生效。")),
			mcp.WithNumber("limit",
				mcp.Description("返回行数上限，必须为正数，缺省用服务端默认值。")),
		), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args, _ := req.GetRawArguments().(map[string]any)
			qreq, err := buildRequest(args)
			if err != nil {
				return toolError(err.Error()), nil
			}
			resp := svc.Query(ctx, spec.queryType, qreq)
			if log != nil {
				log.WithPayload(map[string]interface{}{
					"tool":    spec.queryType,
					"success": resp.Success,
				}).Debug("MCP 工具调用完成")
			}
			data, err := json.Marshal(resp)
			if err != nil {
				return toolError(fmt.Sprintf("序列化查询结果失败: %v", err)), nil
			}
			return &mcp.CallToolResult{
				Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(data)}},
				IsError: !resp.Success,
			}, nil
		})
	}
	return s
}

// buildRequest 把工具入参转换为类型化的查询请求。
func buildRequest(args map[string]any) (*query.Request, error) {
	crmUserID, ok := toInt64(args["crm_user_id"])
	if !ok || crmUserID <= 0 {
		return nil, fmt.Errorf("crm_user_id 缺失或非法")
	}
	req := &query.Request{CRMUserID: crmUserID}

	if ids, err := parseIDList(args["user_ids"]); err != nil {
		return nil, err
	} else if len(ids) > 0 {
		req.UserIDs = ids
	}
	if emails := parseStringList(args["emails"]); len(emails) > 0 {
		req.Emails = emails
	}

	start, _ := args["start_time"].(string)
	end, _ := args["end_time"].(string)
	if start != "" && end != "" {
		req.RangeTime = &query.TimeRange{Start: start, End: end}
	}

	if raw, present := args["limit"]; present && raw != nil {
		n, ok := toInt64(raw)
		if !ok {
			return nil, fmt.Errorf("limit 参数非法: %v", raw)
		}
		limit := int(n)
		req.Limit = &limit
	}
	return req, nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

func parseIDList(v any) ([]int64, error) {
	s, _ := v.(string)
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("user_ids 含非数字项: %q", p)
		}
		out = append(out, id)
	}
	return out, nil
}

func parseStringList(v any) []string {
	s, _ := v.(string)
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func toolError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: msg}},
		IsError: true,
	}
}
