package query

import (
	"fmt"
	"strings"
	"time"
)

// TimeRange 是查询的时间窗口，格式 "2006-01-02 15:04:05"。
type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Request 是一次逻辑表查询的类型化过滤条件。
type Request struct {
	CRMUserID int64                  `json:"crm_user_id"`
	UserIDs   []int64                `json:"user_ids,omitempty"`
	Emails    []string               `json:"emails,omitempty"`
	RangeTime *TimeRange             `json:"range_time,omitempty"`
	Limit     *int                   `json:"limit,omitempty"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

// SQLInfo 记录实际执行的语句、绑定参数、耗时与行数。
type SQLInfo struct {
	Table         string        `json:"table"`
	SQL           string        `json:"sql"`
	Parameters    []interface{} `json:"parameters"`
	ExecutionTime float64       `json:"execution_time"`
	RowCount      int           `json:"row_count"`
}

// Metadata 标注查询类型与时间戳。
type Metadata struct {
	QueryType string `json:"query_type"`
	Timestamp string `json:"timestamp"`
}

// Response 是逻辑表查询的统一返回结构。
// 空结果集仍然是 Success=true，Data 为空切片。
type Response struct {
	Success    bool                     `json:"success"`
	Message    string                   `json:"message"`
	Data       []map[string]interface{} `json:"data"`
	Parameters map[string]interface{}   `json:"parameters,omitempty"`
	SQLInfo    *SQLInfo                 `json:"sql_info,omitempty"`
	Metadata   *Metadata                `json:"query_metadata,omitempty"`
}

func failure(queryType, message string) *Response {
	return &Response{
		Success: false,
		Message: message,
		Data:    []map[string]interface{}{},
		Metadata: &Metadata{
			QueryType: queryType,
			Timestamp: time.Now().Format("2006-01-02 15:04:05"),
		},
	}
}

// tableSpec 描述一张逻辑表的物理映射。
type tableSpec struct {
	queryType   string
	table       string
	columns     []string
	scopeColumn string // 行级访问范围作用的列
	timeColumn  string // 默认时间窗口作用的列
	friendlyCN  string
}

// logicalTables 是查询服务暴露的全部逻辑表。
var logicalTables = map[string]tableSpec{
	"get_user": {
		queryType:   "get_user",
		table:       "t_member",
		columns:     []string{"id", "nickname", "email", "userType", "country", "balance", "create_time"},
		scopeColumn: "id",
		timeColumn:  "create_time",
		friendlyCN:  "用户",
	},
	"get_user_op_log": {
		queryType:   "get_user_op_log",
		table:       "t_member_operation_log",
		columns:     []string{"id", "member_id", "operation", "detail", "ip", "create_time"},
		scopeColumn: "member_id",
		timeColumn:  "create_time",
		friendlyCN:  "操作日志",
	},
	"get_user_amount_log": {
		queryType:   "get_user_amount_log",
		table:       "t_member_amount_log",
		columns:     []string{"id", "member_id", "amount", "balance_after", "currency", "type", "create_time"},
		scopeColumn: "member_id",
		timeColumn:  "create_time",
		friendlyCN:  "资金流水",
	},
	"get_user_login_log": {
		queryType:   "get_user_login_log",
		table:       "t_member_login_log",
		columns:     []string{"id", "member_id", "ip", "device", "region", "create_time"},
		scopeColumn: "member_id",
		timeColumn:  "create_time",
		friendlyCN:  "登录日志",
	},
	"get_user_forword_log": {
		queryType:   "get_user_forword_log",
		table:       "t_member_forword_log",
		columns:     []string{"id", "member_id", "from_account", "to_account", "amount", "status", "create_time"},
		scopeColumn: "member_id",
		timeColumn:  "create_time",
		friendlyCN:  "转账记录",
	},
	"get_user_mtlogin": {
		queryType:   "get_user_mtlogin",
		table:       "t_mt_login_log",
		columns:     []string{"id", "member_id", "mt_account", "server", "ip", "create_time"},
		scopeColumn: "member_id",
		timeColumn:  "create_time",
		friendlyCN:  "交易端登录",
	},
}

// Columns 返回逻辑表的列顺序，未知类型返回 nil。
func Columns(queryType string) []string {
	spec, ok := logicalTables[queryType]
	if !ok {
		return nil
	}
	out := make([]string, len(spec.columns))
	copy(out, spec.columns)
	return out
}

// tableOrder 固定逻辑表的展示顺序。
var tableOrder = []string{
	"get_user",
	"get_user_op_log",
	"get_user_amount_log",
	"get_user_login_log",
	"get_user_forword_log",
	"get_user_mtlogin",
}

// DataSourcesDoc 生成可用数据源的说明文本，供意图识别提示词使用。
func DataSourcesDoc() string {
	var b strings.Builder
	for _, name := range tableOrder {
		spec := logicalTables[name]
		fmt.Fprintf(&b, "- %s: %s数据，字段 %s\n", name, spec.friendlyCN, strings.Join(spec.columns, ", "))
	}
	return b.String()
}

// FriendlyTableNames 返回逻辑表到中文名的映射，供 Markdown 渲染使用。
func FriendlyTableNames() map[string]string {
	out := make(map[string]string, len(logicalTables))
	for name, spec := range logicalTables {
		out[name] = spec.friendlyCN
	}
	return out
}
