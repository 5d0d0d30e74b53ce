// Package query 是受治理的仓库查询层：每张逻辑表一个方法，
// 在任何 SQL 触达仓库之前强制行级访问范围。
package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/zlzcms/fx-agent-sub000/internal/access"
	"github.com/zlzcms/fx-agent-sub000/internal/sqlbuilder"
	"github.com/zlzcms/fx-agent-sub000/pkg/logger"
)

const defaultWindowDays = 30

// Service 组合 SQL 构造、访问范围与仓库执行。
type Service struct {
	db           *gorm.DB
	resolver     *access.Resolver
	defaultLimit int
	log          *logger.Logger
}

// NewService 创建查询服务。
func NewService(db *gorm.DB, resolver *access.Resolver, defaultLimit int, log *logger.Logger) *Service {
	if defaultLimit <= 0 {
		defaultLimit = 100
	}
	return &Service{db: db, resolver: resolver, defaultLimit: defaultLimit, log: log}
}

// GetUser 查询用户主表。
func (s *Service) GetUser(ctx context.Context, req *Request) *Response {
	return s.run(ctx, "get_user", req)
}

// GetUserOpLog 查询操作日志。
func (s *Service) GetUserOpLog(ctx context.Context, req *Request) *Response {
	return s.run(ctx, "get_user_op_log", req)
}

// GetUserAmountLog 查询资金流水。
func (s *Service) GetUserAmountLog(ctx context.Context, req *Request) *Response {
	return s.run(ctx, "get_user_amount_log", req)
}

// GetUserLoginLog 查询登录日志。
func (s *Service) GetUserLoginLog(ctx context.Context, req *Request) *Response {
	return s.run(ctx, "get_user_login_log", req)
}

// GetUserForwordLog 查询转账记录。
func (s *Service) GetUserForwordLog(ctx context.Context, req *Request) *Response {
	return s.run(ctx, "get_user_forword_log", req)
}

// GetUserMtLogin 查询交易端登录日志。
func (s *Service) GetUserMtLogin(ctx context.Context, req *Request) *Response {
	return s.run(ctx, "get_user_mtlogin", req)
}

// Query 按逻辑表名分发，供数据抓取智能体与 MCP 工具层调用。
func (s *Service) Query(ctx context.Context, queryType string, req *Request) *Response {
	if _, ok := logicalTables[queryType]; !ok {
		return failure(queryType, fmt.Sprintf("未知的查询类型: %s", queryType))
	}
	return s.run(ctx, queryType, req)
}

// QueryTypes 返回全部可用的逻辑表名。
func (s *Service) QueryTypes() []string {
	names := make([]string, 0, len(logicalTables))
	for name := range logicalTables {
		names = append(names, name)
	}
	return names
}

// run 是所有逻辑表共享的查询管线。
func (s *Service) run(ctx context.Context, queryType string, req *Request) *Response {
	spec := logicalTables[queryType]

	// 1. 没有 crm_user_id 一律拒绝，不产生任何仓库访问
	if req == nil || req.CRMUserID == 0 {
		return failure(queryType, "缺少crm_user_id参数，无法进行数据权限校验")
	}

	// 2. limit 策略：0 与负数拒绝，未指定用默认值
	limit, errMsg := s.resolveLimit(req.Limit)
	if errMsg != "" {
		return failure(queryType, errMsg)
	}

	// 3. 访问范围判定
	scope, err := s.resolver.Resolve(ctx, req.CRMUserID)
	if err != nil {
		return failure(queryType, fmt.Sprintf("访问范围判定失败: %v", err))
	}
	if !scope.Exists {
		return failure(queryType, fmt.Sprintf("用户 %d 不存在，无法进行数据查询", req.CRMUserID))
	}

	b := sqlbuilder.New(sqlbuilder.MySQL).
		Select(spec.columns...).
		From(spec.table)

	// 4. 显式 user_id 走逐 id 授权；越权 id 直接失败并点名
	if len(req.UserIDs) > 0 {
		allowed, blocked := scope.Restrict(req.UserIDs)
		if len(blocked) > 0 {
			return failure(queryType, s.blockedMessage(ctx, scope, blocked))
		}
		b.Where(spec.scopeColumn, sqlbuilder.OpIn, toAny(allowed)...)
	} else if !scope.AllowsAll() {
		b.Where(spec.scopeColumn, sqlbuilder.OpIn, toAny(scope.AccessibleIDs)...)
	}

	if len(req.Emails) > 0 {
		b.Where("email", sqlbuilder.OpIn, toAnyStr(req.Emails)...)
	}

	// 5. 时间窗口：显式传入优先；无用户过滤且无时间窗口时补 30 天默认窗口
	if req.RangeTime != nil && req.RangeTime.Start != "" && req.RangeTime.End != "" {
		b.Where(spec.timeColumn, sqlbuilder.OpBetween, req.RangeTime.Start, req.RangeTime.End)
	} else if len(req.UserIDs) == 0 && len(req.Emails) == 0 {
		end := time.Now()
		start := end.AddDate(0, 0, -defaultWindowDays)
		b.Where(spec.timeColumn, sqlbuilder.OpBetween,
			start.Format("2006-01-02 15:04:05"), end.Format("2006-01-02 15:04:05"))
	}

	b.OrderByDesc(spec.timeColumn).Limit(limit)

	sql, params, err := b.BuildSelect()
	if err != nil {
		return failure(queryType, fmt.Sprintf("构建查询语句失败: %v", err))
	}

	// 6. 执行并记录 sql_info；空结果集仍然是成功
	start := time.Now()
	var rows []map[string]interface{}
	if err := s.db.WithContext(ctx).Raw(sql, params...).Scan(&rows).Error; err != nil {
		return failure(queryType, fmt.Sprintf("数据查询失败: %v", err))
	}
	elapsed := time.Since(start).Seconds()

	if rows == nil {
		rows = []map[string]interface{}{}
	}
	if s.log != nil {
		s.log.WithPayload(map[string]interface{}{
			"table":          spec.table,
			"sql":            sql,
			"row_count":      len(rows),
			"execution_time": elapsed,
		}).Debug("仓库查询完成")
	}

	return &Response{
		Success: true,
		Message: fmt.Sprintf("查询成功，共 %d 条记录", len(rows)),
		Data:    rows,
		Parameters: map[string]interface{}{
			"crm_user_id": req.CRMUserID,
			"user_ids":    req.UserIDs,
			"limit":       limit,
		},
		SQLInfo: &SQLInfo{
			Table:         spec.table,
			SQL:           sql,
			Parameters:    params,
			ExecutionTime: elapsed,
			RowCount:      len(rows),
		},
		Metadata: &Metadata{
			QueryType: queryType,
			Timestamp: time.Now().Format("2006-01-02 15:04:05"),
		},
	}
}

// resolveLimit 实现 limit 策略，返回非空 errMsg 表示拒绝。
func (s *Service) resolveLimit(limit *int) (int, string) {
	if limit == nil {
		return s.defaultLimit, ""
	}
	if *limit == 0 {
		return 0, "limit参数不能为0，如需查询数据请使用正数，或不传limit使用默认值"
	}
	if *limit < 0 {
		return 0, fmt.Sprintf("limit参数不能为负数: %d", *limit)
	}
	return *limit, ""
}

// blockedMessage 生成点名越权用户的失败消息，形如 "张三(ID:101)"。
func (s *Service) blockedMessage(ctx context.Context, scope *access.Scope, blocked []int64) string {
	names := s.memberNames(ctx, blocked)
	labels := make([]string, len(blocked))
	for i, id := range blocked {
		if name, ok := names[id]; ok && name != "" {
			labels[i] = fmt.Sprintf("%s(ID:%d)", name, id)
		} else {
			labels[i] = fmt.Sprintf("ID:%d", id)
		}
	}
	if len(scope.AccessibleIDs) == 1 && scope.AccessibleIDs[0] == scope.MemberID {
		return fmt.Sprintf("您仅可查询自身数据，没有用户 %s 的数据查询权限", strings.Join(labels, "、"))
	}
	return fmt.Sprintf("您没有用户 %s 的数据查询权限", strings.Join(labels, "、"))
}

func (s *Service) memberNames(ctx context.Context, ids []int64) map[int64]string {
	type row struct {
		ID       int64  `gorm:"column:id"`
		Nickname string `gorm:"column:nickname"`
	}
	var rows []row
	if err := s.db.WithContext(ctx).
		Table("t_member").
		Select("id", "nickname").
		Where("id IN ?", ids).
		Scan(&rows).Error; err != nil {
		return nil
	}
	out := make(map[int64]string, len(rows))
	for _, r := range rows {
		out[r.ID] = r.Nickname
	}
	return out
}

func toAny(ids []int64) []interface{} {
	out := make([]interface{}, len(ids))
	for i, v := range ids {
		out[i] = v
	}
	return out
}

func toAnyStr(vals []string) []interface{} {
	out := make([]interface{}, len(vals))
	for i, v := range vals {
		out[i] = v
	}
	return out
}
