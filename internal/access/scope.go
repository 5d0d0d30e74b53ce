// Package access 负责行级访问范围判定：管理员可见全部数据，
// 员工可见组织树上以自身为根的子树，代理与直客仅可见自身。
package access

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"github.com/zlzcms/fx-agent-sub000/internal/models"
	"github.com/zlzcms/fx-agent-sub000/internal/sqlbuilder"
	"github.com/zlzcms/fx-agent-sub000/pkg/logger"
)

// Scope 是一次访问范围判定的结果。
// AccessibleIDs 为 nil 且 IsAdmin 为真时表示不受限（ALL）。
type Scope struct {
	Exists        bool              `json:"exists"`
	IsAdmin       bool              `json:"is_admin"`
	UserType      models.MemberType `json:"user_type"`
	MemberID      int64             `json:"crm_member_id"`
	Nickname      string            `json:"nickname"`
	AccessibleIDs []int64           `json:"accessible_member_ids"`
}

// AllowsAll 返回该范围是否不受限。
func (s *Scope) AllowsAll() bool {
	return s.IsAdmin
}

// Contains 判断给定成员是否在可见范围内。
func (s *Scope) Contains(id int64) bool {
	if s.IsAdmin {
		return true
	}
	for _, v := range s.AccessibleIDs {
		if v == id {
			return true
		}
	}
	return false
}

// Restrict 将候选集合划分为范围内与范围外两部分，顺序保持输入顺序。
// 调用方用 blocked 非空来识别越权请求。
func (s *Scope) Restrict(candidates []int64) (allowed, blocked []int64) {
	if s.IsAdmin {
		return candidates, nil
	}
	for _, id := range candidates {
		if s.Contains(id) {
			allowed = append(allowed, id)
		} else {
			blocked = append(blocked, id)
		}
	}
	return allowed, blocked
}

// Resolver 从数据仓库解析访问范围，并用 Redis 做短期缓存。
type Resolver struct {
	db    *gorm.DB
	cache *redis.Client
	ttl   time.Duration
	log   *logger.Logger
}

// NewResolver 创建解析器。cache 可为 nil，此时每次都直查仓库。
func NewResolver(db *gorm.DB, cache *redis.Client, ttlSeconds int, log *logger.Logger) *Resolver {
	if ttlSeconds <= 0 {
		ttlSeconds = 3600
	}
	return &Resolver{
		db:    db,
		cache: cache,
		ttl:   time.Duration(ttlSeconds) * time.Second,
		log:   log,
	}
}

func cacheKey(crmUserID int64) string {
	return fmt.Sprintf("agent:scope:%d", crmUserID)
}

// Resolve 返回调用者的访问范围。成员不存在时返回 Exists=false 而非错误。
func (r *Resolver) Resolve(ctx context.Context, crmUserID int64) (*Scope, error) {
	if cached := r.fromCache(ctx, crmUserID); cached != nil {
		return cached, nil
	}

	scope, err := r.resolveFromWarehouse(ctx, crmUserID)
	if err != nil {
		return nil, err
	}
	r.toCache(ctx, crmUserID, scope)
	return scope, nil
}

func (r *Resolver) resolveFromWarehouse(ctx context.Context, crmUserID int64) (*Scope, error) {
	var member models.Member
	err := r.db.WithContext(ctx).
		Select("id", "nickname", "userType", "admin").
		Where("id = ?", crmUserID).
		First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &Scope{Exists: false, MemberID: crmUserID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询成员信息失败: %w", err)
	}

	scope := &Scope{
		Exists:   true,
		MemberID: member.ID,
		Nickname: member.Nickname,
		UserType: models.MemberType(member.UserType),
	}

	// 管理员不受限
	if member.Admin == 1 {
		scope.IsAdmin = true
		scope.UserType = models.MemberTypeAdmin
		return scope, nil
	}

	if scope.UserType == models.MemberTypeStaff {
		ids, err := r.staffSubtree(ctx, member.ID)
		if err != nil {
			return nil, err
		}
		scope.AccessibleIDs = ids
		return scope, nil
	}

	// agent / direct / 未知类型仅可见自身
	scope.AccessibleIDs = []int64{member.ID}
	return scope, nil
}

// staffSubtree 返回员工可见的子树成员集合（含自身）。
// 路径表缺失记录时退化为仅自身。
func (r *Resolver) staffSubtree(ctx context.Context, memberID int64) ([]int64, error) {
	var pathRow models.MemberRootPath
	err := r.db.WithContext(ctx).Where("member_id = ?", memberID).First(&pathRow).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return []int64{memberID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询成员路径失败: %w", err)
	}

	// member_id = 自身 OR path 以自身路径为前缀
	sql, params, err := sqlbuilder.New(sqlbuilder.MySQL).
		Select("member_id").
		From(models.MemberRootPath{}.TableName()).
		CreateGroup("subtree", sqlbuilder.ConnOr).
		GroupWhere("subtree", "member_id", sqlbuilder.OpEq, memberID).
		GroupWhere("subtree", "path", sqlbuilder.OpLike, pathRow.Path+",%").
		ApplyGroup("subtree").
		BuildSelect()
	if err != nil {
		return nil, fmt.Errorf("构建子树查询失败: %w", err)
	}

	var ids []int64
	if err := r.db.WithContext(ctx).Raw(sql, params...).Scan(&ids).Error; err != nil {
		return nil, fmt.Errorf("查询子树成员失败: %w", err)
	}
	if len(ids) == 0 {
		ids = []int64{memberID}
	}
	return ids, nil
}

// RestrictTo 解析范围后划分候选集合，用于逐 id 的授权判定。
func (r *Resolver) RestrictTo(ctx context.Context, crmUserID int64, candidates []int64) (allowed, blocked []int64, err error) {
	scope, err := r.Resolve(ctx, crmUserID)
	if err != nil {
		return nil, nil, err
	}
	if !scope.Exists {
		return nil, candidates, nil
	}
	allowed, blocked = scope.Restrict(candidates)
	return allowed, blocked, nil
}

func (r *Resolver) fromCache(ctx context.Context, crmUserID int64) *Scope {
	if r.cache == nil {
		return nil
	}
	raw, err := r.cache.Get(ctx, cacheKey(crmUserID)).Bytes()
	if err != nil {
		return nil
	}
	var scope Scope
	if err := json.Unmarshal(raw, &scope); err != nil {
		return nil
	}
	return &scope
}

func (r *Resolver) toCache(ctx context.Context, crmUserID int64, scope *Scope) {
	if r.cache == nil {
		return
	}
	raw, err := json.Marshal(scope)
	if err != nil {
		return
	}
	// 缓存失败不阻断判定
	if err := r.cache.Set(ctx, cacheKey(crmUserID), raw, r.ttl).Err(); err != nil && r.log != nil {
		r.log.Warnf("写入访问范围缓存失败: %v", err)
	}
}
