package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int { return &n }

func TestRequireCRMUserID(t *testing.T) {
	s := NewService(nil, nil, 100, nil)

	resp := s.GetUser(context.Background(), &Request{})
	require.False(t, resp.Success)
	assert.Contains(t, resp.Message, "crm_user_id")
	assert.Empty(t, resp.Data)

	resp = s.GetUser(context.Background(), nil)
	assert.False(t, resp.Success)
}

func TestLimitPolicy(t *testing.T) {
	s := NewService(nil, nil, 100, nil)

	// limit=0 拒绝
	resp := s.GetUser(context.Background(), &Request{CRMUserID: 1, Limit: intPtr(0)})
	require.False(t, resp.Success)
	assert.Contains(t, resp.Message, "limit参数不能为0")

	// 负数拒绝
	resp = s.GetUser(context.Background(), &Request{CRMUserID: 1, Limit: intPtr(-5)})
	require.False(t, resp.Success)
	assert.Contains(t, resp.Message, "不能为负数")

	// 未指定回退默认值
	n, msg := s.resolveLimit(nil)
	assert.Empty(t, msg)
	assert.Equal(t, 100, n)

	n, msg = s.resolveLimit(intPtr(50))
	assert.Empty(t, msg)
	assert.Equal(t, 50, n)
}

func TestUnknownQueryType(t *testing.T) {
	s := NewService(nil, nil, 100, nil)
	resp := s.Query(context.Background(), "get_secret_table", &Request{CRMUserID: 1})
	require.False(t, resp.Success)
	assert.Contains(t, resp.Message, "未知的查询类型")
}

func TestQueryTypesCatalog(t *testing.T) {
	s := NewService(nil, nil, 100, nil)
	types := s.QueryTypes()
	assert.Len(t, types, 6)
	assert.Contains(t, types, "get_user")
	assert.Contains(t, types, "get_user_amount_log")

	names := FriendlyTableNames()
	assert.Equal(t, "资金流水", names["get_user_amount_log"])
}

func TestFailureResponseShape(t *testing.T) {
	resp := failure("get_user", "boom")
	assert.False(t, resp.Success)
	assert.NotNil(t, resp.Data)
	require.NotNil(t, resp.Metadata)
	assert.Equal(t, "get_user", resp.Metadata.QueryType)
	assert.NotEmpty(t, resp.Metadata.Timestamp)
}
