package sqlbuilder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBasicSelect(t *testing.T) {
	sql, params, err := New(MySQL).
		Select("id", "nickname").
		From("t_member").
		Where("userType", OpEq, "staff").
		OrderByDesc("create_time").
		Limit(100).
		BuildSelect()
	require.NoError(t, err)
	assert.Equal(t, "SELECT id, nickname FROM t_member WHERE userType = ? ORDER BY create_time DESC LIMIT 100", sql)
	assert.Equal(t, []interface{}{"staff"}, params)
}

func TestNoValueInterpolation(t *testing.T) {
	// 恶意值只会成为绑定参数，绝不出现在语句文本里
	evil := "1; DROP TABLE t_member--"
	sql, params, err := New(MySQL).
		From("t_member").
		Where("nickname", OpEq, evil).
		Where("email", OpLike, "%"+evil+"%").
		BuildSelect()
	require.NoError(t, err)
	assert.NotContains(t, sql, "DROP TABLE")
	assert.Len(t, params, 2)
}

func TestOperators(t *testing.T) {
	tests := []struct {
		name   string
		op     Operator
		values []interface{}
		expr   string
		params int
	}{
		{"in", OpIn, []interface{}{1, 2, 3}, "id IN (?, ?, ?)", 3},
		{"not in", OpNotIn, []interface{}{1}, "id NOT IN (?)", 1},
		{"between", OpBetween, []interface{}{"2026-01-01", "2026-01-31"}, "id BETWEEN ? AND ?", 2},
		{"is null", OpIsNull, nil, "id IS NULL", 0},
		{"is not null", OpIsNotNull, nil, "id IS NOT NULL", 0},
		{"gte", OpGte, []interface{}{10}, "id >= ?", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, params, err := New(MySQL).From("t").Where("id", tt.op, tt.values...).BuildSelect()
			require.NoError(t, err)
			assert.Contains(t, sql, tt.expr)
			assert.Len(t, params, tt.params)
		})
	}
}

func TestEmptyInAlwaysFalse(t *testing.T) {
	sql, params, err := New(MySQL).From("t").Where("id", OpIn).BuildSelect()
	require.NoError(t, err)
	assert.Contains(t, sql, "1 = 0")
	assert.Empty(t, params)
}

func TestJoins(t *testing.T) {
	sql, _, err := New(MySQL).
		Select("m.id", "p.path").
		From("t_member m").
		LeftJoin("t_member_root_path p", "p.member_id = m.id").
		CrossJoin("t_flags f").
		BuildSelect()
	require.NoError(t, err)
	assert.Contains(t, sql, "LEFT JOIN t_member_root_path p ON p.member_id = m.id")
	assert.Contains(t, sql, "CROSS JOIN t_flags f")
}

func TestConditionGroupIdempotent(t *testing.T) {
	b := New(MySQL).From("t_member").
		CreateGroup("scope", ConnOr).
		GroupWhere("scope", "member_id", OpEq, int64(15)).
		GroupWhere("scope", "path", OpLike, "1,15,%")

	// 应用两次，效果等同一次
	b.ApplyGroup("scope").ApplyGroup("scope")

	sql, params, err := b.BuildSelect()
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(sql, "member_id = ?"))
	assert.Equal(t, "SELECT * FROM t_member WHERE (member_id = ? OR path LIKE ?)", sql)
	assert.Len(t, params, 2)
}

func TestNotGroup(t *testing.T) {
	sql, _, err := New(MySQL).From("t").
		CreateGroup("excl", ConnNot).
		GroupWhere("excl", "status", OpEq, "deleted").
		ApplyGroup("excl").
		BuildSelect()
	require.NoError(t, err)
	assert.Contains(t, sql, "NOT (status = ?)")
}

func TestSubqueries(t *testing.T) {
	sub := New(MySQL).Select("member_id").From("t_member_root_path").Where("path", OpLike, "1,15,%")
	sql, params, err := New(MySQL).
		From("t_member").
		Where("id", OpInSubquery, sub).
		BuildSelect()
	require.NoError(t, err)
	assert.Contains(t, sql, "id IN (SELECT member_id FROM t_member_root_path WHERE path LIKE ?)")
	assert.Equal(t, []interface{}{"1,15,%"}, params)
}

func TestExists(t *testing.T) {
	sub := New(MySQL).Select("1").From("t_login_log l").WhereRaw("l.member_id = m.id")
	sql, _, err := New(MySQL).From("t_member m").Where("", OpExists, sub).BuildSelect()
	require.NoError(t, err)
	assert.Contains(t, sql, "EXISTS (SELECT 1 FROM t_login_log l WHERE l.member_id = m.id)")
}

func TestGroupByRollupHaving(t *testing.T) {
	sql, params, err := New(MySQL).
		Select("userType", "COUNT(*) AS cnt").
		From("t_member").
		Rollup("userType").
		Having("COUNT(*) > ?", 10).
		BuildSelect()
	require.NoError(t, err)
	assert.Contains(t, sql, "GROUP BY userType WITH ROLLUP")
	assert.Contains(t, sql, "HAVING COUNT(*) > ?")
	assert.Equal(t, []interface{}{10}, params)

	pg, _, err := New(PostgreSQL).Select("userType").From("t_member").Rollup("userType").BuildSelect()
	require.NoError(t, err)
	assert.Contains(t, pg, "GROUP BY ROLLUP (userType)")
}

func TestPostgresPlaceholders(t *testing.T) {
	sql, params, err := New(PostgreSQL).
		From("t_member").
		Where("id", OpIn, 1, 2).
		Where("email", OpEq, "a@b.c").
		BuildSelect()
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t_member WHERE id IN ($1, $2) AND email = $3", sql)
	assert.Len(t, params, 3)
}

func TestCTE(t *testing.T) {
	sub := New(MySQL).Select("id").From("t_member").Where("admin", OpEq, 1)
	sql, params, err := New(MySQL).
		With("admins", sub).
		From("admins").
		BuildSelect()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sql, "WITH admins AS (SELECT id FROM t_member WHERE admin = ?)"))
	assert.Len(t, params, 1)
}

func TestRecursiveCTE(t *testing.T) {
	base := New(MySQL).Select("id", "parent_id").From("t_member").Where("id", OpEq, int64(15))
	rec := New(MySQL).Select("m.id", "m.parent_id").From("t_member m").Join("tree t", "m.parent_id = t.id")
	sql, _, err := New(MySQL).
		WithRecursive("tree", []string{"id", "parent_id"}, base, rec).
		From("tree").
		BuildSelect()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sql, "WITH RECURSIVE tree (id, parent_id) AS ("))
	assert.Contains(t, sql, "UNION ALL")
}

func TestWindowFunctions(t *testing.T) {
	sql, _, err := New(MySQL).
		Select("id").
		Window("SUM(amount)", []string{"member_id"}, "create_time", "running_total").
		Lag("amount", 1, []string{"member_id"}, "create_time", "prev_amount").
		From("t_amount_log").
		BuildSelect()
	require.NoError(t, err)
	assert.Contains(t, sql, "SUM(amount) OVER (PARTITION BY member_id ORDER BY create_time) AS running_total")
	assert.Contains(t, sql, "LAG(amount, 1) OVER (PARTITION BY member_id ORDER BY create_time) AS prev_amount")
}

func TestJSONHelpers(t *testing.T) {
	sql, params, err := New(MySQL).
		JSONExtract("properties", "$.risk.level", "risk_level").
		From("t_agent_report").
		WhereJSONContains("files", `{"ext":"md"}`).
		BuildSelect()
	require.NoError(t, err)
	assert.Contains(t, sql, "JSON_EXTRACT(properties, '$.risk.level') AS risk_level")
	assert.Contains(t, sql, "JSON_CONTAINS(files, ?)")
	assert.Equal(t, []interface{}{`{"ext":"md"}`}, params)
}

func TestBulkInsert(t *testing.T) {
	rows := []map[string]interface{}{
		{"id": 1, "nickname": "a"},
		{"id": 2, "nickname": "b"},
	}
	sql, params, err := New(MySQL).BuildBulkInsert("t_member", rows)
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO t_member (id, nickname) VALUES (?, ?), (?, ?)", sql)
	assert.Equal(t, []interface{}{1, "a", 2, "b"}, params)
}

func TestUpsertDialects(t *testing.T) {
	row := map[string]interface{}{"id": 1, "nickname": "a"}

	mysqlSQL, _, err := New(MySQL).BuildUpsert("t_member", row, nil, []string{"nickname"})
	require.NoError(t, err)
	assert.Contains(t, mysqlSQL, "ON DUPLICATE KEY UPDATE nickname = VALUES(nickname)")

	pgSQL, _, err := New(PostgreSQL).BuildUpsert("t_member", row, []string{"id"}, []string{"nickname"})
	require.NoError(t, err)
	assert.Contains(t, pgSQL, "ON CONFLICT (id) DO UPDATE SET nickname = EXCLUDED.nickname")
}

func TestUpdateRequiresWhere(t *testing.T) {
	_, _, err := New(MySQL).BuildUpdate("t_member", map[string]interface{}{"nickname": "x"})
	assert.Error(t, err)

	sql, params, err := New(MySQL).
		Where("id", OpEq, 1).
		BuildUpdate("t_member", map[string]interface{}{"nickname": "x"})
	require.NoError(t, err)
	assert.Equal(t, "UPDATE t_member SET nickname = ? WHERE id = ?", sql)
	assert.Equal(t, []interface{}{"x", 1}, params)
}

func TestDeleteRequiresWhere(t *testing.T) {
	_, _, err := New(MySQL).BuildDelete("t_member")
	assert.Error(t, err)
}

func TestReturningMySQLRejected(t *testing.T) {
	_, _, err := New(MySQL).Returning("id").BuildInsert("t", map[string]interface{}{"a": 1})
	assert.Error(t, err)

	sql, _, err := New(PostgreSQL).Returning("id").BuildInsert("t", map[string]interface{}{"a": 1})
	require.NoError(t, err)
	assert.Contains(t, sql, "RETURNING id")
}

func TestCreateTable(t *testing.T) {
	sql, err := New(MySQL).BuildCreateTable("t_agent_report", []ColumnDef{
		{Name: "id", Type: "BIGINT", PrimaryKey: true, AutoIncr: true},
		{Name: "title", Type: "VARCHAR(255)", NotNull: true},
	}, true)
	require.NoError(t, err)
	assert.Contains(t, sql, "CREATE TABLE IF NOT EXISTS t_agent_report")
	assert.Contains(t, sql, "id BIGINT AUTO_INCREMENT")
	assert.Contains(t, sql, "PRIMARY KEY (id)")
}

func TestTransactionControl(t *testing.T) {
	b := New(MySQL)
	assert.Equal(t, "START TRANSACTION", b.BeginSQL())
	assert.Equal(t, "COMMIT", b.CommitSQL())
	assert.Equal(t, "ROLLBACK", b.RollbackSQL())
	assert.Equal(t, "SAVEPOINT sp1", b.SavepointSQL("sp1"))
	assert.Equal(t, "BEGIN", New(PostgreSQL).BeginSQL())
}
