// Package sqlbuilder 以类型化方式构造带绑定参数的 SQL。
// 所有值一律成为绑定参数，语句文本中不出现任何用户值；
// 方言在构造时选定，LIMIT/RETURNING/UPSERT 语法随方言切换。
package sqlbuilder

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect 是目标数据库方言。
type Dialect string

const (
	MySQL      Dialect = "mysql"
	PostgreSQL Dialect = "postgresql"
)

// Operator 是 WHERE 条件原语。
type Operator string

const (
	OpEq            Operator = "="
	OpNe            Operator = "<>"
	OpGt            Operator = ">"
	OpGte           Operator = ">="
	OpLt            Operator = "<"
	OpLte           Operator = "<="
	OpLike          Operator = "LIKE"
	OpNotLike       Operator = "NOT LIKE"
	OpIn            Operator = "IN"
	OpNotIn         Operator = "NOT IN"
	OpBetween       Operator = "BETWEEN"
	OpIsNull        Operator = "IS NULL"
	OpIsNotNull     Operator = "IS NOT NULL"
	OpExists        Operator = "EXISTS"
	OpNotExists     Operator = "NOT EXISTS"
	OpInSubquery    Operator = "IN SUBQUERY"
	OpNotInSubquery Operator = "NOT IN SUBQUERY"
)

// Connector 是条件组的内部连接符。
type Connector string

const (
	ConnAnd Connector = "AND"
	ConnOr  Connector = "OR"
	ConnNot Connector = "NOT"
)

// condition 是一段已渲染的条件表达式及其绑定参数，占位符统一为 '?'。
type condition struct {
	expr   string
	params []interface{}
}

// conditionGroup 是命名条件组；applied 保证重复应用是幂等的。
type conditionGroup struct {
	connector  Connector
	conditions []condition
	applied    bool
}

type joinClause struct {
	kind  string // JOIN / LEFT JOIN / RIGHT JOIN / NATURAL JOIN / CROSS JOIN
	table string
	on    string
}

type orderClause struct {
	column string
	desc   bool
}

type cte struct {
	name      string
	columns   []string
	sql       string
	params    []interface{}
	recursive bool
}

// Builder 是一次性使用的 SQL 构造器。
type Builder struct {
	dialect      Dialect
	columns      []string
	selectParams []interface{}
	table        string
	joins     []joinClause
	wheres    []condition
	groups    map[string]*conditionGroup
	groupBy   []string
	rollup    []string
	cube      []string
	grouping  [][]string
	having    []condition
	orders    []orderClause
	limit     *int
	offset    *int
	returning []string
	ctes      []cte
	err       error
}

// New 创建指定方言的构造器。
func New(dialect Dialect) *Builder {
	return &Builder{
		dialect: dialect,
		groups:  map[string]*conditionGroup{},
	}
}

func (b *Builder) setErr(err error) *Builder {
	if b.err == nil {
		b.err = err
	}
	return b
}

// Select 指定查询列；不调用时默认 '*'。
func (b *Builder) Select(columns ...string) *Builder {
	b.columns = append(b.columns, columns...)
	return b
}

// SelectExpr 添加一个带参数的查询表达式（窗口函数、JSON 抽取等）。
// 表达式参数出现在 SELECT 列表中，构建时排在 WHERE 参数之前。
func (b *Builder) SelectExpr(expr string, params ...interface{}) *Builder {
	b.columns = append(b.columns, expr)
	b.selectParams = append(b.selectParams, params...)
	return b
}

// From 指定主表。
func (b *Builder) From(table string) *Builder {
	b.table = table
	return b
}

// Join 添加内连接。
func (b *Builder) Join(table, on string) *Builder {
	b.joins = append(b.joins, joinClause{kind: "JOIN", table: table, on: on})
	return b
}

// LeftJoin 添加左连接。
func (b *Builder) LeftJoin(table, on string) *Builder {
	b.joins = append(b.joins, joinClause{kind: "LEFT JOIN", table: table, on: on})
	return b
}

// RightJoin 添加右连接。
func (b *Builder) RightJoin(table, on string) *Builder {
	b.joins = append(b.joins, joinClause{kind: "RIGHT JOIN", table: table, on: on})
	return b
}

// NaturalJoin 添加自然连接。
func (b *Builder) NaturalJoin(table string) *Builder {
	b.joins = append(b.joins, joinClause{kind: "NATURAL JOIN", table: table})
	return b
}

// CrossJoin 添加交叉连接。
func (b *Builder) CrossJoin(table string) *Builder {
	b.joins = append(b.joins, joinClause{kind: "CROSS JOIN", table: table})
	return b
}

// renderCondition 将一个条件原语渲染为表达式与参数。
func (b *Builder) renderCondition(column string, op Operator, values ...interface{}) (condition, error) {
	switch op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpLike, OpNotLike:
		if len(values) != 1 {
			return condition{}, fmt.Errorf("操作符 %s 需要恰好 1 个值，收到 %d 个", op, len(values))
		}
		return condition{expr: fmt.Sprintf("%s %s ?", column, op), params: values}, nil
	case OpIn, OpNotIn:
		if len(values) == 0 {
			// 空 IN 恒为假，空 NOT IN 恒为真
			if op == OpIn {
				return condition{expr: "1 = 0"}, nil
			}
			return condition{expr: "1 = 1"}, nil
		}
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
		return condition{expr: fmt.Sprintf("%s %s (%s)", column, op, marks), params: values}, nil
	case OpBetween:
		if len(values) != 2 {
			return condition{}, fmt.Errorf("BETWEEN 需要 2 个值，收到 %d 个", len(values))
		}
		return condition{expr: fmt.Sprintf("%s BETWEEN ? AND ?", column), params: values}, nil
	case OpIsNull, OpIsNotNull:
		return condition{expr: fmt.Sprintf("%s %s", column, op)}, nil
	case OpExists, OpNotExists:
		sub, err := subquery(values)
		if err != nil {
			return condition{}, err
		}
		kw := "EXISTS"
		if op == OpNotExists {
			kw = "NOT EXISTS"
		}
		return condition{expr: fmt.Sprintf("%s (%s)", kw, sub.sql), params: sub.params}, nil
	case OpInSubquery, OpNotInSubquery:
		sub, err := subquery(values)
		if err != nil {
			return condition{}, err
		}
		kw := "IN"
		if op == OpNotInSubquery {
			kw = "NOT IN"
		}
		return condition{expr: fmt.Sprintf("%s %s (%s)", column, kw, sub.sql), params: sub.params}, nil
	default:
		return condition{}, fmt.Errorf("不支持的操作符: %s", op)
	}
}

type builtSub struct {
	sql    string
	params []interface{}
}

// subquery 把子查询构造器展开为占位符形式的 SQL 片段。
func subquery(values []interface{}) (builtSub, error) {
	if len(values) != 1 {
		return builtSub{}, fmt.Errorf("子查询操作符需要恰好 1 个 *Builder")
	}
	sb, ok := values[0].(*Builder)
	if !ok {
		return builtSub{}, fmt.Errorf("子查询操作符的值必须是 *Builder，收到 %T", values[0])
	}
	sql, params, err := sb.buildSelectRaw()
	if err != nil {
		return builtSub{}, fmt.Errorf("构建子查询失败: %w", err)
	}
	return builtSub{sql: sql, params: params}, nil
}

// Where 添加一个 WHERE 条件，多个条件以 AND 连接。
func (b *Builder) Where(column string, op Operator, values ...interface{}) *Builder {
	cond, err := b.renderCondition(column, op, values...)
	if err != nil {
		return b.setErr(err)
	}
	b.wheres = append(b.wheres, cond)
	return b
}

// WhereRaw 添加一段已含 '?' 占位符的条件表达式。
// 仅限内部拼装（如范围条件组合）使用，值仍然全部走绑定参数。
func (b *Builder) WhereRaw(expr string, params ...interface{}) *Builder {
	b.wheres = append(b.wheres, condition{expr: expr, params: params})
	return b
}

// CreateGroup 创建命名条件组。重名创建会被忽略，保持已有条件。
func (b *Builder) CreateGroup(name string, connector Connector) *Builder {
	if _, exists := b.groups[name]; !exists {
		b.groups[name] = &conditionGroup{connector: connector}
	}
	return b
}

// GroupWhere 向命名条件组添加条件。
func (b *Builder) GroupWhere(name, column string, op Operator, values ...interface{}) *Builder {
	g, exists := b.groups[name]
	if !exists {
		return b.setErr(fmt.Errorf("条件组 '%s' 不存在", name))
	}
	cond, err := b.renderCondition(column, op, values...)
	if err != nil {
		return b.setErr(err)
	}
	g.conditions = append(g.conditions, cond)
	return b
}

// ApplyGroup 将条件组并入 WHERE 子句。重复应用是幂等的。
func (b *Builder) ApplyGroup(name string) *Builder {
	g, exists := b.groups[name]
	if !exists {
		return b.setErr(fmt.Errorf("条件组 '%s' 不存在", name))
	}
	if g.applied || len(g.conditions) == 0 {
		return b
	}
	g.applied = true

	inner := make([]string, len(g.conditions))
	var params []interface{}
	for i, c := range g.conditions {
		inner[i] = c.expr
		params = append(params, c.params...)
	}
	var expr string
	switch g.connector {
	case ConnOr:
		expr = "(" + strings.Join(inner, " OR ") + ")"
	case ConnNot:
		expr = "NOT (" + strings.Join(inner, " AND ") + ")"
	default:
		expr = "(" + strings.Join(inner, " AND ") + ")"
	}
	b.wheres = append(b.wheres, condition{expr: expr, params: params})
	return b
}

// GroupBy 添加分组列。
func (b *Builder) GroupBy(columns ...string) *Builder {
	b.groupBy = append(b.groupBy, columns...)
	return b
}

// Rollup 使用 ROLLUP 分组。
func (b *Builder) Rollup(columns ...string) *Builder {
	b.rollup = columns
	return b
}

// Cube 使用 CUBE 分组（仅 PostgreSQL）。
func (b *Builder) Cube(columns ...string) *Builder {
	b.cube = columns
	return b
}

// GroupingSets 使用 GROUPING SETS 分组（仅 PostgreSQL）。
func (b *Builder) GroupingSets(sets ...[]string) *Builder {
	b.grouping = sets
	return b
}

// Having 添加 HAVING 条件，表达式使用 '?' 占位符。
func (b *Builder) Having(expr string, params ...interface{}) *Builder {
	b.having = append(b.having, condition{expr: expr, params: params})
	return b
}

// OrderBy 添加升序排序列。
func (b *Builder) OrderBy(column string) *Builder {
	b.orders = append(b.orders, orderClause{column: column})
	return b
}

// OrderByDesc 添加降序排序列。
func (b *Builder) OrderByDesc(column string) *Builder {
	b.orders = append(b.orders, orderClause{column: column, desc: true})
	return b
}

// Limit 设置行数上限。
func (b *Builder) Limit(n int) *Builder {
	b.limit = &n
	return b
}

// Offset 设置偏移量。
func (b *Builder) Offset(n int) *Builder {
	b.offset = &n
	return b
}

// Returning 设置 RETURNING 列（仅 PostgreSQL）。
func (b *Builder) Returning(columns ...string) *Builder {
	b.returning = append(b.returning, columns...)
	return b
}

// With 添加一个公共表表达式。
func (b *Builder) With(name string, sub *Builder) *Builder {
	sql, params, err := sub.buildSelectRaw()
	if err != nil {
		return b.setErr(fmt.Errorf("构建 CTE '%s' 失败: %w", name, err))
	}
	b.ctes = append(b.ctes, cte{name: name, sql: sql, params: params})
	return b
}

// WithRecursive 添加一个递归 CTE：base UNION ALL recursive。
func (b *Builder) WithRecursive(name string, columns []string, base, recursive *Builder) *Builder {
	baseSQL, baseParams, err := base.buildSelectRaw()
	if err != nil {
		return b.setErr(fmt.Errorf("构建递归 CTE '%s' 基础查询失败: %w", name, err))
	}
	recSQL, recParams, err := recursive.buildSelectRaw()
	if err != nil {
		return b.setErr(fmt.Errorf("构建递归 CTE '%s' 递归查询失败: %w", name, err))
	}
	b.ctes = append(b.ctes, cte{
		name:      name,
		columns:   columns,
		sql:       baseSQL + " UNION ALL " + recSQL,
		params:    append(baseParams, recParams...),
		recursive: true,
	})
	return b
}

// buildSelectRaw 生成占位符统一为 '?' 的 SELECT 语句。
func (b *Builder) buildSelectRaw() (string, []interface{}, error) {
	if b.err != nil {
		return "", nil, b.err
	}
	if b.table == "" {
		return "", nil, fmt.Errorf("未指定查询表")
	}

	var sb strings.Builder
	var params []interface{}

	// CTE
	if len(b.ctes) > 0 {
		sb.WriteString("WITH ")
		hasRecursive := false
		for _, c := range b.ctes {
			if c.recursive {
				hasRecursive = true
			}
		}
		if hasRecursive {
			sb.WriteString("RECURSIVE ")
		}
		parts := make([]string, len(b.ctes))
		for i, c := range b.ctes {
			head := c.name
			if len(c.columns) > 0 {
				head += " (" + strings.Join(c.columns, ", ") + ")"
			}
			parts[i] = head + " AS (" + c.sql + ")"
			params = append(params, c.params...)
		}
		sb.WriteString(strings.Join(parts, ", "))
		sb.WriteString(" ")
	}

	// SELECT
	cols := "*"
	if len(b.columns) > 0 {
		cols = strings.Join(b.columns, ", ")
	}
	sb.WriteString("SELECT " + cols + " FROM " + b.table)
	params = append(params, b.selectParams...)

	// JOIN
	for _, j := range b.joins {
		sb.WriteString(" " + j.kind + " " + j.table)
		if j.on != "" {
			sb.WriteString(" ON " + j.on)
		}
	}

	// WHERE
	if len(b.wheres) > 0 {
		exprs := make([]string, len(b.wheres))
		for i, c := range b.wheres {
			exprs[i] = c.expr
			params = append(params, c.params...)
		}
		sb.WriteString(" WHERE " + strings.Join(exprs, " AND "))
	}

	// GROUP BY 及其变体
	switch {
	case len(b.grouping) > 0:
		sets := make([]string, len(b.grouping))
		for i, s := range b.grouping {
			sets[i] = "(" + strings.Join(s, ", ") + ")"
		}
		sb.WriteString(" GROUP BY GROUPING SETS (" + strings.Join(sets, ", ") + ")")
	case len(b.cube) > 0:
		sb.WriteString(" GROUP BY CUBE (" + strings.Join(b.cube, ", ") + ")")
	case len(b.rollup) > 0:
		if b.dialect == MySQL {
			sb.WriteString(" GROUP BY " + strings.Join(b.rollup, ", ") + " WITH ROLLUP")
		} else {
			sb.WriteString(" GROUP BY ROLLUP (" + strings.Join(b.rollup, ", ") + ")")
		}
	case len(b.groupBy) > 0:
		sb.WriteString(" GROUP BY " + strings.Join(b.groupBy, ", "))
	}

	// HAVING
	if len(b.having) > 0 {
		exprs := make([]string, len(b.having))
		for i, c := range b.having {
			exprs[i] = c.expr
			params = append(params, c.params...)
		}
		sb.WriteString(" HAVING " + strings.Join(exprs, " AND "))
	}

	// ORDER BY
	if len(b.orders) > 0 {
		parts := make([]string, len(b.orders))
		for i, o := range b.orders {
			if o.desc {
				parts[i] = o.column + " DESC"
			} else {
				parts[i] = o.column + " ASC"
			}
		}
		sb.WriteString(" ORDER BY " + strings.Join(parts, ", "))
	}

	// LIMIT / OFFSET
	if b.limit != nil {
		sb.WriteString(" LIMIT " + strconv.Itoa(*b.limit))
	}
	if b.offset != nil {
		sb.WriteString(" OFFSET " + strconv.Itoa(*b.offset))
	}

	return sb.String(), params, nil
}

// BuildSelect 生成最终 SELECT 语句，占位符按方言转换。
func (b *Builder) BuildSelect() (string, []interface{}, error) {
	sql, params, err := b.buildSelectRaw()
	if err != nil {
		return "", nil, err
	}
	return b.placeholders(sql), params, nil
}

// placeholders 将统一的 '?' 占位符转换为方言形式。
func (b *Builder) placeholders(sql string) string {
	if b.dialect != PostgreSQL {
		return sql
	}
	var sb strings.Builder
	n := 0
	for _, r := range sql {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
