package sqlbuilder

import (
	"fmt"
	"sort"
	"strings"
)

// sortedKeys 返回 map 的有序键，保证生成的语句是确定性的。
func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BuildInsert 生成单行 INSERT 语句。
func (b *Builder) BuildInsert(table string, row map[string]interface{}) (string, []interface{}, error) {
	return b.BuildBulkInsert(table, []map[string]interface{}{row})
}

// BuildBulkInsert 生成多行 INSERT 语句，列集合取自首行并要求各行一致。
func (b *Builder) BuildBulkInsert(table string, rows []map[string]interface{}) (string, []interface{}, error) {
	if b.err != nil {
		return "", nil, b.err
	}
	if len(rows) == 0 {
		return "", nil, fmt.Errorf("INSERT 至少需要一行数据")
	}
	cols := sortedKeys(rows[0])
	if len(cols) == 0 {
		return "", nil, fmt.Errorf("INSERT 行不能为空")
	}

	var params []interface{}
	valueGroups := make([]string, len(rows))
	marks := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"
	for i, row := range rows {
		if len(row) != len(cols) {
			return "", nil, fmt.Errorf("第 %d 行的列数与首行不一致", i+1)
		}
		for _, c := range cols {
			v, ok := row[c]
			if !ok {
				return "", nil, fmt.Errorf("第 %d 行缺少列 '%s'", i+1, c)
			}
			params = append(params, v)
		}
		valueGroups[i] = marks
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		table, strings.Join(cols, ", "), strings.Join(valueGroups, ", "))

	if len(b.returning) > 0 {
		if b.dialect != PostgreSQL {
			return "", nil, fmt.Errorf("RETURNING 仅支持 postgresql 方言")
		}
		sql += " RETURNING " + strings.Join(b.returning, ", ")
	}
	return b.placeholders(sql), params, nil
}

// BuildUpsert 生成 UPSERT 语句。
// MySQL 使用 ON DUPLICATE KEY UPDATE，PostgreSQL 使用 ON CONFLICT DO UPDATE。
func (b *Builder) BuildUpsert(table string, row map[string]interface{}, conflictColumns, updateColumns []string) (string, []interface{}, error) {
	if b.err != nil {
		return "", nil, b.err
	}
	if len(row) == 0 {
		return "", nil, fmt.Errorf("UPSERT 行不能为空")
	}
	cols := sortedKeys(row)
	var params []interface{}
	for _, c := range cols {
		params = append(params, row[c])
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	base := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), marks)

	if len(updateColumns) == 0 {
		updateColumns = cols
	}

	var sql string
	switch b.dialect {
	case PostgreSQL:
		if len(conflictColumns) == 0 {
			return "", nil, fmt.Errorf("postgresql UPSERT 需要指定冲突列")
		}
		sets := make([]string, len(updateColumns))
		for i, c := range updateColumns {
			sets[i] = fmt.Sprintf("%s = EXCLUDED.%s", c, c)
		}
		sql = fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s",
			base, strings.Join(conflictColumns, ", "), strings.Join(sets, ", "))
	default:
		sets := make([]string, len(updateColumns))
		for i, c := range updateColumns {
			sets[i] = fmt.Sprintf("%s = VALUES(%s)", c, c)
		}
		sql = fmt.Sprintf("%s ON DUPLICATE KEY UPDATE %s", base, strings.Join(sets, ", "))
	}
	return b.placeholders(sql), params, nil
}

// BuildUpdate 生成 UPDATE 语句，WHERE 条件来自构造器上已添加的条件。
func (b *Builder) BuildUpdate(table string, set map[string]interface{}) (string, []interface{}, error) {
	if b.err != nil {
		return "", nil, b.err
	}
	if len(set) == 0 {
		return "", nil, fmt.Errorf("UPDATE 需要至少一个赋值")
	}
	if len(b.wheres) == 0 {
		return "", nil, fmt.Errorf("拒绝生成无 WHERE 条件的 UPDATE")
	}
	cols := sortedKeys(set)
	sets := make([]string, len(cols))
	var params []interface{}
	for i, c := range cols {
		sets[i] = c + " = ?"
		params = append(params, set[c])
	}
	exprs := make([]string, len(b.wheres))
	for i, c := range b.wheres {
		exprs[i] = c.expr
		params = append(params, c.params...)
	}
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s", table, strings.Join(sets, ", "), strings.Join(exprs, " AND "))
	if len(b.returning) > 0 {
		if b.dialect != PostgreSQL {
			return "", nil, fmt.Errorf("RETURNING 仅支持 postgresql 方言")
		}
		sql += " RETURNING " + strings.Join(b.returning, ", ")
	}
	return b.placeholders(sql), params, nil
}

// BuildDelete 生成 DELETE 语句，同样拒绝无条件删除。
func (b *Builder) BuildDelete(table string) (string, []interface{}, error) {
	if b.err != nil {
		return "", nil, b.err
	}
	if len(b.wheres) == 0 {
		return "", nil, fmt.Errorf("拒绝生成无 WHERE 条件的 DELETE")
	}
	exprs := make([]string, len(b.wheres))
	var params []interface{}
	for i, c := range b.wheres {
		exprs[i] = c.expr
		params = append(params, c.params...)
	}
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s", table, strings.Join(exprs, " AND "))
	return b.placeholders(sql), params, nil
}

// Window 添加窗口函数表达式，如 Window("SUM(amount)", []string{"user_id"}, "create_time", "running_total")。
func (b *Builder) Window(fn string, partitionBy []string, orderBy, alias string) *Builder {
	var over []string
	if len(partitionBy) > 0 {
		over = append(over, "PARTITION BY "+strings.Join(partitionBy, ", "))
	}
	if orderBy != "" {
		over = append(over, "ORDER BY "+orderBy)
	}
	expr := fmt.Sprintf("%s OVER (%s)", fn, strings.Join(over, " "))
	if alias != "" {
		expr += " AS " + alias
	}
	return b.SelectExpr(expr)
}

// Lag 添加 LAG 窗口列。
func (b *Builder) Lag(column string, offset int, partitionBy []string, orderBy, alias string) *Builder {
	return b.Window(fmt.Sprintf("LAG(%s, %d)", column, offset), partitionBy, orderBy, alias)
}

// Lead 添加 LEAD 窗口列。
func (b *Builder) Lead(column string, offset int, partitionBy []string, orderBy, alias string) *Builder {
	return b.Window(fmt.Sprintf("LEAD(%s, %d)", column, offset), partitionBy, orderBy, alias)
}

// JSONExtract 添加 JSON 路径抽取列。path 形如 "$.a.b"（MySQL）。
func (b *Builder) JSONExtract(column, path, alias string) *Builder {
	var expr string
	if b.dialect == PostgreSQL {
		parts := strings.Split(strings.TrimPrefix(path, "$."), ".")
		quoted := make([]string, len(parts))
		for i, p := range parts {
			quoted[i] = "'" + p + "'"
		}
		expr = fmt.Sprintf("jsonb_extract_path_text(%s, %s)", column, strings.Join(quoted, ", "))
	} else {
		expr = fmt.Sprintf("JSON_EXTRACT(%s, '%s')", column, path)
	}
	if alias != "" {
		expr += " AS " + alias
	}
	return b.SelectExpr(expr)
}

// WhereJSONContains 添加 JSON 包含条件，目标值走绑定参数。
func (b *Builder) WhereJSONContains(column string, value interface{}) *Builder {
	if b.dialect == PostgreSQL {
		return b.WhereRaw(column+" @> ?", value)
	}
	return b.WhereRaw("JSON_CONTAINS("+column+", ?)", value)
}

// ColumnDef 是建表语句中的一列定义。
type ColumnDef struct {
	Name       string
	Type       string
	NotNull    bool
	PrimaryKey bool
	AutoIncr   bool
	Default    string
}

// BuildCreateTable 生成建表语句。DDL 路径由管理侧服务独占，热路径不使用。
func (b *Builder) BuildCreateTable(table string, columns []ColumnDef, ifNotExists bool) (string, error) {
	if len(columns) == 0 {
		return "", fmt.Errorf("建表至少需要一列")
	}
	defs := make([]string, 0, len(columns))
	var pks []string
	for _, c := range columns {
		def := c.Name + " " + c.Type
		if c.AutoIncr {
			if b.dialect == PostgreSQL {
				def = c.Name + " SERIAL"
			} else {
				def += " AUTO_INCREMENT"
			}
		}
		if c.NotNull {
			def += " NOT NULL"
		}
		if c.Default != "" {
			def += " DEFAULT " + c.Default
		}
		defs = append(defs, def)
		if c.PrimaryKey {
			pks = append(pks, c.Name)
		}
	}
	if len(pks) > 0 {
		defs = append(defs, "PRIMARY KEY ("+strings.Join(pks, ", ")+")")
	}
	exists := ""
	if ifNotExists {
		exists = "IF NOT EXISTS "
	}
	return fmt.Sprintf("CREATE TABLE %s%s (%s)", exists, table, strings.Join(defs, ", ")), nil
}

// AlterAction 是一条 ALTER TABLE 操作。
type AlterAction struct {
	Kind   string // ADD / DROP / MODIFY / RENAME
	Column ColumnDef
	To     string // RENAME 的新名字
}

// BuildAlterTable 生成改表语句。
func (b *Builder) BuildAlterTable(table string, actions []AlterAction) (string, error) {
	if len(actions) == 0 {
		return "", fmt.Errorf("ALTER TABLE 至少需要一个操作")
	}
	parts := make([]string, 0, len(actions))
	for _, a := range actions {
		switch strings.ToUpper(a.Kind) {
		case "ADD":
			def := a.Column.Name + " " + a.Column.Type
			if a.Column.NotNull {
				def += " NOT NULL"
			}
			parts = append(parts, "ADD COLUMN "+def)
		case "DROP":
			parts = append(parts, "DROP COLUMN "+a.Column.Name)
		case "MODIFY":
			if b.dialect == PostgreSQL {
				parts = append(parts, fmt.Sprintf("ALTER COLUMN %s TYPE %s", a.Column.Name, a.Column.Type))
			} else {
				parts = append(parts, fmt.Sprintf("MODIFY COLUMN %s %s", a.Column.Name, a.Column.Type))
			}
		case "RENAME":
			parts = append(parts, fmt.Sprintf("RENAME COLUMN %s TO %s", a.Column.Name, a.To))
		default:
			return "", fmt.Errorf("不支持的 ALTER 操作: %s", a.Kind)
		}
	}
	return fmt.Sprintf("ALTER TABLE %s %s", table, strings.Join(parts, ", ")), nil
}

// BeginSQL 返回开启事务的语句。
func (b *Builder) BeginSQL() string {
	if b.dialect == PostgreSQL {
		return "BEGIN"
	}
	return "START TRANSACTION"
}

// CommitSQL 返回提交事务的语句。
func (b *Builder) CommitSQL() string { return "COMMIT" }

// RollbackSQL 返回回滚事务的语句。
func (b *Builder) RollbackSQL() string { return "ROLLBACK" }

// SavepointSQL 返回创建保存点的语句。
func (b *Builder) SavepointSQL(name string) string { return "SAVEPOINT " + name }
