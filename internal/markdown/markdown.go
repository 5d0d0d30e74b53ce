// Package markdown 将仓库查询结果渲染为 Markdown 表格，并按 token 预算
// 切分为自包含的片段，供 map-reduce 分析阶段使用。
package markdown

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/zlzcms/fx-agent-sub000/internal/token"
)

// fragmentRatio 是单个片段的装配阈值；分段打包使用完整预算。
const fragmentRatio = 0.95

// Fragment 是一张表的一个自包含片段：自带表头，可独立阅读。
type Fragment struct {
	Content   string
	TableName string
	RowCount  int
	ColCount  int
}

// Chunk 是交给 LLM 的一个分析单元，由若干片段打包而成。
type Chunk struct {
	ChunkID      int    `json:"chunk_id"`
	Total        int    `json:"total"`
	Content      string `json:"content_markdown"`
	ApproxTokens int    `json:"approx_tokens"`
	TableName    string `json:"table_name"`
	RowCount     int    `json:"row_count"`
	ColumnCount  int    `json:"column_count"`
}

// DatasetEntry 是数据集中一张逻辑表的查询结果（或失败记录）。
type DatasetEntry struct {
	Name    string
	Columns []string
	Rows    [][]interface{}
	Failed  bool
	Message string
}

// Dataset 是一次数据抓取的全部结果，条目保持查询时的顺序。
type Dataset struct {
	Entries []DatasetEntry
}

// Renderer 持有分块预算和逻辑表/列的中文描述映射。
type Renderer struct {
	splitMaxToken int
	tableNames    map[string]string            // 逻辑表 -> 中文名
	columnNames   map[string]map[string]string // 逻辑表 -> 列 -> 中文描述
}

// NewRenderer 创建渲染器。friendlyTables / friendlyColumns 可为 nil。
func NewRenderer(splitMaxToken int, friendlyTables map[string]string, friendlyColumns map[string]map[string]string) *Renderer {
	if splitMaxToken <= 0 {
		splitMaxToken = 100000
	}
	return &Renderer{
		splitMaxToken: splitMaxToken,
		tableNames:    friendlyTables,
		columnNames:   friendlyColumns,
	}
}

// displayTable 返回逻辑表的展示名，形如 "t_user_op_log(操作日志)"。
func (r *Renderer) displayTable(table string) string {
	if r.tableNames != nil {
		if cn, ok := r.tableNames[table]; ok && cn != "" {
			return fmt.Sprintf("%s(%s)", table, cn)
		}
	}
	return table
}

// displayColumn 返回列的展示名，形如 "email(邮箱)"。
func (r *Renderer) displayColumn(table, column string) string {
	if r.columnNames != nil {
		if cols, ok := r.columnNames[table]; ok {
			if cn, ok := cols[column]; ok && cn != "" {
				return fmt.Sprintf("%s(%s)", column, cn)
			}
		}
	}
	return column
}

// renderCell 渲染单元格：空值渲染为哨兵 `null`，字符串反引号包裹，数字原样。
func renderCell(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "`null`"
	case string:
		return "`" + sanitize(val) + "`"
	case []byte:
		return "`" + sanitize(string(val)) + "`"
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		return "`" + sanitize(fmt.Sprintf("%v", val)) + "`"
	}
}

// sanitize 去掉会破坏表格结构的字符。
func sanitize(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}

// headerLines 生成表头与分隔行。
func (r *Renderer) headerLines(table string, columns []string) string {
	display := make([]string, len(columns))
	seps := make([]string, len(columns))
	for i, col := range columns {
		display[i] = r.displayColumn(table, col)
		seps[i] = "---"
	}
	return "| " + strings.Join(display, " | ") + " |\n" +
		"| " + strings.Join(seps, " | ") + " |\n"
}

func renderRow(row []interface{}) string {
	cells := make([]string, len(row))
	for i, v := range row {
		cells[i] = renderCell(v)
	}
	return "| " + strings.Join(cells, " | ") + " |\n"
}

// RowsToMarkdown 渲染一张表。split 为 false 时恒返回单个片段；
// 为 true 时在累计估算将超过 0.95 倍预算前切出片段，新片段重复表头。
// 所有片段的行集合拼接后与输入行集合完全一致。
func (r *Renderer) RowsToMarkdown(table string, columns []string, rows [][]interface{}, split bool) []Fragment {
	header := r.headerLines(table, columns)
	threshold := int(float64(r.splitMaxToken) * fragmentRatio)

	var fragments []Fragment
	var sb strings.Builder
	sb.WriteString(header)
	current := token.Estimate(header)
	rowCount := 0

	flush := func() {
		fragments = append(fragments, Fragment{
			Content:   sb.String(),
			TableName: table,
			RowCount:  rowCount,
			ColCount:  len(columns),
		})
		sb.Reset()
		sb.WriteString(header)
		current = token.Estimate(header)
		rowCount = 0
	}

	for _, row := range rows {
		line := renderRow(row)
		cost := token.Estimate(line)
		// 单行超预算时仍然整行写入，不截断数据
		if split && rowCount > 0 && current+cost > threshold {
			flush()
		}
		sb.WriteString(line)
		current += cost
		rowCount++
	}
	flush()
	return fragments
}

// sectionPrefix 生成表级小节标题。续片段标注 (续) 以便阅读。
func (r *Renderer) sectionPrefix(table string, totalRows, fragIndex int) string {
	if fragIndex == 0 {
		return fmt.Sprintf("**%s** (共 %d 条记录):\n\n", r.displayTable(table), totalRows)
	}
	return fmt.Sprintf("**%s** (续):\n\n", r.displayTable(table))
}

// renderEntry 将一个数据集条目渲染为带小节标题的片段序列。
func (r *Renderer) renderEntry(entry DatasetEntry) []Fragment {
	if entry.Failed {
		content := fmt.Sprintf("**%s** 查询失败: %s\n", r.displayTable(entry.Name), entry.Message)
		return []Fragment{{Content: content, TableName: entry.Name}}
	}
	frags := r.RowsToMarkdown(entry.Name, entry.Columns, entry.Rows, true)
	for i := range frags {
		frags[i].Content = r.sectionPrefix(entry.Name, len(entry.Rows), i) + frags[i].Content + "\n"
	}
	return frags
}

// DatasetToMarkdown 渲染整个数据集并打包为分段，每段估算不超过预算。
// 片段不会跨段拆分；预算内的数据集恰好产出一段。
func (r *Renderer) DatasetToMarkdown(dataset *Dataset) []string {
	chunks := r.DatasetToChunks(dataset)
	segments := make([]string, len(chunks))
	for i, c := range chunks {
		segments[i] = c.Content
	}
	return segments
}

// DatasetToChunks 与 DatasetToMarkdown 相同，但保留分块元数据。
func (r *Renderer) DatasetToChunks(dataset *Dataset) []Chunk {
	var all []Fragment
	for _, entry := range dataset.Entries {
		all = append(all, r.renderEntry(entry)...)
	}
	if len(all) == 0 {
		return nil
	}

	var chunks []Chunk
	var sb strings.Builder
	var tables []string
	current, rows, cols := 0, 0, 0

	flush := func() {
		if sb.Len() == 0 {
			return
		}
		chunks = append(chunks, Chunk{
			Content:      sb.String(),
			ApproxTokens: current,
			TableName:    strings.Join(tables, ","),
			RowCount:     rows,
			ColumnCount:  cols,
		})
		sb.Reset()
		tables = nil
		current, rows, cols = 0, 0, 0
	}

	for _, frag := range all {
		cost := token.Estimate(frag.Content)
		if sb.Len() > 0 && current+cost > r.splitMaxToken {
			flush()
		}
		sb.WriteString(frag.Content)
		current += cost
		rows += frag.RowCount
		if frag.ColCount > cols {
			cols = frag.ColCount
		}
		if len(tables) == 0 || tables[len(tables)-1] != frag.TableName {
			tables = append(tables, frag.TableName)
		}
	}
	flush()

	for i := range chunks {
		chunks[i].ChunkID = i + 1
		chunks[i].Total = len(chunks)
	}
	return chunks
}
