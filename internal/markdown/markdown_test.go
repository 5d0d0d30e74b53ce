package markdown

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRows(n int) [][]interface{} {
	rows := make([][]interface{}, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, []interface{}{int64(i), "user_" + strings.Repeat("x", 20), 99.5, nil})
	}
	return rows
}

var sampleColumns = []string{"id", "nickname", "balance", "remark"}

func TestRowsToMarkdownNoSplit(t *testing.T) {
	r := NewRenderer(100000, nil, nil)
	frags := r.RowsToMarkdown("t_member", sampleColumns, sampleRows(3), false)
	require.Len(t, frags, 1)

	lines := strings.Split(strings.TrimRight(frags[0].Content, "\n"), "\n")
	// 表头 + 分隔行 + 3 行数据
	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], "id")
	assert.Contains(t, lines[1], "---")
	assert.Equal(t, 3, frags[0].RowCount)
}

func TestNullCellSentinel(t *testing.T) {
	r := NewRenderer(100000, nil, nil)
	frags := r.RowsToMarkdown("t", []string{"a"}, [][]interface{}{{nil}}, false)
	assert.Contains(t, frags[0].Content, "`null`")
}

func TestPipeEscaping(t *testing.T) {
	r := NewRenderer(100000, nil, nil)
	frags := r.RowsToMarkdown("t", []string{"a"}, [][]interface{}{{"x|y\nz"}}, false)
	assert.Contains(t, frags[0].Content, `x\|y z`)
}

func TestFriendlyNames(t *testing.T) {
	tables := map[string]string{"t_member": "用户"}
	columns := map[string]map[string]string{"t_member": {"id": "用户ID"}}
	r := NewRenderer(100000, tables, columns)

	frags := r.RowsToMarkdown("t_member", []string{"id", "email"}, [][]interface{}{{int64(1), "a@b.c"}}, false)
	assert.Contains(t, frags[0].Content, "id(用户ID)")
	assert.Contains(t, frags[0].Content, "| email |")

	ds := &Dataset{Entries: []DatasetEntry{{
		Name: "t_member", Columns: []string{"id"}, Rows: [][]interface{}{{int64(1)}},
	}}}
	segs := r.DatasetToMarkdown(ds)
	require.Len(t, segs, 1)
	assert.Contains(t, segs[0], "**t_member(用户)** (共 1 条记录):")
}

func TestSplitLosslessness(t *testing.T) {
	// 小预算强制多片段
	r := NewRenderer(200, nil, nil)
	rows := sampleRows(40)
	frags := r.RowsToMarkdown("t_member", sampleColumns, rows, true)
	require.Greater(t, len(frags), 1)

	total := 0
	for _, f := range frags {
		total += f.RowCount
		// 每个片段自带表头
		assert.True(t, strings.HasPrefix(f.Content, "| id |"))
		// 数据行数与声明一致
		dataLines := strings.Count(f.Content, "\n") - 2
		assert.Equal(t, f.RowCount, dataLines)
	}
	assert.Equal(t, len(rows), total)

	// 行内容无丢失、无重复
	var joined strings.Builder
	for _, f := range frags {
		lines := strings.SplitAfter(f.Content, "\n")
		joined.WriteString(strings.Join(lines[2:], ""))
	}
	single := r.RowsToMarkdown("t_member", sampleColumns, rows, false)
	singleLines := strings.SplitAfter(single[0].Content, "\n")
	assert.Equal(t, strings.Join(singleLines[2:], ""), joined.String())
}

func TestSplitSingleFragmentMatchesNoSplit(t *testing.T) {
	r := NewRenderer(100000, nil, nil)
	rows := sampleRows(5)
	split := r.RowsToMarkdown("t", sampleColumns, rows, true)
	noSplit := r.RowsToMarkdown("t", sampleColumns, rows, false)
	require.Len(t, split, 1)
	assert.Equal(t, noSplit[0].Content, split[0].Content)
}

func TestDatasetToChunksBudget(t *testing.T) {
	r := NewRenderer(1000, nil, nil)
	ds := &Dataset{Entries: []DatasetEntry{
		{Name: "t_member", Columns: sampleColumns, Rows: sampleRows(20)},
		{Name: "t_member_amount_log", Columns: sampleColumns, Rows: sampleRows(20)},
	}}
	chunks := r.DatasetToChunks(ds)
	require.Greater(t, len(chunks), 1)

	totalRows := 0
	for i, c := range chunks {
		assert.Equal(t, i+1, c.ChunkID)
		assert.Equal(t, len(chunks), c.Total)
		assert.LessOrEqual(t, c.ApproxTokens, 1000)
		totalRows += c.RowCount
	}
	assert.Equal(t, 40, totalRows)
}

func TestDatasetFitsInBudgetSingleSegment(t *testing.T) {
	r := NewRenderer(100000, nil, nil)
	ds := &Dataset{Entries: []DatasetEntry{
		{Name: "t_member", Columns: sampleColumns, Rows: sampleRows(10)},
	}}
	segs := r.DatasetToMarkdown(ds)
	assert.Len(t, segs, 1)
}

func TestFailedEntryRendersMessage(t *testing.T) {
	r := NewRenderer(100000, nil, nil)
	ds := &Dataset{Entries: []DatasetEntry{
		{Name: "t_member", Failed: true, Message: "连接超时"},
	}}
	segs := r.DatasetToMarkdown(ds)
	require.Len(t, segs, 1)
	assert.Contains(t, segs[0], "查询失败")
	assert.Contains(t, segs[0], "连接超时")
}
