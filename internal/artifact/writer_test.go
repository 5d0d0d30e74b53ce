package artifact

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWriter(t *testing.T) *Writer {
	return NewWriter("crm", t.TempDir(), "/api/v1/home/static/files", nil)
}

func TestWriteMarkdown(t *testing.T) {
	w := newTestWriter(t)
	res := w.WriteMarkdown("# 报告\n\n内容", "task-1", "analysis")

	require.True(t, res.Success)
	assert.Equal(t, "analysis.md", res.Filename)
	assert.Equal(t, "task-1", res.TaskID)
	assert.Equal(t, "crm", res.DataSource)
	assert.Greater(t, res.FileSize, int64(0))
	assert.NotEmpty(t, res.ExportTime)

	date := time.Now().Format("2006-01-02")
	assert.Equal(t, "/api/v1/home/static/files/crm/"+date+"/task-1/analysis.md", res.URL)

	data, err := os.ReadFile(res.FilePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# 报告")
}

func TestWriteJSON(t *testing.T) {
	w := newTestWriter(t)
	res := w.WriteJSON(map[string]interface{}{"total": 3}, "task-2", "summary")

	require.True(t, res.Success)
	data, err := os.ReadFile(res.FilePath)
	require.NoError(t, err)
	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, float64(3), parsed["total"])
}

func TestWriteCSV(t *testing.T) {
	w := newTestWriter(t)
	table := Table{
		Columns: []string{"id", "nickname"},
		Rows:    [][]interface{}{{1, "张三"}, {2, nil}},
	}
	res := w.WriteCSV("t_member", table, "task-3")

	require.True(t, res.Success)
	assert.Equal(t, "t_member.csv", res.Filename)
	data, err := os.ReadFile(res.FilePath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "id,nickname", lines[0])
	assert.Contains(t, lines[1], "张三")
}

func TestWriteXLSX(t *testing.T) {
	w := newTestWriter(t)
	tables := map[string]Table{
		"t_member": {Columns: []string{"id"}, Rows: [][]interface{}{{1}, {2}}},
	}
	res := w.WriteXLSX(tables, "task-4", "export")

	require.True(t, res.Success)
	assert.Equal(t, "export.xlsx", res.Filename)
	info, err := os.Stat(res.FilePath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestJobDirLayout(t *testing.T) {
	base := t.TempDir()
	w := NewWriter("crm", base, "/files", nil)
	res := w.WriteMarkdown("x", "task-5", "f")

	require.True(t, res.Success)
	date := time.Now().Format("2006-01-02")
	assert.Equal(t, filepath.Join(base, "crm", date, "task-5"), res.ExportDir)
}

func TestFailureResult(t *testing.T) {
	// 基础目录指向一个文件，MkdirAll 必然失败
	base := filepath.Join(t.TempDir(), "occupied")
	require.NoError(t, os.WriteFile(base, []byte("x"), 0o644))
	w := NewWriter("crm", base, "/files", nil)

	res := w.WriteMarkdown("x", "task-6", "f")
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.ErrorMessage)

	m := res.ToMap()
	assert.Equal(t, false, m["success"])
	assert.NotEmpty(t, m["error_message"])
}
