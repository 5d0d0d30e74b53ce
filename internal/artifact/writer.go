// Package artifact 负责报告产物的落盘与导出：按任务建目录，
// 支持 markdown/html/json/csv/xlsx/docx 六种格式，可选上传对象存储。
package artifact

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/minio/minio-go/v7"
	"github.com/unidoc/unioffice/v2/document"
	"github.com/xuri/excelize/v2"

	"github.com/zlzcms/fx-agent-sub000/pkg/logger"
)

// Result 是一次导出的统一结果结构。
type Result struct {
	Success      bool              `json:"success"`
	FilePath     string            `json:"file_path,omitempty"`
	FilePaths    map[string]string `json:"file_paths,omitempty"`
	Filename     string            `json:"filename,omitempty"`
	ExportDir    string            `json:"export_directory,omitempty"`
	TaskID       string            `json:"task_id,omitempty"`
	DataSource   string            `json:"data_source,omitempty"`
	ExportTime   string            `json:"export_time,omitempty"`
	FileSize     int64             `json:"file_size,omitempty"`
	URL          string            `json:"url,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
}

// ToMap 转换为事件中 file 字段使用的字典格式。
func (r Result) ToMap() map[string]interface{} {
	out := map[string]interface{}{
		"success":     r.Success,
		"filename":    r.Filename,
		"file_path":   r.FilePath,
		"url":         r.URL,
		"file_size":   r.FileSize,
		"task_id":     r.TaskID,
		"data_source": r.DataSource,
		"export_time": r.ExportTime,
	}
	if r.ErrorMessage != "" {
		out["error_message"] = r.ErrorMessage
	}
	return out
}

// Table 是一个待导出的表格。
type Table struct {
	Columns []string
	Rows    [][]interface{}
}

// Writer 按 <base>/<data_source>/<日期>/<task_id>/ 布局写出产物。
type Writer struct {
	dataSource string
	basePath   string
	baseURL    string
	bucket     string
	uploader   *minio.Client
	log        *logger.Logger
}

// NewWriter 创建导出器。baseURL 是静态文件服务的 URL 前缀。
func NewWriter(dataSource, basePath, baseURL string, log *logger.Logger) *Writer {
	return &Writer{
		dataSource: dataSource,
		basePath:   basePath,
		baseURL:    baseURL,
		log:        log,
	}
}

// EnableUpload 开启对象存储上传，产物 URL 改为对象存储地址。
func (w *Writer) EnableUpload(client *minio.Client, bucket string) {
	w.uploader = client
	w.bucket = bucket
}

func (w *Writer) jobDir(taskID string) (string, string, error) {
	date := time.Now().Format("2006-01-02")
	dir := filepath.Join(w.basePath, w.dataSource, date, taskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("创建导出目录失败: %w", err)
	}
	url := fmt.Sprintf("%s/%s/%s/%s", strings.TrimSuffix(w.baseURL, "/"), w.dataSource, date, taskID)
	return dir, url, nil
}

func (w *Writer) failure(taskID string, err error) Result {
	if w.log != nil {
		w.log.WithField("task_id", taskID).Errorf("产物导出失败: %v", err)
	}
	return Result{Success: false, TaskID: taskID, DataSource: w.dataSource, ErrorMessage: err.Error()}
}

// finish 统计文件大小、可选上传，返回成功结果。
func (w *Writer) finish(taskID, path, urlBase, filename string) Result {
	size := int64(0)
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}
	url := urlBase + "/" + filename
	if w.uploader != nil {
		if uploaded, err := w.upload(path, taskID, filename); err == nil {
			url = uploaded
		} else if w.log != nil {
			w.log.WithField("task_id", taskID).Warnf("产物上传失败，回退本地地址: %v", err)
		}
	}
	return Result{
		Success:    true,
		FilePath:   path,
		Filename:   filename,
		ExportDir:  filepath.Dir(path),
		TaskID:     taskID,
		DataSource: w.dataSource,
		ExportTime: time.Now().Format(time.RFC3339),
		FileSize:   size,
		URL:        url,
	}
}

func (w *Writer) upload(path, taskID, filename string) (string, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("识别文件类型失败: %w", err)
	}
	object := fmt.Sprintf("%s/%s/%s/%s", w.dataSource, time.Now().Format("2006-01-02"), taskID, filename)
	_, err = w.uploader.FPutObject(context.Background(), w.bucket, object, path,
		minio.PutObjectOptions{ContentType: mtype.String()})
	if err != nil {
		return "", fmt.Errorf("上传对象存储失败: %w", err)
	}
	return fmt.Sprintf("%s/%s", w.bucket, object), nil
}

func (w *Writer) writeText(content, taskID, name, ext string) Result {
	dir, urlBase, err := w.jobDir(taskID)
	if err != nil {
		return w.failure(taskID, err)
	}
	filename := name + ext
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return w.failure(taskID, fmt.Errorf("写入文件失败: %w", err))
	}
	return w.finish(taskID, path, urlBase, filename)
}

// WriteMarkdown 导出 Markdown 文本。
func (w *Writer) WriteMarkdown(content, taskID, name string) Result {
	return w.writeText(content, taskID, name, ".md")
}

// WriteHTML 导出 HTML 文本。
func (w *Writer) WriteHTML(content, taskID, name string) Result {
	return w.writeText(content, taskID, name, ".html")
}

// WriteJSON 将任意结构序列化为带缩进的 JSON 文件。
func (w *Writer) WriteJSON(v interface{}, taskID, name string) Result {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return w.failure(taskID, fmt.Errorf("序列化 JSON 失败: %w", err))
	}
	return w.writeText(string(data), taskID, name, ".json")
}

// WriteCSV 将一张表导出为 CSV 文件。
func (w *Writer) WriteCSV(tableName string, table Table, taskID string) Result {
	dir, urlBase, err := w.jobDir(taskID)
	if err != nil {
		return w.failure(taskID, err)
	}
	filename := tableName + ".csv"
	path := filepath.Join(dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return w.failure(taskID, fmt.Errorf("创建 CSV 文件失败: %w", err))
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write(table.Columns); err != nil {
		return w.failure(taskID, err)
	}
	for _, row := range table.Rows {
		record := make([]string, len(row))
		for i, cell := range row {
			if cell == nil {
				record[i] = ""
			} else {
				record[i] = fmt.Sprintf("%v", cell)
			}
		}
		if err := cw.Write(record); err != nil {
			return w.failure(taskID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return w.failure(taskID, err)
	}
	return w.finish(taskID, path, urlBase, filename)
}

// WriteXLSX 将多张表导出为一个工作簿，每表一个工作表。
func (w *Writer) WriteXLSX(tables map[string]Table, taskID, name string) Result {
	dir, urlBase, err := w.jobDir(taskID)
	if err != nil {
		return w.failure(taskID, err)
	}
	filename := name + ".xlsx"
	path := filepath.Join(dir, filename)

	f := excelize.NewFile()
	defer f.Close()

	first := true
	for tableName, table := range tables {
		sheet := tableName
		if first {
			if err := f.SetSheetName("Sheet1", sheet); err != nil {
				return w.failure(taskID, err)
			}
			first = false
		} else {
			if _, err := f.NewSheet(sheet); err != nil {
				return w.failure(taskID, err)
			}
		}
		header := make([]interface{}, len(table.Columns))
		for i, c := range table.Columns {
			header[i] = c
		}
		if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
			return w.failure(taskID, err)
		}
		for i, row := range table.Rows {
			cell, err := excelize.CoordinatesToCellName(1, i+2)
			if err != nil {
				return w.failure(taskID, err)
			}
			if err := f.SetSheetRow(sheet, cell, &row); err != nil {
				return w.failure(taskID, err)
			}
		}
	}
	if err := f.SaveAs(path); err != nil {
		return w.failure(taskID, fmt.Errorf("保存 xlsx 失败: %w", err))
	}
	return w.finish(taskID, path, urlBase, filename)
}

// WriteDocx 将 Markdown 文本按行转换为 Word 文档。
// 井号开头的行映射为标题样式，其余按普通段落写入。
func (w *Writer) WriteDocx(content, taskID, name string) Result {
	dir, urlBase, err := w.jobDir(taskID)
	if err != nil {
		return w.failure(taskID, err)
	}
	filename := name + ".docx"
	path := filepath.Join(dir, filename)

	doc := document.New()
	defer doc.Close()

	for _, line := range strings.Split(content, "\n") {
		para := doc.AddParagraph()
		text := line
		switch {
		case strings.HasPrefix(line, "### "):
			para.SetStyle("Heading3")
			text = strings.TrimPrefix(line, "### ")
		case strings.HasPrefix(line, "## "):
			para.SetStyle("Heading2")
			text = strings.TrimPrefix(line, "## ")
		case strings.HasPrefix(line, "# "):
			para.SetStyle("Heading1")
			text = strings.TrimPrefix(line, "# ")
		}
		para.AddRun().AddText(text)
	}
	if err := doc.SaveToFile(path); err != nil {
		return w.failure(taskID, fmt.Errorf("保存 docx 失败: %w", err))
	}
	return w.finish(taskID, path, urlBase, filename)
}
