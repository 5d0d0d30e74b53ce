package agents

import (
	"context"
	"fmt"
	"sort"

	"github.com/zlzcms/fx-agent-sub000/internal/agent"
	"github.com/zlzcms/fx-agent-sub000/internal/markdown"
	"github.com/zlzcms/fx-agent-sub000/pkg/logger"
)

// SplitterAgent 把上游查询到的行集按 token 预算拆分为分析块。
type SplitterAgent struct {
	*agent.Base
	renderer *markdown.Renderer
}

// NewSplitter 创建数据拆分智能体。
func NewSplitter(renderer *markdown.Renderer, log *logger.Logger) *SplitterAgent {
	return &SplitterAgent{
		Base:     agent.NewBase("data_splitting", nil, log),
		renderer: renderer,
	}
}

// datasetFrom 把 {table: {columns, rows}} 形式的原始数据还原为数据集。
func datasetFrom(data map[string]interface{}) (*markdown.Dataset, error) {
	tables := make([]string, 0, len(data))
	for t := range data {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	dataset := &markdown.Dataset{}
	for _, table := range tables {
		entry, ok := data[table].(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("表 %s 的数据格式无效", table)
		}
		columns := asStringSlice(entry["columns"])
		var rows [][]interface{}
		switch raw := entry["rows"].(type) {
		case [][]interface{}:
			rows = raw
		case []interface{}:
			for _, r := range raw {
				if row, ok := r.([]interface{}); ok {
					rows = append(rows, row)
				}
			}
		}
		dataset.Entries = append(dataset.Entries, markdown.DatasetEntry{
			Name:    table,
			Columns: columns,
			Rows:    rows,
		})
	}
	return dataset, nil
}

// Execute 渲染并打包数据块，以 result 事件交付 {chunks, metadata}。
func (a *SplitterAgent) Execute(ctx context.Context, in agent.Input) <-chan agent.Event {
	return a.Run(ctx, func(ctx context.Context, emit func(agent.Event) bool) error {
		data, ok := in.Params["data"].(map[string]interface{})
		if !ok || len(data) == 0 {
			return fmt.Errorf("无可拆分的数据")
		}
		dataset, err := datasetFrom(data)
		if err != nil {
			return err
		}

		chunks := a.renderer.DatasetToChunks(dataset)
		contents := make([]interface{}, len(chunks))
		totalRows := 0
		totalTokens := 0
		for i, c := range chunks {
			contents[i] = c.Content
			totalRows += c.RowCount
			totalTokens += c.ApproxTokens
		}
		metadata := map[string]interface{}{
			"chunk_count":   len(chunks),
			"total_rows":    totalRows,
			"approx_tokens": totalTokens,
		}
		a.AddLog("拆分结果", metadata)

		result := map[string]interface{}{"chunks": contents, "metadata": metadata}
		emit(agent.ResultEvent(a.Name(), result))

		a.SetResult(result)
		a.FinishWith(fmt.Sprintf("数据拆分完成，共 %d 块", len(chunks)))
		return nil
	})
}
