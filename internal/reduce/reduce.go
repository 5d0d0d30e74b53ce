// Package reduce 实现对超长证据的 map-reduce 分析：逐片段调用
// LLM 提炼，再用合并提示词归并为一份最终分析。
package reduce

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/zlzcms/fx-agent-sub000/internal/errs"
	"github.com/zlzcms/fx-agent-sub000/internal/llm"
	"github.com/zlzcms/fx-agent-sub000/pkg/logger"
)

// 事件类型。
const (
	TypeChunkCompleted = "chunk_completed"
	TypeFinal          = "__final__"
	TypeError          = "error"
)

// Placeholder 是提示词模板中的片段占位符。
const Placeholder = "{text}"

// DefaultMapPrompt 是缺省的片段分析提示词。
const DefaultMapPrompt = `请分析以下数据片段，提取关键信息和模式：

数据片段：
{text}

请提供：
1. 关键数据点
2. 重要趋势或模式
3. 异常值或值得注意的点
4. 简要总结`

// DefaultCombinePrompt 是缺省的归并提示词。
const DefaultCombinePrompt = `基于以下各个数据片段的分析结果，生成一份综合分析报告：

分析结果：
{text}

请整合所有信息，提供：
1. 整体数据概览
2. 主要趋势和模式
3. 关键发现
4. 综合结论`

// Event 是缩减过程的进度事件。chunk_completed 携带片段序号与
// 部分结果；__final__ 携带归并后的完整分析；error 为终止性失败。
type Event struct {
	Type        string `json:"type"`
	ChunkIndex  int    `json:"chunk_index,omitempty"`
	TotalChunks int    `json:"total_chunks,omitempty"`
	Result      string `json:"result,omitempty"`
	Content     string `json:"content,omitempty"`
	Err         error  `json:"-"`
}

// Options 配置缩减策略。
type Options struct {
	// MaxRetries 是单个片段瞬时失败的重试上限。
	MaxRetries int
	// MaxParallel 大于 1 时并发处理片段，事件按完成顺序发出。
	MaxParallel int
	// Probe 为中断探针，片段之间咨询。
	Probe func() bool
	Log   *logger.Logger
}

// Strategy 执行 map-reduce 缩减。
type Strategy struct {
	llm         llm.Client
	maxRetries  int
	maxParallel int
	probe       func() bool
	log         *logger.Logger
}

// New 创建缩减策略。
func New(client llm.Client, opts Options) *Strategy {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.MaxParallel < 1 {
		opts.MaxParallel = 1
	}
	return &Strategy{
		llm:         client,
		maxRetries:  opts.MaxRetries,
		maxParallel: opts.MaxParallel,
		probe:       opts.Probe,
		log:         opts.Log,
	}
}

func (s *Strategy) checkInterruption() error {
	if s.probe != nil && s.probe() {
		return errs.ErrCancelled
	}
	return nil
}

// fillPrompt 将片段文本代入占位符。模板不含占位符时原样使用。
func fillPrompt(template, text string) string {
	if !strings.Contains(template, Placeholder) {
		return template
	}
	return strings.ReplaceAll(template, Placeholder, text)
}

func retryable(err error) bool {
	return !errors.Is(err, errs.ErrCancelled) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

// mapChunk 处理单个片段，瞬时失败按上限重试。
func (s *Strategy) mapChunk(ctx context.Context, chunk, mapPrompt string, index, total int) (string, error) {
	prompt := fillPrompt(mapPrompt, chunk)
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err := s.checkInterruption(); err != nil {
			return "", err
		}
		resp, err := s.llm.GenerateContent(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}})
		if err == nil {
			if s.log != nil {
				s.log.WithPayload(map[string]interface{}{
					"chunk_index": index + 1, "total_chunks": total, "attempt": attempt + 1,
				}).Debug("片段分析完成")
			}
			return resp.Content, nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}
	return "", fmt.Errorf("片段 %d/%d 分析失败: %w", index+1, total, lastErr)
}

// Run 对有序片段列表执行 map-reduce。返回的通道以 __final__ 或
// error 事件收尾，随后关闭。片段顺序在归并输入中保持不变。
func (s *Strategy) Run(ctx context.Context, chunks []string, mapPrompt, combinePrompt string) <-chan Event {
	if mapPrompt == "" {
		mapPrompt = DefaultMapPrompt
	}
	if combinePrompt == "" {
		combinePrompt = DefaultCombinePrompt
	}

	out := make(chan Event, 4)
	go func() {
		defer close(out)

		total := len(chunks)
		if total == 0 {
			out <- Event{Type: TypeFinal, Content: ""}
			return
		}

		results := make([]string, total)
		var mapErr error
		if s.maxParallel > 1 && total > 1 {
			mapErr = s.mapParallel(ctx, chunks, mapPrompt, results, out)
		} else {
			mapErr = s.mapSequential(ctx, chunks, mapPrompt, results, out)
		}
		if mapErr != nil {
			out <- Event{Type: TypeError, Err: mapErr}
			return
		}

		sections := make([]string, total)
		for i, r := range results {
			sections[i] = fmt.Sprintf("数据片段 %d 分析结果:\n%s", i+1, r)
		}
		finalPrompt := fillPrompt(combinePrompt, strings.Join(sections, "\n\n"))

		if err := s.checkInterruption(); err != nil {
			out <- Event{Type: TypeError, Err: err}
			return
		}
		resp, err := s.llm.GenerateContent(ctx, []llm.Message{{Role: llm.RoleUser, Content: finalPrompt}})
		if err != nil {
			out <- Event{Type: TypeError, Err: fmt.Errorf("归并阶段失败: %w", err)}
			return
		}
		out <- Event{Type: TypeFinal, Content: resp.Content}
	}()
	return out
}

func (s *Strategy) mapSequential(ctx context.Context, chunks []string, mapPrompt string, results []string, out chan<- Event) error {
	total := len(chunks)
	for i, chunk := range chunks {
		result, err := s.mapChunk(ctx, chunk, mapPrompt, i, total)
		if err != nil {
			return err
		}
		results[i] = result
		select {
		case out <- Event{Type: TypeChunkCompleted, ChunkIndex: i + 1, TotalChunks: total, Result: result}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// mapParallel 并发处理片段，进度事件按完成顺序发出，结果按原序写回。
func (s *Strategy) mapParallel(ctx context.Context, chunks []string, mapPrompt string, results []string, out chan<- Event) error {
	total := len(chunks)
	type chunkResult struct {
		index int
		text  string
	}
	done := make(chan chunkResult, total)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxParallel)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			text, err := s.mapChunk(gctx, chunk, mapPrompt, i, total)
			if err != nil {
				return err
			}
			done <- chunkResult{index: i, text: text}
			return nil
		})
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- g.Wait()
		close(done)
	}()

	for r := range done {
		results[r.index] = r.text
		select {
		case out <- Event{Type: TypeChunkCompleted, ChunkIndex: r.index + 1, TotalChunks: total, Result: r.text}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return <-waitErr
}
