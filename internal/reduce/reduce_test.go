package reduce

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zlzcms/fx-agent-sub000/internal/errs"
	"github.com/zlzcms/fx-agent-sub000/internal/llm"
)

// scriptedLLM 按调用次序返回预设结果，记录收到的提示词。
type scriptedLLM struct {
	mu      sync.Mutex
	calls   int32
	prompts []string
	// failFirst 表示前 N 次调用返回瞬时错误
	failFirst int
}

func (f *scriptedLLM) GenerateContent(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	n := atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	f.prompts = append(f.prompts, messages[len(messages)-1].Content)
	f.mu.Unlock()
	if int(n) <= f.failFirst {
		return nil, errors.New("临时故障")
	}
	return &llm.Response{Content: fmt.Sprintf("分析%d", n)}, nil
}

func (f *scriptedLLM) GenerateContentStream(ctx context.Context, messages []llm.Message) (<-chan *llm.Response, error) {
	return nil, errors.New("not used")
}

func drain(ch <-chan Event) []Event {
	var events []Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestRunMapReduceOrder(t *testing.T) {
	f := &scriptedLLM{}
	s := New(f, Options{})
	events := drain(s.Run(context.Background(), []string{"片段一", "片段二", "片段三"}, "分析: {text}", "合并: {text}"))

	require.Len(t, events, 4)
	for i := 0; i < 3; i++ {
		assert.Equal(t, TypeChunkCompleted, events[i].Type)
		assert.Equal(t, i+1, events[i].ChunkIndex)
		assert.Equal(t, 3, events[i].TotalChunks)
		assert.NotEmpty(t, events[i].Result)
	}
	final := events[3]
	assert.Equal(t, TypeFinal, final.Type)
	assert.NotEmpty(t, final.Content)

	// map 调用数等于片段数，外加一次归并
	assert.Equal(t, int32(4), atomic.LoadInt32(&f.calls))

	// 归并输入包含按序编号的片段小节
	combineInput := f.prompts[3]
	assert.True(t, strings.HasPrefix(combineInput, "合并: "))
	assert.Contains(t, combineInput, "数据片段 1 分析结果:")
	assert.Contains(t, combineInput, "数据片段 3 分析结果:")
	assert.Less(t, strings.Index(combineInput, "数据片段 1"), strings.Index(combineInput, "数据片段 2"))
}

func TestRunSubstitutesPlaceholder(t *testing.T) {
	f := &scriptedLLM{}
	s := New(f, Options{})
	drain(s.Run(context.Background(), []string{"甲"}, "请看: {text} 完", ""))
	require.NotEmpty(t, f.prompts)
	assert.Equal(t, "请看: 甲 完", f.prompts[0])
}

func TestRunRetriesTransientFailure(t *testing.T) {
	f := &scriptedLLM{failFirst: 1}
	s := New(f, Options{MaxRetries: 2})
	events := drain(s.Run(context.Background(), []string{"甲"}, "", ""))

	require.Len(t, events, 2)
	assert.Equal(t, TypeChunkCompleted, events[0].Type)
	assert.Equal(t, TypeFinal, events[1].Type)
	// 1 次失败 + 1 次重试成功 + 1 次归并
	assert.Equal(t, int32(3), atomic.LoadInt32(&f.calls))
}

func TestRunPersistentFailureFailsPipeline(t *testing.T) {
	f := &scriptedLLM{failFirst: 100}
	s := New(f, Options{MaxRetries: 1})
	events := drain(s.Run(context.Background(), []string{"甲", "乙"}, "", ""))

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, TypeError, last.Type)
	require.Error(t, last.Err)
	assert.Contains(t, last.Err.Error(), "分析失败")
}

func TestRunEmptyChunksYieldsFinal(t *testing.T) {
	f := &scriptedLLM{}
	s := New(f, Options{})
	events := drain(s.Run(context.Background(), nil, "", ""))

	require.Len(t, events, 1)
	assert.Equal(t, TypeFinal, events[0].Type)
	assert.Empty(t, events[0].Content)
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.calls))
}

func TestRunCancellationBetweenChunks(t *testing.T) {
	f := &scriptedLLM{}
	var flag int32
	s := New(f, Options{Probe: func() bool { return atomic.LoadInt32(&flag) == 1 }})

	ch := s.Run(context.Background(), []string{"甲", "乙", "丙"}, "", "")
	var events []Event
	for ev := range ch {
		events = append(events, ev)
		atomic.StoreInt32(&flag, 1)
	}

	last := events[len(events)-1]
	assert.Equal(t, TypeError, last.Type)
	assert.ErrorIs(t, last.Err, errs.ErrCancelled)
	// 取消后最多再发起一次在途调用
	assert.LessOrEqual(t, atomic.LoadInt32(&f.calls), int32(2))
}

func TestRunParallelEmitsAllChunks(t *testing.T) {
	f := &scriptedLLM{}
	s := New(f, Options{MaxParallel: 3})
	events := drain(s.Run(context.Background(), []string{"甲", "乙", "丙"}, "", ""))

	require.Len(t, events, 4)
	seen := map[int]bool{}
	for _, ev := range events[:3] {
		assert.Equal(t, TypeChunkCompleted, ev.Type)
		seen[ev.ChunkIndex] = true
	}
	assert.Len(t, seen, 3)
	assert.Equal(t, TypeFinal, events[3].Type)
}
