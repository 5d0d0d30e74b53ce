package agent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zlzcms/fx-agent-sub000/internal/errs"
	"github.com/zlzcms/fx-agent-sub000/internal/llm"
)

type fakeLLM struct {
	calls  int32
	reply  string
	chunks []string
	err    error
}

func (f *fakeLLM) GenerateContent(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Content: f.reply}, nil
}

func (f *fakeLLM) GenerateContentStream(ctx context.Context, messages []llm.Message) (<-chan *llm.Response, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	out := make(chan *llm.Response)
	go func() {
		defer close(out)
		for _, c := range f.chunks {
			select {
			case out <- &llm.Response{Content: c}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func collect(ch <-chan Event) []Event {
	var events []Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestRunCompletesWithSingleTerminal(t *testing.T) {
	b := NewBase("demo", &fakeLLM{}, nil)
	b.SetResult(map[string]interface{}{"answer": 42})

	ch := b.Run(context.Background(), func(ctx context.Context, emit func(Event) bool) error {
		emit(InfoEvent("", "第一步"))
		emit(InfoEvent("", "第二步"))
		return nil
	})
	events := collect(ch)

	require.Len(t, events, 3)
	assert.Equal(t, TypeInfo, events[0].Type)
	assert.Equal(t, "demo", events[0].Name)
	last := events[2]
	assert.Equal(t, TypeCompleted, last.Type)
	assert.True(t, last.IsTerminal())
	assert.Equal(t, StateCompleted, b.State())
	assert.NoError(t, b.Err())

	// 终止事件唯一
	terminals := 0
	for _, ev := range events {
		if ev.IsTerminal() {
			terminals++
		}
	}
	assert.Equal(t, 1, terminals)
}

func TestRunFailureEmitsErrorEvent(t *testing.T) {
	b := NewBase("demo", &fakeLLM{}, nil)
	ch := b.Run(context.Background(), func(ctx context.Context, emit func(Event) bool) error {
		return errors.New("数据源不可用")
	})
	events := collect(ch)

	require.Len(t, events, 1)
	assert.Equal(t, TypeError, events[0].Type)
	assert.Equal(t, StatusFailed, events[0].Status)
	assert.Equal(t, StateFailed, b.State())
	assert.EqualError(t, b.Err(), "数据源不可用")
}

func TestRunCancellation(t *testing.T) {
	b := NewBase("demo", &fakeLLM{}, nil)
	var cancelled int32
	b.SetInterruptionChecker(func() bool { return atomic.LoadInt32(&cancelled) == 1 })

	ch := b.Run(context.Background(), func(ctx context.Context, emit func(Event) bool) error {
		emit(InfoEvent("", "开始"))
		atomic.StoreInt32(&cancelled, 1)
		if !emit(InfoEvent("", "不应发出")) {
			return errs.ErrCancelled
		}
		return nil
	})
	events := collect(ch)

	require.Len(t, events, 2)
	assert.Equal(t, TypeInfo, events[0].Type)
	assert.Equal(t, TypeInterrupted, events[1].Type)
	assert.Equal(t, "任务已被用户取消", events[1].Message)
	assert.Equal(t, StateCanceled, b.State())
	assert.ErrorIs(t, b.Err(), errs.ErrCancelled)
}

func TestInvokeChecksProbeBeforeCall(t *testing.T) {
	f := &fakeLLM{reply: "ok"}
	b := NewBase("demo", f, nil)
	b.SetInterruptionChecker(func() bool { return true })

	_, err := b.Invoke(context.Background(), BuildMessages("", nil, "hi"), "")
	assert.ErrorIs(t, err, errs.ErrCancelled)
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.calls))
}

func TestInvokeWrapsUpstreamError(t *testing.T) {
	f := &fakeLLM{err: errors.New("连接超时")}
	b := NewBase("demo", f, nil)
	_, err := b.Invoke(context.Background(), BuildMessages("", nil, "hi"), "标注")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrUpstream)
}

func TestStreamStopsAfterCancel(t *testing.T) {
	f := &fakeLLM{chunks: []string{"a", "b", "c", "d", "e"}}
	b := NewBase("demo", f, nil)
	var cancelled int32
	b.SetInterruptionChecker(func() bool { return atomic.LoadInt32(&cancelled) == 1 })

	ch, err := b.Stream(context.Background(), BuildMessages("", nil, "hi"), "")
	require.NoError(t, err)

	forwarded := 0
	for range ch {
		forwarded++
		atomic.StoreInt32(&cancelled, 1)
	}
	// 探针翻转后最多再转发一个在途分块
	assert.LessOrEqual(t, forwarded, 2)
	assert.ErrorIs(t, b.CheckInterruption(), errs.ErrCancelled)
}

func TestChatStreamEmitsChunks(t *testing.T) {
	f := &fakeLLM{chunks: []string{"你", "好"}}
	b := NewBase("chat", f, nil)

	var events []Event
	emit := func(ev Event) bool {
		events = append(events, ev)
		return true
	}
	full, err := b.ChatStream(context.Background(), emit, "打个招呼", "你是助手", nil)
	require.NoError(t, err)
	assert.Equal(t, "你好", full)
	require.Len(t, events, 2)
	assert.Equal(t, TypeChat, events[0].Type)
	assert.Equal(t, "chat", events[0].Name)
}

func TestBuildMessages(t *testing.T) {
	history := []llm.Message{{Role: llm.RoleUser, Content: "早"}, {Role: llm.RoleAssistant, Content: "早上好"}}
	msgs := BuildMessages("系统", history, "现在几点")
	require.Len(t, msgs, 4)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, "现在几点", msgs[3].Content)

	msgs = BuildMessages("", nil, "hi")
	require.Len(t, msgs, 1)
	assert.Equal(t, llm.RoleUser, msgs[0].Role)
}

func TestSimulateStream(t *testing.T) {
	chunks := SimulateStream("一二三四五六七", 3)
	require.Len(t, chunks, 3)
	assert.Equal(t, "一二三", chunks[0])
	assert.Equal(t, "七", chunks[2])
	assert.Empty(t, SimulateStream("", 3))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register("chat", "通用对话", func() Agent { return NewChatLike("chat") })
	r.Register("analyze", "数据分析", func() Agent { return NewChatLike("analyze") })

	a, err := r.Create("chat")
	require.NoError(t, err)
	assert.Equal(t, "chat", a.Name())

	_, err = r.Create("missing")
	assert.Error(t, err)

	assert.Equal(t, []string{"analyze", "chat"}, r.Kinds())
	assert.Equal(t, "数据分析", r.Describe()["analyze"])
}

// NewChatLike 构造一个仅用于测试的最小智能体。
func NewChatLike(name string) Agent { return &chatLike{NewBase(name, &fakeLLM{reply: "ok"}, nil)} }

type chatLike struct{ *Base }

func (c *chatLike) Execute(ctx context.Context, in Input) <-chan Event {
	return c.Run(ctx, func(ctx context.Context, emit func(Event) bool) error {
		emit(ChatEvent("", "ok"))
		return nil
	})
}
