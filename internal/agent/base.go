package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zlzcms/fx-agent-sub000/internal/errs"
	"github.com/zlzcms/fx-agent-sub000/internal/llm"
	"github.com/zlzcms/fx-agent-sub000/pkg/logger"
)

// Base 是所有具体智能体的公共基座：持有 LLM 客户端、状态机、
// 结果与日志，并封装带中断检查的调用与流式调用。
type Base struct {
	name  string
	llm   llm.Client
	log   *logger.Logger
	probe Probe

	state    State
	result   interface{}
	err      error
	entries  []LogEntry
	finalMsg string
}

// NewBase 创建一个基座。client 允许为 nil（纯工具型智能体）。
func NewBase(name string, client llm.Client, log *logger.Logger) *Base {
	return &Base{
		name:     name,
		llm:      client,
		log:      log,
		state:    StateIdle,
		finalMsg: "执行完成",
	}
}

func (b *Base) Name() string        { return b.name }
func (b *Base) State() State        { return b.state }
func (b *Base) Result() interface{} { return b.result }
func (b *Base) Err() error          { return b.err }

// LLM 暴露底层客户端给需要直接定制调用的智能体。
func (b *Base) LLM() llm.Client { return b.llm }

// Logger 返回结构化日志器，可能为 nil。
func (b *Base) Logger() *logger.Logger { return b.log }

// SetResult 记录执行结果，供任务层在终止后读取。
func (b *Base) SetResult(v interface{}) { b.result = v }

// FinishWith 覆盖默认的完成事件文案。
func (b *Base) FinishWith(message string) { b.finalMsg = message }

// AddLog 追加一条执行日志。
func (b *Base) AddLog(title string, content interface{}) {
	b.entries = append(b.entries, LogEntry{Title: title, Content: content})
}

// Log 返回追加日志的副本。
func (b *Base) Log() []LogEntry {
	out := make([]LogEntry, len(b.entries))
	copy(out, b.entries)
	return out
}

// SetInterruptionChecker 设置中断探针。
func (b *Base) SetInterruptionChecker(p Probe) { b.probe = p }

// CheckInterruption 咨询中断探针，命中时返回 ErrCancelled。
func (b *Base) CheckInterruption() error {
	if b.probe != nil && b.probe() {
		return errs.ErrCancelled
	}
	return nil
}

// Invoke 发起一次同步 LLM 调用，调用前检查中断，并记录耗时。
func (b *Base) Invoke(ctx context.Context, messages []llm.Message, label string) (*llm.Response, error) {
	if err := b.CheckInterruption(); err != nil {
		return nil, err
	}
	if label != "" {
		b.AddLog("调用", label)
	}
	start := time.Now()
	resp, err := b.llm.GenerateContent(ctx, messages)
	b.AddLog("耗时", fmt.Sprintf("%.2f 秒", time.Since(start).Seconds()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrUpstream, err)
	}
	return resp, nil
}

// Stream 发起一次流式 LLM 调用。每个分块转发前重新咨询中断探针，
// 命中后立即停止转发并关闭通道；消费端在 range 结束后应再调一次
// CheckInterruption 区分正常结束与取消。
func (b *Base) Stream(ctx context.Context, messages []llm.Message, label string) (<-chan *llm.Response, error) {
	if err := b.CheckInterruption(); err != nil {
		return nil, err
	}
	if label != "" {
		b.AddLog("调用", label)
	}
	inner, err := b.llm.GenerateContentStream(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrUpstream, err)
	}

	out := make(chan *llm.Response)
	start := time.Now()
	go func() {
		defer close(out)
		for chunk := range inner {
			if b.CheckInterruption() != nil {
				return
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
		b.AddLog("耗时", fmt.Sprintf("%.2f 秒", time.Since(start).Seconds()))
	}()
	return out, nil
}

// ChatStream 以流式对话的形式回答 userQuery，每个分块作为 chat
// 事件经 emit 发出，返回完整回复文本。
func (b *Base) ChatStream(ctx context.Context, emit func(Event) bool, userQuery, systemPrompt string, history []llm.Message) (string, error) {
	messages := BuildMessages(systemPrompt, history, userQuery)
	ch, err := b.Stream(ctx, messages, fmt.Sprintf("对话【%s】", userQuery))
	if err != nil {
		return "", err
	}
	full := ""
	for chunk := range ch {
		full += chunk.Content
		if !emit(ChatEvent(b.name, chunk.Content)) {
			return full, ctx.Err()
		}
	}
	if err := b.CheckInterruption(); err != nil {
		return full, err
	}
	return full, nil
}

// Run 驱动一次执行：进入 RUNNING，串行运行 fn 产出事件，
// 并保证返回的通道以且仅以一个终止事件收尾。
// fn 只产出非终止事件；终止事件由 Run 根据返回值统一补上。
func (b *Base) Run(ctx context.Context, fn func(ctx context.Context, emit func(Event) bool) error) <-chan Event {
	out := make(chan Event, 8)
	go func() {
		defer close(out)
		b.state = StateRunning
		start := time.Now()

		send := func(ev Event) bool {
			if ev.Name == "" {
				ev.Name = b.name
			}
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		emit := func(ev Event) bool {
			if b.CheckInterruption() != nil {
				return false
			}
			return send(ev)
		}

		err := fn(ctx, emit)
		if err == nil {
			err = b.CheckInterruption()
		}
		b.AddLog("总耗时", fmt.Sprintf("%.2f 秒", time.Since(start).Seconds()))

		switch {
		case err == nil:
			b.state = StateCompleted
			send(CompletedEvent(b.name, b.finalMsg, b.result))
		case errors.Is(err, errs.ErrCancelled) || errors.Is(err, context.Canceled):
			b.state = StateCanceled
			b.err = errs.ErrCancelled
			send(InterruptedEvent(b.name, errs.ErrCancelled.Error()))
		default:
			b.state = StateFailed
			b.err = err
			if b.log != nil {
				b.log.WithField("agent", b.name).Errorf("智能体执行失败: %v", err)
			}
			send(ErrorEvent(b.name, err.Error()))
		}
	}()
	return out
}

// BuildMessages 组装 [system, *history, user] 消息序列。
// systemPrompt 为空时省略系统消息。
func BuildMessages(systemPrompt string, history []llm.Message, userQuery string) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+2)
	if systemPrompt != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	}
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: userQuery})
	return messages
}

// WithTimeContext 在系统提示词后追加当前时间块。
func WithTimeContext(systemPrompt string) string {
	return fmt.Sprintf("%s\n\n当前时间: %s", systemPrompt, time.Now().Format("2006-01-02 15:04:05"))
}

// SimulateStream 将整段文本按固定字符数切片，模拟流式输出。
// size 非正时按 4 个字符切。
func SimulateStream(text string, size int) []string {
	if size <= 0 {
		size = 4
	}
	runes := []rune(text)
	var chunks []string
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}
