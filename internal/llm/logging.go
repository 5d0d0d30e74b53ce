package llm

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/zlzcms/fx-agent-sub000/internal/config"
	"github.com/zlzcms/fx-agent-sub000/internal/models"
	"github.com/zlzcms/fx-agent-sub000/internal/token"
	"github.com/zlzcms/fx-agent-sub000/pkg/logger"
)

// Logging 是 Client 的装饰层：为每次调用生成 request_id，
// 记录模型、端点、入参 token 估算、耗时与用量，转发内容不做任何改动。
type Logging struct {
	inner   Client
	model   string
	baseURL string
	temp    float32
	log     *logger.Logger
}

// NewLogging 包装一个底层客户端。log 为 nil 时仍然透传调用。
func NewLogging(inner Client, cfg config.LLMModelConfig, log *logger.Logger) *Logging {
	return &Logging{
		inner:   inner,
		model:   cfg.Model,
		baseURL: cfg.BaseURL,
		temp:    cfg.Temperature,
		log:     log,
	}
}

func (l *Logging) requestPayload(requestID string, messages []Message) map[string]interface{} {
	totalTokens := 0
	for _, m := range messages {
		totalTokens += token.Estimate(m.Content)
	}
	return map[string]interface{}{
		"request_id":       requestID,
		"model":            l.model,
		"base_url":         l.baseURL,
		"temperature":      l.temp,
		"message_count":    len(messages),
		"estimated_tokens": totalTokens,
	}
}

// GenerateContent 记录请求与响应信息后透传。
func (l *Logging) GenerateContent(ctx context.Context, messages []Message) (*Response, error) {
	requestID := uuid.NewString()
	start := time.Now()
	if l.log != nil {
		l.log.WithPayload(l.requestPayload(requestID, messages)).Debug("LLM 调用开始")
	}

	resp, err := l.inner.GenerateContent(ctx, messages)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		if l.log != nil {
			l.log.WithError(models.ErrorInfo{Message: err.Error(), Type: "upstream_error"}).
				WithPayload(map[string]interface{}{"request_id": requestID, "latency_ms": latency}).
				Error("LLM 调用失败")
		}
		return nil, err
	}

	if l.log != nil {
		payload := map[string]interface{}{
			"request_id": requestID,
			"latency_ms": latency,
		}
		if resp.Usage != nil {
			payload["prompt_tokens"] = resp.Usage.PromptTokens
			payload["completion_tokens"] = resp.Usage.CompletionTokens
		}
		l.log.WithPayload(payload).Debug("LLM 调用完成")
	}
	return resp, nil
}

// GenerateContentStream 透传流式调用并在流结束时记录块数与耗时。
func (l *Logging) GenerateContentStream(ctx context.Context, messages []Message) (<-chan *Response, error) {
	requestID := uuid.NewString()
	start := time.Now()
	if l.log != nil {
		l.log.WithPayload(l.requestPayload(requestID, messages)).Debug("LLM 流式调用开始")
	}

	inner, err := l.inner.GenerateContentStream(ctx, messages)
	if err != nil {
		if l.log != nil {
			l.log.WithError(models.ErrorInfo{Message: err.Error(), Type: "upstream_error"}).
				WithPayload(map[string]interface{}{"request_id": requestID}).
				Error("LLM 流式调用失败")
		}
		return nil, err
	}

	out := make(chan *Response)
	go func() {
		defer close(out)
		chunks := 0
		for resp := range inner {
			chunks++
			select {
			case out <- resp:
			case <-ctx.Done():
				return
			}
		}
		if l.log != nil {
			l.log.WithPayload(map[string]interface{}{
				"request_id": requestID,
				"chunks":     chunks,
				"latency_ms": time.Since(start).Milliseconds(),
			}).Debug("LLM 流式调用完成")
		}
	}()
	return out, nil
}
