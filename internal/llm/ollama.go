package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	"github.com/zlzcms/fx-agent-sub000/internal/config"
)

// Ollama 是本地 Ollama 端点的 LLM 客户端。
type Ollama struct {
	client      *api.Client
	model       string
	temperature float32
}

// NewOllama 创建一个新的 Ollama 客户端。
func NewOllama(cfg config.LLMModelConfig) (*Ollama, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("ollama 客户端缺少模型名称")
	}
	base := cfg.BaseURL
	if base == "" {
		base = "http://127.0.0.1:11434"
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("无效的 ollama 地址 '%s': %w", base, err)
	}
	return &Ollama{
		client:      api.NewClient(u, http.DefaultClient),
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}, nil
}

func (o *Ollama) toRequest(messages []Message, stream bool) *api.ChatRequest {
	msgs := make([]api.Message, len(messages))
	for i, m := range messages {
		msgs[i] = api.Message{Role: string(m.Role), Content: m.Content}
	}
	return &api.ChatRequest{
		Model:    o.model,
		Messages: msgs,
		Stream:   &stream,
		Options:  map[string]interface{}{"temperature": float64(o.temperature)},
	}
}

// GenerateContent 发起一次同步对话调用。
func (o *Ollama) GenerateContent(ctx context.Context, messages []Message) (*Response, error) {
	var out *Response
	err := o.client.Chat(ctx, o.toRequest(messages, false), func(resp api.ChatResponse) error {
		out = &Response{
			Content: resp.Message.Content,
			Model:   resp.Model,
			Usage: &Usage{
				PromptTokens:     resp.PromptEvalCount,
				CompletionTokens: resp.EvalCount,
			},
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat 调用失败: %w", err)
	}
	if out == nil {
		return nil, fmt.Errorf("ollama chat 未返回任何响应")
	}
	return out, nil
}

// GenerateContentStream 发起流式对话，通道在流结束时关闭。
func (o *Ollama) GenerateContentStream(ctx context.Context, messages []Message) (<-chan *Response, error) {
	respChan := make(chan *Response)
	go func() {
		defer close(respChan)
		_ = o.client.Chat(ctx, o.toRequest(messages, true), func(resp api.ChatResponse) error {
			select {
			case respChan <- &Response{Content: resp.Message.Content, Model: resp.Model}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()
	return respChan, nil
}
