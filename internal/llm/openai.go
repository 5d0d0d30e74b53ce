package llm

import (
	"context"
	"fmt"

	openai "github.com/meguminnnnnnnnn/go-openai"

	"github.com/zlzcms/fx-agent-sub000/internal/config"
)

// OpenAI 是 OpenAI 兼容端点的 LLM 客户端。
type OpenAI struct {
	client      *openai.Client
	model       string
	temperature float32
}

// NewOpenAI 创建一个新的 OpenAI 客户端。BaseURL 为空时使用官方端点。
func NewOpenAI(cfg config.LLMModelConfig) (*OpenAI, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai 客户端缺少模型名称")
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &OpenAI{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}, nil
}

// GenerateContent 发起一次同步补全调用。
func (o *OpenAI) GenerateContent(ctx context.Context, messages []Message) (*Response, error) {
	resp, err := o.client.CreateChatCompletion(ctx, o.toRequest(messages, false))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion 返回空 choices")
	}
	return &Response{
		Content:    resp.Choices[0].Message.Content,
		ResponseID: resp.ID,
		Model:      resp.Model,
		Usage: &Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// GenerateContentStream 发起流式补全，通道在流结束时关闭。
func (o *OpenAI) GenerateContentStream(ctx context.Context, messages []Message) (<-chan *Response, error) {
	stream, err := o.client.CreateChatCompletionStream(ctx, o.toRequest(messages, true))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion stream: %w", err)
	}

	respChan := make(chan *Response)
	go func() {
		defer close(respChan)
		defer stream.Close()

		for {
			chunk, err := stream.Recv()
			if err != nil {
				// io.EOF 是正常的流结束，其余错误同样以关闭通道收尾
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			select {
			case respChan <- &Response{
				Content:    chunk.Choices[0].Delta.Content,
				ResponseID: chunk.ID,
				Model:      chunk.Model,
			}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return respChan, nil
}

// toRequest 将内部消息模型转换为 OpenAI 请求格式。
func (o *OpenAI) toRequest(messages []Message, stream bool) openai.ChatCompletionRequest {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		out[i] = openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		}
	}
	return openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    out,
		Temperature: &o.temperature,
		Stream:      stream,
	}
}
