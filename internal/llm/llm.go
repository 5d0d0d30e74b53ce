// Package llm 封装对话模型客户端。上层只依赖 Client 接口，
// 具体提供商（OpenAI 兼容端点、Ollama）由配置在构造时选定。
package llm

import (
	"context"
	"fmt"

	"github.com/zlzcms/fx-agent-sub000/internal/config"
	"github.com/zlzcms/fx-agent-sub000/pkg/logger"
)

// Role 是对话消息的角色。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message 是一条对话消息。
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Usage 记录一次调用的 token 消耗。
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Response 是模型的一次完整响应或一个流式增量。
type Response struct {
	Content    string `json:"content"`
	ResponseID string `json:"response_id,omitempty"`
	Model      string `json:"model,omitempty"`
	Usage      *Usage `json:"usage,omitempty"`
}

// Client 定义了所有大型语言模型客户端必须实现的通用接口。
// GenerateContentStream 返回的通道在流结束或出错时关闭。
type Client interface {
	GenerateContent(ctx context.Context, messages []Message) (*Response, error)
	GenerateContentStream(ctx context.Context, messages []Message) (<-chan *Response, error)
}

// NewClient 是一个工厂函数，根据提供商与模型配置创建客户端，
// 并套上调用日志装饰层。
func NewClient(provider string, cfg config.LLMModelConfig, log *logger.Logger) (Client, error) {
	var inner Client
	var err error
	switch provider {
	case "openai", "":
		inner, err = NewOpenAI(cfg)
	case "ollama":
		inner, err = NewOllama(cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", provider)
	}
	if err != nil {
		return nil, err
	}
	return NewLogging(inner, cfg, log), nil
}
