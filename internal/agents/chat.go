// Package agents 提供具体智能体：意图识别、任务规划、数据抓取、
// 数据拆分、数据分析、报告生成与通用对话。
package agents

import (
	"context"
	"fmt"

	"github.com/zlzcms/fx-agent-sub000/internal/agent"
	"github.com/zlzcms/fx-agent-sub000/internal/llm"
	"github.com/zlzcms/fx-agent-sub000/pkg/logger"
)

// TruncateLimit 是完成播报输入的最大字符数。
const TruncateLimit = 100

// Truncate 截取前 n 个字符，超出部分以截取标记收尾。
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "...[截取]"
}

// ChatAgent 是通用对话智能体，兼任兜底回复与任务完成播报。
type ChatAgent struct {
	*agent.Base
	services []string
}

// NewChat 创建对话智能体。services 是提示词中列出的专项服务名。
func NewChat(client llm.Client, services []string, log *logger.Logger) *ChatAgent {
	return &ChatAgent{
		Base:     agent.NewBase("general_chat", client, log),
		services: services,
	}
}

func (a *ChatAgent) systemPrompt(override string) string {
	if override != "" {
		return override
	}
	list := ""
	for _, s := range a.services {
		list += fmt.Sprintf("【%s】服务\n", s)
	}
	return fmt.Sprintf(chatSystemPrompt, list)
}

// Execute 按 llm_response_type 以流式或一次性方式回答。
func (a *ChatAgent) Execute(ctx context.Context, in agent.Input) <-chan agent.Event {
	return a.Run(ctx, func(ctx context.Context, emit func(agent.Event) bool) error {
		mode, _ := in.Params["llm_response_type"].(string)
		override, _ := in.Params["system_prompt"].(string)
		prompt := a.systemPrompt(override)
		a.AddLog("组装提示词", prompt)

		var full string
		if mode == "invoke" {
			resp, err := a.Invoke(ctx, agent.BuildMessages(prompt, in.History, in.UserQuery),
				fmt.Sprintf("通用聊天【%s】", in.UserQuery))
			if err != nil {
				return err
			}
			full = resp.Content
			emit(agent.ChatEvent("", full))
		} else {
			var err error
			full, err = a.ChatStream(ctx, emit, in.UserQuery, prompt, in.History)
			if err != nil {
				return err
			}
		}
		a.AddLog("执行完成,输出数据", full)
		a.SetResult(map[string]interface{}{"data": full, "output": full})
		a.FinishWith("AI对话完成")
		return nil
	})
}

// Narrate 把任务结果转述为一段流式进展通知，输入先截断保护延迟。
func (a *ChatAgent) Narrate(ctx context.Context, emit func(agent.Event) bool, taskName, result string) error {
	query := fmt.Sprintf("任务【%s】已完成，结果：%s", taskName, Truncate(result, TruncateLimit))
	_, err := a.ChatStream(ctx, emit, query, narrationSystemPrompt, nil)
	return err
}

// NarrateError 用对话模型向用户解释一次失败。
func (a *ChatAgent) NarrateError(ctx context.Context, emit func(agent.Event) bool, userQuery, errorMessage string) error {
	prompt := fmt.Sprintf(errorSystemPrompt, errorMessage, userQuery)
	_, err := a.ChatStream(ctx, emit, userQuery, prompt, nil)
	return err
}
