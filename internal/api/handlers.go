package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/zlzcms/fx-agent-sub000/internal/agent"
	"github.com/zlzcms/fx-agent-sub000/internal/llm"
	"github.com/zlzcms/fx-agent-sub000/internal/orchestrator"
	"github.com/zlzcms/fx-agent-sub000/pkg/logger"
)

// Handler 汇集编排入口的 HTTP 处理函数。
type Handler struct {
	orch    *orchestrator.Orchestrator
	cancels *CancelStore
	log     *logger.Logger
}

// NewHandler 创建处理器。
func NewHandler(orch *orchestrator.Orchestrator, cancels *CancelStore, log *logger.Logger) *Handler {
	return &Handler{orch: orch, cancels: cancels, log: log}
}

type historyMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type streamRequest struct {
	UserQuery    string           `json:"user_query" binding:"required"`
	History      []historyMessage `json:"history"`
	Action       string           `json:"action"`
	ResultFormat string           `json:"result_format"`
	TaskID       string           `json:"task_id"`
}

type cancelRequest struct {
	TaskID string `json:"task_id" binding:"required"`
}

func toHistory(msgs []historyMessage) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		role := llm.Role(m.Role)
		switch role {
		case llm.RoleSystem, llm.RoleUser, llm.RoleAssistant:
		default:
			role = llm.RoleUser
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return out
}

// Stream 以 SSE 输出一次编排的事件流。首帧带 task_id，
// 供客户端后续发起取消。
func (h *Handler) Stream(c *gin.Context) {
	var req streamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "参数无效: " + err.Error()})
		return
	}
	crmUserID, ok := callerID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "未认证的请求"})
		return
	}
	if req.Action == "" {
		req.Action = "auto"
	}
	taskID := req.TaskID
	if taskID == "" {
		taskID = uuid.NewString()
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	flusher, canFlush := c.Writer.(http.Flusher)

	writeEvent := func(ev agent.Event) {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", data)
		if canFlush {
			flusher.Flush()
		}
	}

	writeEvent(agent.Event{
		Type:   agent.TypeInfo,
		Status: agent.StatusRunning,
		Name:   "orchestrator",
		Data:   map[string]interface{}{"task_id": taskID},
	})

	var probe agent.Probe
	if h.cancels != nil {
		probe = h.cancels.Probe(taskID)
	}
	events := h.orch.AutoOrchestrate(c.Request.Context(), orchestrator.Request{
		UserQuery:    req.UserQuery,
		History:      toHistory(req.History),
		Action:       req.Action,
		CRMUserID:    crmUserID,
		ResultFormat: req.ResultFormat,
		TaskID:       taskID,
		Probe:        probe,
	})
	for ev := range events {
		writeEvent(ev)
	}
}

// Cancel 标记任务请求取消，正在执行的流会以 interrupted 收尾。
func (h *Handler) Cancel(c *gin.Context) {
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "参数无效: " + err.Error()})
		return
	}
	if h.cancels == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "取消功能未启用"})
		return
	}
	if err := h.cancels.RequestCancel(c.Request.Context(), req.TaskID); err != nil {
		if h.log != nil {
			h.log.Errorf("写入取消标记失败: %v", err)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "取消请求失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "已请求取消", "task_id": req.TaskID})
}

// Health 返回服务存活状态。
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
