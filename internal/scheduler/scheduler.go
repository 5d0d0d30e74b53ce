// Package scheduler 消费定时任务描述符，以系统身份运行报告流水线，
// 落库报告记录并发布完成通知。
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/zlzcms/fx-agent-sub000/internal/agent"
	"github.com/zlzcms/fx-agent-sub000/internal/models"
	"github.com/zlzcms/fx-agent-sub000/internal/orchestrator"
	"github.com/zlzcms/fx-agent-sub000/pkg/logger"
)

// Setting 是订阅配置，决定查什么、查多久、产出给谁。
type Setting struct {
	Title        string                 `json:"title"`
	UserQuery    string                 `json:"user_query"`
	QueryTypes   []string               `json:"query_types"`
	DataSources  map[string]interface{} `json:"data_sources"`
	Recipients   []string               `json:"recipients"`
	ResultFormat string                 `json:"result_format"`
	CRMUserID    int64                  `json:"crm_user_id"`
	// TimeoutSeconds 是单次任务的墙钟上限，非正时取 300。
	TimeoutSeconds int `json:"timeout_seconds"`
}

// Descriptor 是调度主题上的任务描述符。
type Descriptor struct {
	AssistantID    int64   `json:"assistant_id"`
	SubscriptionID int64   `json:"subscription_id,omitempty"`
	Setting        Setting `json:"setting"`
}

// Notification 是报告完成后发往通知主题的消息。
type Notification struct {
	ReportID       int64    `json:"report_id"`
	Recipients     []string `json:"recipients"`
	ContentSummary string   `json:"content_summary"`
}

// ReportRunner 运行报告流水线。由编排器实现。
type ReportRunner interface {
	RunReport(ctx context.Context, req orchestrator.Request, dataSources map[string]interface{}) <-chan agent.Event
}

// Publisher 发布完成通知。由 Kafka 客户端实现。
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// MessageReader 拉取并确认任务描述符消息。
type MessageReader interface {
	FetchMessage(ctx context.Context) ([]byte, func(context.Context) error, error)
}

// Options 是调度器的装配参数。
type Options struct {
	Runner      ReportRunner
	DB          *gorm.DB
	Publisher   Publisher
	NotifyTopic string
	// SystemUserID 是描述符未指定执行身份时的默认 crm_user_id。
	SystemUserID int64
	Log          *logger.Logger
}

// Scheduler 逐条处理任务描述符。
type Scheduler struct {
	runner      ReportRunner
	db          *gorm.DB
	publisher   Publisher
	notifyTopic string
	systemUser  int64
	log         *logger.Logger
}

// New 创建调度器。
func New(opts Options) *Scheduler {
	return &Scheduler{
		runner:      opts.Runner,
		db:          opts.DB,
		publisher:   opts.Publisher,
		notifyTopic: opts.NotifyTopic,
		systemUser:  opts.SystemUserID,
		log:         opts.Log,
	}
}

// Run 持续消费描述符直到上下文结束。单条消息的失败只记日志，
// 不中断消费循环。
func (s *Scheduler) Run(ctx context.Context, reader MessageReader) error {
	for {
		payload, commit, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if s.log != nil {
				s.log.Errorf("拉取任务描述符失败: %v", err)
			}
			continue
		}
		if err := s.Handle(ctx, payload); err != nil && s.log != nil {
			s.log.Errorf("处理任务描述符失败: %v", err)
		}
		if commit != nil {
			if err := commit(ctx); err != nil && s.log != nil {
				s.log.Errorf("确认消息失败: %v", err)
			}
		}
	}
}

// buildQuery 根据订阅配置合成用户问题。
func buildQuery(setting Setting) string {
	if setting.UserQuery != "" {
		return setting.UserQuery
	}
	title := setting.Title
	if title == "" {
		title = "订阅数据"
	}
	return fmt.Sprintf("请根据最新数据生成《%s》分析报告", title)
}

// Handle 处理一条任务描述符：运行报告流水线、落库并通知。
func (s *Scheduler) Handle(ctx context.Context, payload []byte) error {
	var desc Descriptor
	if err := json.Unmarshal(payload, &desc); err != nil {
		return fmt.Errorf("任务描述符解析失败: %w", err)
	}
	if desc.AssistantID == 0 {
		return fmt.Errorf("任务描述符缺少 assistant_id")
	}

	timeout := time.Duration(desc.Setting.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	crmUserID := desc.Setting.CRMUserID
	if crmUserID == 0 {
		crmUserID = s.systemUser
	}
	taskID := uuid.NewString()
	userQuery := buildQuery(desc.Setting)
	if s.log != nil {
		s.log.WithField("assistant_id", desc.AssistantID).WithField("task_id", taskID).
			Infof("开始定时报告: %s", userQuery)
	}

	req := orchestrator.Request{
		UserQuery:    userQuery,
		Action:       "agent",
		CRMUserID:    crmUserID,
		ResultFormat: desc.Setting.ResultFormat,
		QueryTypes:   desc.Setting.QueryTypes,
		TaskID:       taskID,
	}
	dataSources := desc.Setting.DataSources
	if len(dataSources) == 0 {
		dataSources = map[string]interface{}{"get_user": map[string]interface{}{}}
	}

	outcome := s.collect(runCtx, s.runner.RunReport(runCtx, req, dataSources))
	record := s.buildRecord(desc, taskID, userQuery, outcome)
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("写入报告记录失败: %w", err)
	}

	if record.Status == models.ReportStatusSuccess && s.publisher != nil {
		note := Notification{
			ReportID:       record.ID,
			Recipients:     desc.Setting.Recipients,
			ContentSummary: summary(outcome.content, 200),
		}
		data, err := json.Marshal(note)
		if err != nil {
			return fmt.Errorf("通知序列化失败: %w", err)
		}
		key := []byte(strconv.FormatInt(desc.AssistantID, 10))
		if err := s.publisher.Publish(ctx, s.notifyTopic, key, data); err != nil {
			return fmt.Errorf("发布完成通知失败: %w", err)
		}
	}
	return nil
}

// runOutcome 是一次流水线执行的汇总。
type runOutcome struct {
	terminal agent.Event
	content  string
	files    []map[string]interface{}
}

// collect 消费事件流并提取报告内容与产物文件。
func (s *Scheduler) collect(ctx context.Context, ch <-chan agent.Event) runOutcome {
	var out runOutcome
	for ev := range ch {
		switch {
		case ev.IsTerminal():
			out.terminal = ev
		case ev.File != nil:
			out.files = append(out.files, ev.File)
		}
		if ev.TypeName == agent.TypeResult {
			if result, ok := ev.Result.(map[string]interface{}); ok {
				if report, _ := result["report"].(string); report != "" {
					out.content = report
				}
			}
		}
	}
	if out.terminal.Type == "" && ctx.Err() != nil {
		out.terminal = agent.ErrorEvent("scheduler", "任务超出墙钟上限")
	}
	return out
}

func (s *Scheduler) buildRecord(desc Descriptor, taskID, userQuery string, outcome runOutcome) *models.ReportRecord {
	now := time.Now()
	record := &models.ReportRecord{
		AssistantID:    desc.AssistantID,
		SubscriptionID: desc.SubscriptionID,
		TaskID:         taskID,
		Title:          desc.Setting.Title,
		UserQuery:      userQuery,
		CreatedAt:      now,
	}
	if outcome.terminal.Type == agent.TypeCompleted {
		record.Status = models.ReportStatusSuccess
		record.Content = outcome.content
		record.Summary = summary(outcome.content, 200)
		record.CompletedAt = &now
	} else {
		record.Status = models.ReportStatusFailed
		record.ErrorMessage = outcome.terminal.Message
	}
	if len(outcome.files) > 0 {
		if data, err := json.Marshal(outcome.files); err == nil {
			record.Files = datatypes.JSON(data)
		}
	}
	return record
}

// summary 取内容前 n 个字符作为摘要。
func summary(content string, n int) string {
	runes := []rune(content)
	if len(runes) <= n {
		return content
	}
	return string(runes[:n]) + "..."
}
