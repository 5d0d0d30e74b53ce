package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/zlzcms/fx-agent-sub000/internal/engine"
)

const ExecutionLogTopic = "workflow_execution_logs"

// ExecutionLogPublisher 把工作流执行日志发送到 Kafka，
// 供下游审计和报表系统消费。实现 engine.Archiver。
type ExecutionLogPublisher struct {
	writer *kafka.Writer
}

// NewExecutionLogPublisher 创建一个新的 ExecutionLogPublisher 实例。
func NewExecutionLogPublisher(client *KafkaClient) *ExecutionLogPublisher {
	// 为日志主题创建一个新的 writer 实例配置
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      client.Config.Brokers,
		Topic:        ExecutionLogTopic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
	})
	return &ExecutionLogPublisher{writer: writer}
}

// SaveExecutionLog 将执行日志序列化为 JSON 并发送到 Kafka。
func (p *ExecutionLogPublisher) SaveExecutionLog(ctx context.Context, rec *engine.ExecutionRecord) error {
	jsonData, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal execution record: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(rec.WorkflowID),
		Value: jsonData,
	})
	if err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}
	return nil
}

// Close 关闭底层的 writer 连接。
func (p *ExecutionLogPublisher) Close() error {
	return p.writer.Close()
}
