package scheduler

import (
	"context"

	kafkago "github.com/segmentio/kafka-go"
)

// KafkaReader 把 kafka-go 消费者适配为 MessageReader。
type KafkaReader struct {
	reader *kafkago.Reader
}

// NewKafkaReader 包装一个已创建的消费者。
func NewKafkaReader(reader *kafkago.Reader) *KafkaReader {
	return &KafkaReader{reader: reader}
}

// FetchMessage 拉取一条消息，返回负载与确认回调。
func (k *KafkaReader) FetchMessage(ctx context.Context) ([]byte, func(context.Context) error, error) {
	msg, err := k.reader.FetchMessage(ctx)
	if err != nil {
		return nil, nil, err
	}
	commit := func(ctx context.Context) error {
		return k.reader.CommitMessages(ctx, msg)
	}
	return msg.Value, commit, nil
}

// Close 关闭底层消费者。
func (k *KafkaReader) Close() error {
	return k.reader.Close()
}
