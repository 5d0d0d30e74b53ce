package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zlzcms/fx-agent-sub000/internal/config"
	"github.com/zlzcms/fx-agent-sub000/internal/errs"
	"github.com/zlzcms/fx-agent-sub000/pkg/circuitbreaker"
)

// Breaker 给 LLM 客户端加一层熔断：上游连续失败后快速拒绝，
// 避免每个请求都等到超时。
type Breaker struct {
	inner Client
	cb    circuitbreaker.CircuitBreaker
}

// WithBreaker 按配置包装客户端，未启用时原样返回。
func WithBreaker(inner Client, cfg config.BreakerConfig) Client {
	if !cfg.Enabled {
		return inner
	}
	failure := cfg.FailureThreshold
	if failure == 0 {
		failure = 5
	}
	success := cfg.SuccessThreshold
	if success == 0 {
		success = 2
	}
	openSeconds := cfg.OpenSeconds
	if openSeconds <= 0 {
		openSeconds = 30
	}
	return &Breaker{
		inner: inner,
		cb:    circuitbreaker.New(failure, success, time.Duration(openSeconds)*time.Second),
	}
}

// GenerateContent 经熔断器发起同步补全。
func (b *Breaker) GenerateContent(ctx context.Context, messages []Message) (*Response, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.GenerateContent(ctx, messages)
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			return nil, fmt.Errorf("%w: 模型服务暂时不可用", errs.ErrUpstream)
		}
		return nil, err
	}
	return out.(*Response), nil
}

// GenerateContentStream 只对建流调用做熔断统计，流内错误不计入。
func (b *Breaker) GenerateContentStream(ctx context.Context, messages []Message) (<-chan *Response, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.GenerateContentStream(ctx, messages)
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			return nil, fmt.Errorf("%w: 模型服务暂时不可用", errs.ErrUpstream)
		}
		return nil, err
	}
	return out.(<-chan *Response), nil
}
