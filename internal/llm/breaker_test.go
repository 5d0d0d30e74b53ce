package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zlzcms/fx-agent-sub000/internal/config"
	"github.com/zlzcms/fx-agent-sub000/internal/errs"
)

type flakyClient struct {
	err   error
	calls int
}

func (f *flakyClient) GenerateContent(ctx context.Context, messages []Message) (*Response, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &Response{Content: "ok"}, nil
}

func (f *flakyClient) GenerateContentStream(ctx context.Context, messages []Message) (<-chan *Response, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(chan *Response)
	close(out)
	return out, nil
}

func TestWithBreakerDisabledReturnsInner(t *testing.T) {
	inner := &flakyClient{}
	client := WithBreaker(inner, config.BreakerConfig{})
	assert.Same(t, Client(inner), client)
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	inner := &flakyClient{err: errors.New("上游超时")}
	client := WithBreaker(inner, config.BreakerConfig{
		Enabled:          true,
		FailureThreshold: 2,
		SuccessThreshold: 1,
		OpenSeconds:      60,
	})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := client.GenerateContent(ctx, nil)
		require.Error(t, err)
		assert.False(t, errors.Is(err, errs.ErrUpstream))
	}

	// 熔断后不再触达上游
	before := inner.calls
	_, err := client.GenerateContent(ctx, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrUpstream))
	assert.Equal(t, before, inner.calls)
}

func TestBreakerPassesThroughSuccess(t *testing.T) {
	inner := &flakyClient{}
	client := WithBreaker(inner, config.BreakerConfig{Enabled: true})
	resp, err := client.GenerateContent(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
}
