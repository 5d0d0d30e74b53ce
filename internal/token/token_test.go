package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimate(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"ascii only", "hello", 5},
		{"han only", "你好", 3}, // 2 * 1.5
		{"mixed", "用户abc", 6}, // ceil(2*1.5) + 3
		{"single han rounds up", "好", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Estimate(tt.text))
		})
	}
}

func TestEstimateDeterministic(t *testing.T) {
	text := "账户余额 balance: 1024.50，近30日交易记录"
	first := Estimate(text)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, Estimate(text))
	}
}

func TestEstimateValue(t *testing.T) {
	assert.Equal(t, 0, EstimateValue(nil))
	assert.Equal(t, Estimate("abc"), EstimateValue("abc"))

	// 结构先序列化为 JSON 再估算，必然大于零
	payload := map[string]interface{}{"user_id": 108, "nickname": "张三"}
	assert.Greater(t, EstimateValue(payload), 0)
}

func TestCountFallsBackOrCounts(t *testing.T) {
	// 无论 tiktoken 是否可用，Count 都必须返回正数
	n := Count("hello world 你好")
	assert.Greater(t, n, 0)
}
