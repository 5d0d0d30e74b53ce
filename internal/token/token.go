// Package token 是所有体积决策的唯一依据：分块、分段打包和提示词预算
// 都通过这里估算 token 数。
package token

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	once     sync.Once
	encoding *tiktoken.Tiktoken
)

func initEncoding() {
	once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
}

// Estimate 返回中英混合文本的启发式 token 估计。
// 中日韩统一表意文字按 1.5 个 token 计，其余字符按 1 个计，向上取整。
// 估算是确定性的且无额外分配，分块循环中会被高频调用。
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	var han, other int
	for _, r := range text {
		if r >= 0x4E00 && r <= 0x9FFF {
			han++
		} else {
			other++
		}
	}
	return int(math.Ceil(float64(han)*1.5)) + other
}

// EstimateValue 先将结构序列化为 JSON 再估算。
// 字符串直接估算，序列化失败时退化为 fmt 表示。
func EstimateValue(value interface{}) int {
	switch v := value.(type) {
	case nil:
		return 0
	case string:
		return Estimate(v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return Estimate(fmt.Sprintf("%v", v))
		}
		return Estimate(string(raw))
	}
}

// Count 使用 cl100k_base 编码返回精确 token 数。
// 编码初始化失败时回退到 Estimate。
func Count(text string) int {
	initEncoding()
	if encoding != nil {
		return len(encoding.Encode(text, nil, nil))
	}
	return Estimate(text)
}
