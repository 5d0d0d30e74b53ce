package agents

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// stripCodeFence 去掉 LLM 常见的 ```json 代码围栏。
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

// parseJSONObject 解析 LLM 返回的 JSON 对象，必要时先修复再解析。
func parseJSONObject(content string) (map[string]interface{}, error) {
	text := stripCodeFence(content)
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(text), &out); err == nil {
		return out, nil
	}
	repaired, err := jsonrepair.JSONRepair(text)
	if err != nil {
		return nil, fmt.Errorf("JSON 修复失败: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &out); err != nil {
		return nil, fmt.Errorf("JSON 解析失败: %w", err)
	}
	return out, nil
}

// decodeInto 将 map 重新编码到目标结构体。
func decodeInto(m map[string]interface{}, v interface{}) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// toMap 将结构体转换为 map，便于做结果的点路径取值。
func toMap(v interface{}) map[string]interface{} {
	data, err := json.Marshal(v)
	if err != nil {
		return map[string]interface{}{}
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]interface{}{}
	}
	return out
}
