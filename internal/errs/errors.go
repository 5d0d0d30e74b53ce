// Package errs 定义引擎各边界共用的错误类别。
// 边界代码用 errors.Is 判定类别，再决定对外的事件形态。
package errs

import "errors"

var (
	// ErrAuthScope 表示调用者缺失或请求了越权的数据主体。
	ErrAuthScope = errors.New("auth scope error")

	// ErrPlan 表示 LLM 产出的计划无法解析或不符合模式。
	ErrPlan = errors.New("plan error")

	// ErrDependency 表示工作流构建期的依赖错误（环或未知依赖）。
	ErrDependency = errors.New("dependency error")

	// ErrExecution 表示智能体执行期抛出的错误。
	ErrExecution = errors.New("execution error")

	// ErrUpstream 表示 LLM 或数据仓库等上游故障。
	ErrUpstream = errors.New("upstream error")

	// ErrCancelled 表示协作式取消信号。
	ErrCancelled = errors.New("任务已被用户取消")

	// ErrValidation 表示非法输入（如 limit=0）。
	ErrValidation = errors.New("validation error")

	// ErrTimeout 表示超出墙钟上限。
	ErrTimeout = errors.New("timeout error")
)
