package agent

// 事件类型，对应输出流中 type 字段的取值。
const (
	TypeTitle         = "title"
	TypeStart         = "start"
	TypeExecute       = "execute"
	TypeResult        = "result"
	TypeChat          = "chat"
	TypeMdInfo        = "md_info"
	TypeInfo          = "info"
	TypeWarning       = "warning"
	TypeError         = "error"
	TypeCompleted     = "completed"
	TypeInterrupted   = "interrupted"
	TypePlan          = "plan"
	TypeSummarize     = "summarize"
	TypeFile          = "file"
	TypeFinal         = "final"
	TypeConfirmIntent = "confirm_intent_message"
	TypeStep          = "step"
)

// 事件执行状态。
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

// Event 是输出流的基本单元。Type 一定存在；TypeName 在 Type 为 step
// 时细分原始类型；其余字段按需填充。
type Event struct {
	Type       string                 `json:"type"`
	TypeName   string                 `json:"type_name,omitempty"`
	Status     string                 `json:"status,omitempty"`
	Name       string                 `json:"name,omitempty"`
	Message    string                 `json:"message,omitempty"`
	ChunkIndex int                    `json:"chunk_index,omitempty"`
	ChunkTotal int                    `json:"total_chunks,omitempty"`
	Data       interface{}            `json:"data,omitempty"`
	File       map[string]interface{} `json:"file,omitempty"`
	Result     interface{}            `json:"result,omitempty"`
	Output     interface{}            `json:"output,omitempty"`
}

// IsTerminal 判断事件是否为流的终止事件。
func (e Event) IsTerminal() bool {
	switch e.Type {
	case TypeCompleted, TypeError, TypeInterrupted:
		return true
	}
	return false
}

// ChatEvent 构造一条对话增量事件。
func ChatEvent(name, message string) Event {
	return Event{Type: TypeChat, Status: StatusRunning, Name: name, Message: message}
}

// InfoEvent 构造一条提示事件。
func InfoEvent(name, message string) Event {
	return Event{Type: TypeInfo, Status: StatusRunning, Name: name, Message: message}
}

// WarningEvent 构造一条警告事件。
func WarningEvent(name, message string) Event {
	return Event{Type: TypeWarning, Status: StatusRunning, Name: name, Message: message}
}

// ErrorEvent 构造终止性错误事件。
func ErrorEvent(name, message string) Event {
	return Event{Type: TypeError, Status: StatusFailed, Name: name, Message: message}
}

// CompletedEvent 构造终止性完成事件。
func CompletedEvent(name, message string, result interface{}) Event {
	return Event{Type: TypeCompleted, Status: StatusCompleted, Name: name, Message: message, Result: result}
}

// InterruptedEvent 构造终止性中断事件。
func InterruptedEvent(name, message string) Event {
	return Event{Type: TypeInterrupted, Status: StatusCanceled, Name: name, Message: message}
}

// ResultEvent 构造携带结构化结果的事件。
func ResultEvent(name string, result interface{}) Event {
	return Event{Type: TypeResult, Status: StatusRunning, Name: name, Result: result}
}

// FileEvent 构造携带文件信息的事件。
func FileEvent(name, message string, file map[string]interface{}) Event {
	return Event{Type: TypeFile, Status: StatusRunning, Name: name, Message: message, File: file}
}
