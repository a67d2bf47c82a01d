package agent

import (
	"context"
	"time"

	"OpenMCP-EVM/internal/llm"
)

// Message 是进入运行时的一条对话消息。
type Message struct {
	ID     string `json:"id,omitempty"`
	UserID string `json:"user_id,omitempty"`
	Text   string `json:"text"`
	// Action 显式指定要执行的动作名称或别名，为空时按关键字推断。
	Action    string    `json:"action,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// State 是组装提示词时使用的上下文键值。
type State map[string]any

// Response 是动作通过回调发给用户的消息。
type Response struct {
	Text    string         `json:"text"`
	Content map[string]any `json:"content,omitempty"`
}

// Callback 接收动作产生的回复，可以为 nil。
type Callback func(ctx context.Context, resp Response) error

// Example 是动作示例对话中的一条发言。
type Example struct {
	User   string `json:"user"`
	Text   string `json:"text"`
	Action string `json:"action,omitempty"`
}

// Settings 提供按名称读取的配置项。
type Settings interface {
	Get(key string) string
}

// Runtime 是动作在执行期间可以访问的宿主能力。
type Runtime interface {
	Setting(key string) string
	LLM() llm.Client
}

// ValidateFunc 判断动作在当前运行时下是否可用。
type ValidateFunc func(ctx context.Context, rt Runtime, msg *Message) bool

// HandlerFunc 执行动作。返回值表示是否成功，错误只通过回调报告。
type HandlerFunc func(ctx context.Context, rt Runtime, msg *Message, state State, opts map[string]any, cb Callback) bool

// Action 是插件向运行时注册的动作描述。
type Action struct {
	Name        string
	Similes     []string
	Description string
	Template    string
	Examples    [][]Example
	Validate    ValidateFunc
	Handler     HandlerFunc
}

// Provider 为提示词提供额外上下文，例如钱包余额。
type Provider interface {
	Name() string
	Get(ctx context.Context, rt Runtime, msg *Message, state State) (string, error)
}

// Outcome 汇总一次动作分发的结果。
type Outcome struct {
	Action    string     `json:"action"`
	Success   bool       `json:"success"`
	Responses []Response `json:"responses,omitempty"`
}

// LastResponse 返回最后一条回复，没有回复时返回零值。
func (o *Outcome) LastResponse() Response {
	if o == nil || len(o.Responses) == 0 {
		return Response{}
	}
	return o.Responses[len(o.Responses)-1]
}
