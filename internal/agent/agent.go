package agent

import (
	"context"
	stdErrors "errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "OpenMCP-EVM/internal/errors"
	"OpenMCP-EVM/internal/llm"
	"OpenMCP-EVM/pkg/logger"
)

// Observer 在每次动作执行结束后被调用，用于上报指标。
type Observer func(action string, success bool, elapsed time.Duration)

// Agent 是动作的宿主运行时：管理注册表、对话记忆与提示词上下文。
type Agent struct {
	name        string
	llmClient   llm.Client
	settings    Settings
	memoryDepth int
	timeout     time.Duration
	observer    Observer

	mu        sync.RWMutex
	actions   []Action
	index     map[string]int
	providers []Provider
	memory    map[string][]Message
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// defaultMemoryDepth 是组装上下文时保留的历史消息数量的默认值。
const defaultMemoryDepth = 10

// WithName 设置智能体在对话中的名字。
func WithName(name string) Option {
	return func(a *Agent) { a.name = name }
}

// WithMemoryDepth 设置组装上下文时保留的历史消息数量。
func WithMemoryDepth(depth int) Option {
	return func(a *Agent) { a.memoryDepth = depth }
}

// WithActionTimeout 限制单次动作执行（模型抽取加链上提交）的总时长。
func WithActionTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout < 0 {
			timeout = 0
		}
		a.timeout = timeout
	}
}

// WithObserver 注册动作执行结果的观察者。
func WithObserver(observer Observer) Option {
	return func(a *Agent) { a.observer = observer }
}

// New 创建一个 Agent。settings 为 nil 时所有设置项均为空。
func New(llmClient llm.Client, settings Settings, opts ...Option) *Agent {
	ag := &Agent{
		name:        "agent",
		llmClient:   llmClient,
		settings:    settings,
		memoryDepth: defaultMemoryDepth,
		index:       make(map[string]int),
		memory:      make(map[string][]Message),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	if ag.memoryDepth <= 0 {
		ag.memoryDepth = defaultMemoryDepth
	}
	return ag
}

// Setting 实现 Runtime。
func (a *Agent) Setting(key string) string {
	if a.settings == nil {
		return ""
	}
	return a.settings.Get(key)
}

// LLM 实现 Runtime。
func (a *Agent) LLM() llm.Client {
	return a.llmClient
}

// Register 注册动作，名称与别名不区分大小写且不能重复。
func (a *Agent) Register(actions ...Action) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, action := range actions {
		if strings.TrimSpace(action.Name) == "" || action.Handler == nil {
			return xerrors.New(xerrors.CodeInvalidArgument, "动作缺少名称或处理函数")
		}
		keys := append([]string{action.Name}, action.Similes...)
		for _, key := range keys {
			if _, exists := a.index[strings.ToLower(key)]; exists {
				return xerrors.New(xerrors.CodeConflict, fmt.Sprintf("动作名称 %s 已被注册", key))
			}
		}
		a.actions = append(a.actions, action)
		for _, key := range keys {
			a.index[strings.ToLower(key)] = len(a.actions) - 1
		}
	}
	return nil
}

// RegisterProvider 注册上下文提供者。
func (a *Agent) RegisterProvider(providers ...Provider) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.providers = append(a.providers, providers...)
}

// Actions 返回已注册动作的副本，按名称排序。
func (a *Agent) Actions() []Action {
	a.mu.RLock()
	out := append([]Action(nil), a.actions...)
	a.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Resolve 按显式名称或别名查找动作；未指定时在消息文本中匹配动作名称。
func (a *Agent) Resolve(msg *Message) (Action, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if name := strings.ToLower(strings.TrimSpace(msg.Action)); name != "" {
		idx, ok := a.index[name]
		if !ok {
			return Action{}, false
		}
		return a.actions[idx], true
	}

	text := strings.ToLower(msg.Text)
	for _, action := range a.actions {
		pattern := `\b` + regexp.QuoteMeta(strings.ToLower(action.Name)) + `\b`
		if matched, _ := regexp.MatchString(pattern, text); matched {
			return action, true
		}
	}
	return Action{}, false
}

// ComposeState 组装提示词上下文：最近消息、提供者输出与可用动作。
func (a *Agent) ComposeState(ctx context.Context, msg *Message) State {
	a.mu.RLock()
	recent := append([]Message(nil), a.memory[msg.UserID]...)
	providers := append([]Provider(nil), a.providers...)
	names := make([]string, 0, len(a.actions))
	for _, action := range a.actions {
		names = append(names, action.Name)
	}
	a.mu.RUnlock()

	state := State{
		"agentName":      a.name,
		"recentMessages": formatMessages(recent),
		"actionNames":    strings.Join(names, ", "),
	}

	var sections []string
	for _, p := range providers {
		text, err := p.Get(ctx, a, msg, state)
		if err != nil {
			logger.Named("agent").Warn("上下文提供者执行失败", "provider", p.Name(), "error", err)
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			sections = append(sections, text)
		}
	}
	state["providers"] = strings.Join(sections, "\n\n")
	return state
}

// Dispatch 解析并执行消息对应的动作。动作自身的失败体现在 Outcome.Success
// 与回调内容中；只有消息无效、动作不存在或校验不通过时返回错误。
func (a *Agent) Dispatch(ctx context.Context, msg Message, cb Callback) (*Outcome, error) {
	// 验证消息的合法性。
	if strings.TrimSpace(msg.Text) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "消息内容不能为空")
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	action, ok := a.Resolve(&msg)
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "未找到匹配的动作", xerrors.WithMetadata("action", msg.Action))
	}

	// 记录用户消息，再组装上下文，使本条消息出现在 recentMessages 中。
	a.remember(msg.UserID, msg)

	if action.Validate != nil && !action.Validate(ctx, a, &msg) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("动作 %s 校验未通过", action.Name))
	}

	runCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	state := a.ComposeState(runCtx, &msg)
	outcome := &Outcome{Action: action.Name}
	collect := func(cbCtx context.Context, resp Response) error {
		outcome.Responses = append(outcome.Responses, resp)
		a.remember(msg.UserID, Message{UserID: a.name, Text: resp.Text, CreatedAt: time.Now().UTC()})
		if cb != nil {
			return cb(cbCtx, resp)
		}
		return nil
	}

	started := time.Now()
	outcome.Success = action.Handler(runCtx, a, &msg, state, nil, collect)
	elapsed := time.Since(started)

	if a.observer != nil {
		a.observer(action.Name, outcome.Success, elapsed)
	}
	log := logger.Named("agent").With("action", action.Name, "message_id", msg.ID, "elapsed", elapsed)
	if outcome.Success {
		log.Info("动作执行成功")
	} else {
		log.Warn("动作执行失败", "reply", outcome.LastResponse().Text)
	}
	if stdErrors.Is(runCtx.Err(), context.DeadlineExceeded) && !outcome.Success {
		return outcome, xerrors.Wrap(xerrors.CodeTimeout, runCtx.Err(), "动作执行超时")
	}
	return outcome, nil
}

// remember 把消息追加到 conversation 的记忆中并按 memoryDepth 截断。
func (a *Agent) remember(conversation string, msg Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	history := append(a.memory[conversation], msg)
	if len(history) > a.memoryDepth {
		history = history[len(history)-a.memoryDepth:]
	}
	a.memory[conversation] = history
}
